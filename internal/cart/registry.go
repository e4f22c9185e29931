package cart

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

const (
	// DefaultIdleTimeout matches the lifetime of the session cookie.
	DefaultIdleTimeout = 30 * 24 * time.Hour

	// Empty carts hold nothing worth keeping; they only survive long enough
	// for the request that created them to finish.
	defaultEmptyIdleTimeout = 10 * time.Minute
)

type RegistryOption func(*Registry)

// WithIdleTimeout sets how long a cart may go unused before Sweep drops it.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idle = d }
}

// WithInUse lets Sweep skip carts that are busy elsewhere, such as carts
// with a checkout in flight.
func WithInUse(inUse func(*Manager) bool) RegistryOption {
	return func(r *Registry) { r.inUse = inUse }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

type entry struct {
	manager  *Manager
	lastUsed atomic.Int64
	items    atomic.Int64
}

// Registry hands out one Manager per session. Carts are kept in memory only
// and dropped once idle.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*entry
	logger   *slog.Logger

	idle      time.Duration
	emptyIdle time.Duration
	inUse     func(*Manager) bool
	now       func() time.Time

	active metric.Int64UpDownCounter
	items  metric.Int64UpDownCounter
}

func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		managers:  make(map[string]*entry),
		logger:    logger,
		idle:      DefaultIdleTimeout,
		emptyIdle: defaultEmptyIdleTimeout,
		inUse:     func(*Manager) bool { return false },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emptyIdle > r.idle {
		r.emptyIdle = r.idle
	}
	r.initMetrics()
	return r
}

func (r *Registry) initMetrics() {
	meter := otel.Meter("cart")

	active, err := meter.Int64UpDownCounter("cart.active",
		metric.WithDescription("Carts held in memory"),
	)
	if err != nil {
		r.logger.Warn("cart metrics disabled", "error", err)
		active, _ = noop.Meter{}.Int64UpDownCounter("cart.active")
	}

	items, err := meter.Int64UpDownCounter("cart.items",
		metric.WithDescription("Units across all carts held in memory"),
	)
	if err != nil {
		r.logger.Warn("cart metrics disabled", "error", err)
		items, _ = noop.Meter{}.Int64UpDownCounter("cart.items")
	}

	r.active = active
	r.items = items
}

// Get returns the session's cart, creating it on first use.
func (r *Registry) Get(sessionID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.managers[sessionID]; ok {
		r.touch(e)
		return e.manager
	}

	e := &entry{manager: NewManager()}
	r.touch(e)
	r.managers[sessionID] = e
	r.active.Add(context.Background(), 1)
	e.manager.Subscribe(r.observe(e))
	r.logger.Debug("cart created", "session_id", sessionID)
	return e.manager
}

// Peek returns the session's cart without creating one.
func (r *Registry) Peek(sessionID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.managers[sessionID]
	if !ok {
		return nil, false
	}
	r.touch(e)
	return e.manager, true
}

// observe keeps the item gauge and the idle clock in step with the cart. It
// runs under the Manager's lock, so it must not take r.mu.
func (r *Registry) observe(e *entry) Observer {
	return func(snap domain.CartSnapshot) {
		n := int64(snap.ItemCount())
		if delta := n - e.items.Swap(n); delta != 0 {
			r.items.Add(context.Background(), delta)
		}
		r.touch(e)
	}
}

func (r *Registry) touch(e *entry) {
	e.lastUsed.Store(r.now().UnixNano())
}

func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.managers[sessionID]; ok {
		r.dropLocked(sessionID, e)
	}
}

func (r *Registry) dropLocked(sessionID string, e *entry) {
	delete(r.managers, sessionID)
	r.active.Add(context.Background(), -1)
	if n := e.items.Swap(0); n != 0 {
		r.items.Add(context.Background(), -n)
	}
}

// Sweep drops carts idle past the idle timeout, and empty carts idle past a
// much shorter one. Carts reported in use are kept. It returns the number dropped.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for sessionID, e := range r.managers {
		idle := now.Sub(time.Unix(0, e.lastUsed.Load()))
		limit := r.idle
		if e.items.Load() == 0 {
			limit = r.emptyIdle
		}
		if idle < limit || r.inUse(e.manager) {
			continue
		}
		r.dropLocked(sessionID, e)
		dropped++
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("idle carts dropped", "count", n, "remaining", r.Len())
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
