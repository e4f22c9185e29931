// Package checkout turns a cart into a confirmed or failed payment and a receipt.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/payment"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
)

var tracer = otel.Tracer("checkout")

const DefaultStageTimeout = 30 * time.Second

type PaymentProcessor interface {
	CreateAuthorization(ctx context.Context, amountMinor int64, idempotencyKey string) (string, error)
	Confirm(ctx context.Context, clientSecret string, method domain.PaymentMethod, cardholderName string) (*payment.Confirmation, error)
}

// Cart is the part of the cart manager checkout needs.
type Cart interface {
	Snapshot() domain.CartSnapshot
	Settle(paid domain.CartSnapshot) domain.CartSnapshot
}

type Request struct {
	SessionID      string
	CardholderName string
	PaymentMethod  domain.PaymentMethod
	// IdempotencyKey identifies a user-initiated attempt. A new key is generated when empty.
	IdempotencyKey string
}

type Result struct {
	State       State                 `json:"state"`
	Transitions []State               `json:"transitions"`
	Attempt     domain.PaymentAttempt `json:"attempt"`
	Receipt     *domain.Receipt       `json:"receipt"`
	Cart        domain.CartSnapshot   `json:"cart"`
	// ReturnToCatalog tells the caller to navigate back to the catalog.
	ReturnToCatalog bool  `json:"return_to_catalog"`
	Err             error `json:"-"`
}

// Message is the human-readable outcome.
func (r *Result) Message() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return "Your payment has been confirmed!"
}

type Option func(*Processor)

func WithStageTimeout(d time.Duration) Option {
	return func(p *Processor) { p.stageTimeout = d }
}

func WithCurrency(currency string) Option {
	return func(p *Processor) { p.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

type Processor struct {
	payments     PaymentProcessor
	sink         receipt.Sink
	logger       *slog.Logger
	metrics      *metrics
	stageTimeout time.Duration
	currency     string
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[Cart]struct{}
}

func NewProcessor(payments PaymentProcessor, sink receipt.Sink, logger *slog.Logger, opts ...Option) (*Processor, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	p := &Processor{
		payments:     payments,
		sink:         sink,
		logger:       logger,
		metrics:      m,
		stageTimeout: DefaultStageTimeout,
		currency:     "usd",
		now:          time.Now,
		inFlight:     make(map[Cart]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Checkout runs one attempt against c. Validation problems return a
// *ValidationError, a concurrent attempt on the same cart returns
// ErrCheckoutInProgress and caller cancellation before confirmation returns
// ErrAbandoned; none of these touch the cart or emit a receipt. Every other
// outcome is reported through the Result, which always carries a receipt.
func (p *Processor) Checkout(ctx context.Context, c Cart, req Request) (*Result, error) {
	if !p.acquire(c) {
		return nil, ErrCheckoutInProgress
	}
	defer p.release(c)

	ctx, span := tracer.Start(ctx, "checkout")
	defer span.End()

	run := &attemptRun{state: StateIdle, logger: p.logger.With("session_id", req.SessionID)}
	run.transition(StateValidating)

	snap := c.Snapshot()
	name := strings.TrimSpace(req.CardholderName)
	if err := validate(name, req.PaymentMethod, snap); err != nil {
		run.transition(StateIdle)
		p.metrics.recordOutcome(ctx, "invalid")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	attempt := domain.PaymentAttempt{
		IdempotencyKey:   key,
		CardholderName:   name,
		AmountMinorUnits: snap.AmountMinorUnits(),
		Currency:         p.currency,
		Status:           domain.PaymentStatusPending,
	}
	span.SetAttributes(
		attribute.String("checkout.idempotency_key", key),
		attribute.Int64("checkout.amount_minor", attempt.AmountMinorUnits),
	)

	if ctx.Err() != nil {
		return nil, p.abandon(ctx, run)
	}

	run.transition(StateAuthorizationRequested)
	secret, err := p.authorize(ctx, attempt)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, errStageTimeout) {
			return nil, p.abandon(ctx, run)
		}
		return p.fail(ctx, span, run, req.SessionID, snap, attempt, &AuthorizationError{
			Err:     err,
			Timeout: errors.Is(err, errStageTimeout),
		}), nil
	}
	attempt.ClientSecret = secret

	if ctx.Err() != nil {
		return nil, p.abandon(ctx, run)
	}

	// Past this point the attempt is not cancellable by the caller.
	ctx = context.WithoutCancel(ctx)
	run.transition(StateConfirming)

	conf, err := p.confirm(ctx, secret, req.PaymentMethod, name)
	if err != nil {
		return p.fail(ctx, span, run, req.SessionID, snap, attempt, &ConfirmationError{
			Err:     err,
			Timeout: errors.Is(err, errStageTimeout),
		}), nil
	}
	attempt.Reference = conf.Reference
	if conf.Status != domain.PaymentStatusSucceeded {
		msg := conf.Message
		if msg == "" {
			msg = "payment was declined"
		}
		return p.fail(ctx, span, run, req.SessionID, snap, attempt, &ConfirmationError{
			Err:      errors.New(msg),
			Declined: true,
		}), nil
	}

	attempt.Status = domain.PaymentStatusSucceeded
	run.transition(StateSucceeded)

	rc := receipt.Build(req.SessionID, snap, attempt, p.now())
	p.emit(ctx, rc)
	after := c.Settle(snap)

	p.metrics.recordOutcome(ctx, string(domain.PaymentStatusSucceeded))
	p.metrics.recordAmount(ctx, attempt.AmountMinorUnits)
	run.logger.Info("checkout succeeded", "receipt_id", rc.ID, "amount_minor", attempt.AmountMinorUnits, "reference", attempt.Reference)

	return &Result{
		State:           run.state,
		Transitions:     run.history,
		Attempt:         attempt,
		Receipt:         rc,
		Cart:            after,
		ReturnToCatalog: true,
	}, nil
}

// IsRunning reports whether an attempt is in flight for c.
func (p *Processor) IsRunning(c Cart) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[c]
	return ok
}

var errStageTimeout = errors.New("stage timed out")

func (p *Processor) authorize(ctx context.Context, attempt domain.PaymentAttempt) (string, error) {
	ctx, span := tracer.Start(ctx, "checkout.authorize", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	secret, err := p.payments.CreateAuthorization(stageCtx, attempt.AmountMinorUnits, attempt.IdempotencyKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", stageError(ctx, stageCtx, err)
	}
	return secret, nil
}

func (p *Processor) confirm(ctx context.Context, secret string, method domain.PaymentMethod, name string) (*payment.Confirmation, error) {
	ctx, span := tracer.Start(ctx, "checkout.confirm", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	conf, err := p.payments.Confirm(stageCtx, secret, method, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, stageError(ctx, stageCtx, err)
	}
	return conf, nil
}

// stageError tags errors caused by the stage deadline, as opposed to the caller's context.
func stageError(parent, stage context.Context, err error) error {
	if parent.Err() == nil && errors.Is(stage.Err(), context.DeadlineExceeded) {
		return errors.Join(errStageTimeout, err)
	}
	return err
}

func (p *Processor) fail(ctx context.Context, span trace.Span, run *attemptRun, sessionID string, snap domain.CartSnapshot, attempt domain.PaymentAttempt, cause error) *Result {
	attempt.Status = domain.PaymentStatusFailed
	attempt.FailureReason = cause.Error()
	run.transition(StateFailed)

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	rc := receipt.Build(sessionID, snap, attempt, p.now())
	p.emit(context.WithoutCancel(ctx), rc)

	p.metrics.recordOutcome(ctx, string(domain.PaymentStatusFailed))
	run.logger.Warn("checkout failed", "receipt_id", rc.ID, "reason", attempt.FailureReason, "idempotency_key", attempt.IdempotencyKey)

	return &Result{
		State:       run.state,
		Transitions: run.history,
		Attempt:     attempt,
		Receipt:     rc,
		Cart:        snap,
		Err:         cause,
	}
}

func (p *Processor) abandon(ctx context.Context, run *attemptRun) error {
	run.transition(StateIdle)
	p.metrics.recordOutcome(context.WithoutCancel(ctx), "abandoned")
	run.logger.Info("checkout abandoned", "state", run.history[len(run.history)-2])
	return ErrAbandoned
}

func (p *Processor) emit(ctx context.Context, rc *domain.Receipt) {
	if p.sink == nil {
		return
	}
	emitCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	if err := p.sink.Emit(emitCtx, rc); err != nil {
		p.logger.Error("failed to emit receipt", "error", err, "receipt_id", rc.ID, "status", rc.Status)
	}
}

func (p *Processor) acquire(c Cart) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[c]; ok {
		return false
	}
	p.inFlight[c] = struct{}{}
	return true
}

func (p *Processor) release(c Cart) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, c)
}

func validate(name string, method domain.PaymentMethod, snap domain.CartSnapshot) error {
	if snap.IsEmpty() {
		return &ValidationError{Err: ErrEmptyCart}
	}
	if name == "" {
		return &ValidationError{Err: ErrMissingName}
	}
	if !method.Complete || strings.TrimSpace(method.Token) == "" {
		return &ValidationError{Err: ErrIncompletePayment}
	}
	return nil
}

type attemptRun struct {
	state   State
	history []State
	logger  *slog.Logger
}

func (r *attemptRun) transition(to State) {
	if !CanTransition(r.state, to) {
		r.logger.Error("illegal checkout transition", "from", r.state, "to", to)
	}
	if len(r.history) == 0 {
		r.history = append(r.history, r.state)
	}
	r.state = to
	r.history = append(r.history, to)
	r.logger.Debug("checkout state changed", "state", to)
}
