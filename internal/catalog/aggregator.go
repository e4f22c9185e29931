package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

var tracer = otel.Tracer("catalog")

type feedState struct {
	feed      Feed
	products  []domain.Product
	err       error
	fetchedAt time.Time
}

// FeedStatus reports the outcome of the last fetch of one feed.
type FeedStatus struct {
	Origin    domain.Origin `json:"origin"`
	Products  int           `json:"products"`
	Error     string        `json:"error,omitempty"`
	FetchedAt time.Time     `json:"fetched_at,omitzero"`
}

// Aggregator merges every feed into one listing. The listing keeps feed order,
// so products from the first feed are listed before those of the second.
type Aggregator struct {
	logger *slog.Logger

	// fetches collapses overlapping refreshes of the same feed into one fetch.
	fetches singleflight.Group

	mu    sync.RWMutex
	feeds []*feedState
}

func NewAggregator(logger *slog.Logger, feeds ...Feed) *Aggregator {
	a := &Aggregator{logger: logger}
	for _, f := range feeds {
		a.feeds = append(a.feeds, &feedState{feed: f, err: ErrCatalogUnavailable})
	}
	return a
}

// Refresh re-fetches every feed concurrently. It only returns an error when
// every feed failed.
func (a *Aggregator) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "catalog.refresh")
	defer span.End()

	var wg sync.WaitGroup
	for _, st := range a.feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.refreshFeed(ctx, st)
		}()
	}
	wg.Wait()

	_, err := a.Products()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RefreshOrigin re-fetches a single feed, as done when the live feed reports a change.
func (a *Aggregator) RefreshOrigin(ctx context.Context, origin domain.Origin) {
	for _, st := range a.feeds {
		if st.feed.Origin() == origin {
			a.refreshFeed(ctx, st)
		}
	}
}

func (a *Aggregator) refreshFeed(ctx context.Context, st *feedState) {
	_, _, _ = a.fetches.Do(string(st.feed.Origin()), func() (any, error) {
		a.fetchFeed(ctx, st)
		return nil, nil
	})
}

func (a *Aggregator) fetchFeed(ctx context.Context, st *feedState) {
	ctx, span := tracer.Start(ctx, "catalog.fetch")
	defer span.End()
	origin := st.feed.Origin()
	span.SetAttributes(attribute.String("catalog.origin", string(origin)))

	products, err := st.feed.Fetch(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	st.fetchedAt = time.Now().UTC()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("catalog feed unavailable", "origin", origin, "error", err)
		st.products = nil
		st.err = err
		return
	}
	st.products = products
	st.err = nil
	a.logger.Debug("catalog feed refreshed", "origin", origin, "count", len(products))
}

// Products returns the merged listing. ErrCatalogUnavailable is returned, with
// an empty listing, when no feed is healthy.
func (a *Aggregator) Products() ([]domain.Product, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	healthy := 0
	var out []domain.Product
	for _, st := range a.feeds {
		if st.err != nil {
			continue
		}
		healthy++
		out = append(out, st.products...)
	}
	if healthy == 0 {
		return []domain.Product{}, ErrCatalogUnavailable
	}
	if out == nil {
		out = []domain.Product{}
	}
	return out, nil
}

func (a *Aggregator) Lookup(id string) (domain.Product, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, st := range a.feeds {
		if i := slices.IndexFunc(st.products, func(p domain.Product) bool { return p.ID == id }); i >= 0 {
			return st.products[i], true
		}
	}
	return domain.Product{}, false
}

func (a *Aggregator) Status() []FeedStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]FeedStatus, 0, len(a.feeds))
	for _, st := range a.feeds {
		s := FeedStatus{Origin: st.feed.Origin(), Products: len(st.products), FetchedAt: st.fetchedAt}
		if st.err != nil {
			s.Error = st.err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Run refreshes all feeds every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil {
				a.logger.Error("catalog refresh failed", "error", err)
			}
		}
	}
}
