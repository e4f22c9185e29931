package cart

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRegistry(t *testing.T) {
	r := NewRegistry(discardLogger())

	a := r.Get("session-a")
	a.AddOrMerge(product("p1", "1.00"), 1)

	assert.Same(t, a, r.Get("session-a"))
	assert.NotSame(t, a, r.Get("session-b"))
	assert.True(t, r.Get("session-b").Snapshot().IsEmpty())
	assert.Equal(t, 2, r.Len())

	r.Drop("session-a")
	assert.True(t, r.Get("session-a").Snapshot().IsEmpty())
}

func TestRegistry_Peek(t *testing.T) {
	r := NewRegistry(discardLogger())

	_, ok := r.Peek("nobody")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len(), "peeking must not create a cart")

	m := r.Get("s1")
	got, ok := r.Peek("s1")
	require.True(t, ok)
	assert.Same(t, m, got)
}

func TestRegistry_Sweep(t *testing.T) {
	t.Run("drops carts idle past the timeout", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(discardLogger(), WithIdleTimeout(time.Hour), WithRegistryClock(clock.now))

		r.Get("stale").AddOrMerge(product("p1", "1.00"), 1)
		clock.advance(50 * time.Minute)
		r.Get("fresh").AddOrMerge(product("p1", "1.00"), 2)
		clock.advance(20 * time.Minute)

		assert.Equal(t, 1, r.Sweep())
		_, ok := r.Peek("stale")
		assert.False(t, ok)
		_, ok = r.Peek("fresh")
		assert.True(t, ok)
	})

	t.Run("mutations keep a cart alive", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(discardLogger(), WithIdleTimeout(time.Hour), WithRegistryClock(clock.now))

		m := r.Get("s1")
		m.AddOrMerge(product("p1", "1.00"), 1)
		clock.advance(50 * time.Minute)
		m.Increase("p1")
		clock.advance(50 * time.Minute)

		assert.Equal(t, 0, r.Sweep())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("empty carts go sooner", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(discardLogger(), WithIdleTimeout(24*time.Hour), WithRegistryClock(clock.now))

		r.Get("browsing")
		r.Get("settled").AddOrMerge(product("p1", "1.00"), 1)
		r.Get("settled").Clear()
		r.Get("shopping").AddOrMerge(product("p1", "1.00"), 1)
		clock.advance(time.Hour)

		assert.Equal(t, 2, r.Sweep())
		_, ok := r.Peek("shopping")
		assert.True(t, ok)
	})

	t.Run("skips carts in use", func(t *testing.T) {
		clock := newFakeClock()
		var busy *Manager
		r := NewRegistry(discardLogger(),
			WithIdleTimeout(time.Hour),
			WithRegistryClock(clock.now),
			WithInUse(func(m *Manager) bool { return m == busy }),
		)

		busy = r.Get("checking-out")
		busy.AddOrMerge(product("p1", "1.00"), 1)
		r.Get("gone").AddOrMerge(product("p1", "1.00"), 1)
		clock.advance(2 * time.Hour)

		assert.Equal(t, 1, r.Sweep())
		_, ok := r.Peek("checking-out")
		assert.True(t, ok)
	})

	t.Run("drops a session many times without going negative", func(t *testing.T) {
		r := NewRegistry(discardLogger())
		r.Get("s1").AddOrMerge(product("p1", "1.00"), 3)
		r.Drop("s1")
		r.Drop("s1")
		assert.Equal(t, 0, r.Len())
	})
}

func TestRegistry_Run(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(discardLogger(), WithIdleTimeout(time.Minute), WithRegistryClock(clock.now))
	r.Get("s1").AddOrMerge(product("p1", "1.00"), 1)
	clock.advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_Metrics(t *testing.T) {
	prev := otel.GetMeterProvider()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	collect := func() map[string]int64 {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		out := map[string]int64{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
					out[m.Name] = sum.DataPoints[0].Value
				}
			}
		}
		return out
	}

	r := NewRegistry(discardLogger())
	a := r.Get("a")
	a.AddOrMerge(product("p1", "1.00"), 2)
	a.AddOrMerge(product("p2", "3.00"), 1)
	r.Get("b").AddOrMerge(product("p1", "1.00"), 4)
	a.Decrease("p1")

	got := collect()
	assert.Equal(t, int64(2), got["cart.active"])
	assert.Equal(t, int64(6), got["cart.items"])

	r.Drop("b")
	got = collect()
	assert.Equal(t, int64(1), got["cart.active"])
	assert.Equal(t, int64(2), got["cart.items"])
}
