package checkout

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	attempts metric.Int64Counter
	amount   metric.Int64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("checkout")

	attempts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	amount, err := meter.Int64Histogram("checkout.amount_minor",
		metric.WithDescription("Charged amount of successful checkouts in minor currency units"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{attempts: attempts, amount: amount}, nil
}

func (m *metrics) recordOutcome(ctx context.Context, outcome string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordAmount(ctx context.Context, amount int64) {
	m.amount.Record(ctx, amount)
}
