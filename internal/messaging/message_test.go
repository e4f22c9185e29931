package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

func TestEncode(t *testing.T) {
	data, eventType, err := encode(domain.ProductChangedEvent{Operation: "insert", ProductID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "product.changed", eventType)
	assert.JSONEq(t, `{"operation":"insert","product_id":"abc"}`, string(data))

	type untyped struct{ A int }
	_, eventType, err = encode(untyped{A: 1})
	require.NoError(t, err)
	assert.Equal(t, "untyped", eventType)
}

func TestSkip(t *testing.T) {
	cause := errors.New("bad json")
	err := Skip(cause)
	assert.ErrorIs(t, err, ErrSkip)
	assert.ErrorIs(t, err, cause)
}

func TestCarriersPropagateTraceContext(t *testing.T) {
	prop := propagation.TraceContext{}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	t.Run("kafka headers", func(t *testing.T) {
		msg := kafka.Message{Headers: []kafka.Header{{Key: headerEventType, Value: []byte("receipt.issued")}}}
		prop.Inject(ctx, NewKafkaCarrier(&msg))

		assert.Contains(t, NewKafkaCarrier(&msg).Keys(), "traceparent")
		got := trace.SpanContextFromContext(prop.Extract(context.Background(), NewKafkaCarrier(&msg)))
		assert.Equal(t, traceID, got.TraceID())
		assert.Equal(t, "receipt.issued", headerValue(msg.Headers, headerEventType))
	})

	t.Run("amqp table", func(t *testing.T) {
		headers := TableCarrier{}
		prop.Inject(ctx, headers)

		got := trace.SpanContextFromContext(prop.Extract(context.Background(), headers))
		assert.Equal(t, traceID, got.TraceID())
		assert.Equal(t, spanID, got.SpanID())
	})

	t.Run("set overwrites existing header", func(t *testing.T) {
		msg := kafka.Message{}
		c := NewKafkaCarrier(&msg)
		c.Set("k", "1")
		c.Set("k", "2")
		assert.Len(t, msg.Headers, 1)
		assert.Equal(t, "2", c.Get("k"))
	})
}
