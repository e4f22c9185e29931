package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// Sink accepts issued receipts.
type Sink interface {
	Emit(ctx context.Context, r *domain.Receipt) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// EventSink publishes receipts as ReceiptIssuedEvent messages keyed by receipt id.
type EventSink struct {
	publisher Publisher
}

func NewEventSink(publisher Publisher) *EventSink {
	return &EventSink{publisher: publisher}
}

func (s *EventSink) Emit(ctx context.Context, r *domain.Receipt) error {
	return s.publisher.Publish(ctx, r.ID, domain.ReceiptIssuedEvent{
		Receipt:   *r,
		Timestamp: time.Now().UTC(),
	})
}

type fanout []Sink

// Fanout emits to every sink and joins their errors.
func Fanout(sinks ...Sink) Sink {
	return fanout(sinks)
}

func (f fanout) Emit(ctx context.Context, r *domain.Receipt) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
