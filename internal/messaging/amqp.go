package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var errNotConfirmed = errors.New("broker did not confirm the message")

// AMQPPublisher publishes JSON events to a durable RabbitMQ queue and waits
// for the broker to confirm each one.
type AMQPPublisher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	p := &AMQPPublisher{conn: conn, queue: queue}
	if _, err := p.channel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// channel returns the open publishing channel, reopening it after a channel-level error.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, p.queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, event any) error {
	data, eventType, err := encode(event)
	if err != nil {
		return err
	}

	ctx, span := producerTracer.Start(ctx, "send "+p.queue,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.queue),
			attribute.String("messaging.message.id", key),
			attribute.String("messaging.event_type", eventType),
		),
	)
	defer span.End()

	headers := amqp.Table{headerEventType: eventType}
	otel.GetTextMapPropagator().Inject(ctx, TableCarrier(headers))

	if err := p.publish(ctx, amqp.Publishing{
		MessageId:    key,
		Type:         eventType,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		ContentType:  contentTypeJSON,
		Timestamp:    time.Now().UTC(),
		Body:         data,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *AMQPPublisher) publish(ctx context.Context, msg amqp.Publishing) error {
	p.mu.Lock()
	ch, err := p.channel()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errNotConfirmed
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// AMQPConsumer delivers messages from a RabbitMQ queue one at a time with manual acks.
type AMQPConsumer struct {
	conn   *amqp.Connection
	queue  string
	tag    string
	logger *slog.Logger
}

func NewAMQPConsumer(url, queue, tag string, logger *slog.Logger) (*AMQPConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return &AMQPConsumer{conn: conn, queue: queue, tag: tag, logger: logger}, nil
}

// Consume blocks until ctx is cancelled, the channel closes, or a handler
// fails with an error that is not ErrSkip. Failed messages are requeued;
// skipped ones are rejected without requeue.
func (c *AMQPConsumer) Consume(ctx context.Context, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("delivery channel closed")
			}
			if err := c.process(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *AMQPConsumer) process(ctx context.Context, d amqp.Delivery, handler Handler) error {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, TableCarrier(d.Headers))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.queue),
			attribute.String("messaging.message.id", d.MessageId),
		),
	)
	defer span.End()

	eventType := d.Type
	if eventType == "" {
		eventType = TableCarrier(d.Headers).Get(headerEventType)
	}

	err := handler(spanCtx, Message{Key: d.MessageId, EventType: eventType, Payload: d.Body})
	switch {
	case err == nil:
		return d.Ack(false)
	case errors.Is(err, ErrSkip):
		c.logger.Warn("skipping message", "error", err, "queue", c.queue, "message_id", d.MessageId)
		return d.Nack(false, false)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = d.Nack(false, true)
		return err
	}
}

func (c *AMQPConsumer) Close() error {
	return c.conn.Close()
}
