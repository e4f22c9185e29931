package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

const (
	headerEventType   = "event-type"
	headerContentType = "content-type"
	contentTypeJSON   = "application/json"
)

// ErrSkip marks a message that can never be processed. Consumers log and
// acknowledge it instead of stopping.
var ErrSkip = errors.New("skip message")

// Skip wraps err so that consumers drop the message.
func Skip(err error) error {
	return fmt.Errorf("%w: %w", ErrSkip, err)
}

// Message is a delivered event, independent of the broker it came from.
type Message struct {
	Key       string
	EventType string
	Payload   []byte
}

// Typed events name themselves; anything else is named after its Go type.
type Typed interface {
	EventType() string
}

func encode(event any) ([]byte, string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, "", err
	}
	if t, ok := event.(Typed); ok {
		return data, t.EventType(), nil
	}
	return data, reflect.TypeOf(event).Name(), nil
}
