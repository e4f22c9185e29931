// Package payment talks to the external payment processor.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// ErrUnavailable is returned without contacting the processor while the breaker is open.
var ErrUnavailable = errors.New("payment processor unavailable")

// RejectedError is an explicit refusal reported by the processor.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment processor rejected request (status %d): %s", e.StatusCode, e.Message)
}

type Confirmation struct {
	Status    domain.PaymentStatus
	Reference string
	Message   string
}

type HTTPProcessor struct {
	baseURL  string
	currency string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	logger   *slog.Logger
}

func NewHTTPProcessor(baseURL, currency string, client *http.Client, logger *slog.Logger) *HTTPProcessor {
	p := &HTTPProcessor{
		baseURL:  baseURL,
		currency: currency,
		client:   client,
		logger:   logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "payment-processor",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A shopper abandoning checkout says nothing about the processor's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	Error        string `json:"error"`
}

// CreateAuthorization asks the processor to reserve amountMinor and returns the client secret.
func (p *HTTPProcessor) CreateAuthorization(ctx context.Context, amountMinor int64, idempotencyKey string) (string, error) {
	var resp createIntentResponse
	status, err := p.post(ctx, "/create-payment-intent", idempotencyKey, createIntentRequest{
		Amount:   amountMinor,
		Currency: p.currency,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create payment intent: %w", err)
	}

	if status != http.StatusOK || resp.ClientSecret == "" {
		msg := resp.Error
		if msg == "" {
			msg = "failed to create payment intent"
		}
		return "", &RejectedError{StatusCode: status, Message: msg}
	}

	return resp.ClientSecret, nil
}

type billingDetails struct {
	Name string `json:"name"`
}

type confirmRequest struct {
	ClientSecret   string         `json:"client_secret"`
	PaymentMethod  string         `json:"payment_method"`
	BillingDetails billingDetails `json:"billing_details"`
}

type confirmResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// Confirm binds the payment method and cardholder name to the authorization.
// A declined card is reported through the Confirmation, not as an error.
func (p *HTTPProcessor) Confirm(ctx context.Context, clientSecret string, method domain.PaymentMethod, cardholderName string) (*Confirmation, error) {
	var resp confirmResponse
	status, err := p.post(ctx, "/confirm-payment", "", confirmRequest{
		ClientSecret:   clientSecret,
		PaymentMethod:  method.Token,
		BillingDetails: billingDetails{Name: cardholderName},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	switch {
	case status == http.StatusOK && resp.Status == string(domain.PaymentStatusSucceeded):
		return &Confirmation{Status: domain.PaymentStatusSucceeded, Reference: resp.Reference}, nil
	case status == http.StatusOK || status == http.StatusPaymentRequired:
		msg := resp.Message
		if msg == "" {
			msg = resp.Error
		}
		if msg == "" {
			msg = "payment was not confirmed"
		}
		return &Confirmation{Status: domain.PaymentStatusFailed, Reference: resp.Reference, Message: msg}, nil
	default:
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, &RejectedError{StatusCode: status, Message: msg}
	}
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	resp, err := p.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("payment processor returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrUnavailable
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			p.logger.Warn("unreadable payment processor response", "path", path, "status", resp.StatusCode, "error", err)
		}
	}

	return resp.StatusCode, nil
}
