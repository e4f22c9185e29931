package checkout

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/payment"
)

type mockProcessor struct {
	mu           sync.Mutex
	authorizeFn  func(ctx context.Context, amount int64, key string) (string, error)
	confirmFn    func(ctx context.Context, secret string, method domain.PaymentMethod, name string) (*payment.Confirmation, error)
	authCalls    int
	confirmCalls int
	amounts      []int64
	keys         []string
	names        []string
}

func (m *mockProcessor) CreateAuthorization(ctx context.Context, amount int64, key string) (string, error) {
	m.mu.Lock()
	m.authCalls++
	m.amounts = append(m.amounts, amount)
	m.keys = append(m.keys, key)
	fn := m.authorizeFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, amount, key)
	}
	return "pi_test_secret", nil
}

func (m *mockProcessor) Confirm(ctx context.Context, secret string, method domain.PaymentMethod, name string) (*payment.Confirmation, error) {
	m.mu.Lock()
	m.confirmCalls++
	m.names = append(m.names, name)
	fn := m.confirmFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, secret, method, name)
	}
	return &payment.Confirmation{Status: domain.PaymentStatusSucceeded, Reference: "pi_test"}, nil
}

func (m *mockProcessor) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls, m.confirmCalls
}

type recordingSink struct {
	mu       sync.Mutex
	receipts []*domain.Receipt
	err      error
}

func (s *recordingSink) Emit(_ context.Context, r *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return s.err
}

func (s *recordingSink) all() []*domain.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
