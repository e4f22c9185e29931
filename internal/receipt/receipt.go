// Package receipt builds, renders and archives checkout receipts.
package receipt

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// Build produces the receipt for a resolved payment attempt. The same shape is
// used for succeeded and failed attempts.
func Build(sessionID string, cart domain.CartSnapshot, attempt domain.PaymentAttempt, issuedAt time.Time) *domain.Receipt {
	customer := strings.TrimSpace(attempt.CardholderName)
	if customer == "" {
		customer = domain.GuestCustomer
	}

	lines := make([]domain.ReceiptLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lines = append(lines, domain.ReceiptLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  l.Subtotal().Round(2),
		})
	}

	return &domain.Receipt{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		IdempotencyKey:   attempt.IdempotencyKey,
		CustomerName:     customer,
		IssuedAt:         issuedAt.UTC(),
		Status:           attempt.Status,
		FailureReason:    attempt.FailureReason,
		PaymentReference: attempt.Reference,
		Lines:            lines,
		TotalItems:       cart.ItemCount(),
		TotalPaid:        cart.DisplayTotal(),
		AmountMinorUnits: attempt.AmountMinorUnits,
		Currency:         attempt.Currency,
	}
}
