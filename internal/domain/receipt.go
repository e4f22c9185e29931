package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const GuestCustomer = "Guest"

type ReceiptLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Receipt documents one checkout attempt, successful or not.
type Receipt struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	CustomerName     string          `json:"customer_name"`
	IssuedAt         time.Time       `json:"issued_at"`
	Status           PaymentStatus   `json:"status"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Lines            []ReceiptLine   `json:"lines"`
	TotalItems       int             `json:"total_items"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	AmountMinorUnits int64           `json:"amount_minor_units"`
	Currency         string          `json:"currency"`
}
