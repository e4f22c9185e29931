package domain

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// PaymentMethod is the collected card input. Token is opaque to the backend.
type PaymentMethod struct {
	Token    string `json:"token"`
	Complete bool   `json:"complete"`
}

// PaymentAttempt lives for the duration of a single checkout.
type PaymentAttempt struct {
	IdempotencyKey   string        `json:"idempotency_key"`
	CardholderName   string        `json:"cardholder_name"`
	AmountMinorUnits int64         `json:"amount_minor_units"`
	Currency         string        `json:"currency"`
	ClientSecret     string        `json:"-"`
	Reference        string        `json:"reference,omitempty"`
	Status           PaymentStatus `json:"status"`
	FailureReason    string        `json:"failure_reason,omitempty"`
}
