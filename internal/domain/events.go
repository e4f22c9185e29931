package domain

import "time"

type ReceiptIssuedEvent struct {
	Receipt   Receipt   `json:"receipt"`
	Timestamp time.Time `json:"timestamp"`
}

type ProductChangedEvent struct {
	Operation string `json:"operation"`
	ProductID string `json:"product_id"`
}

func (ReceiptIssuedEvent) EventType() string { return "receipt.issued" }

func (ProductChangedEvent) EventType() string { return "product.changed" }
