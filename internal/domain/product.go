package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Origin identifies the upstream feed a product was read from. Raw identifiers
// are only unique within one origin, so the origin is part of the product key.
type Origin string

const (
	OriginCatalogAPI    Origin = "server"
	OriginDocumentStore Origin = "firestore"
)

type Product struct {
	ID          string          `json:"id"`
	RawID       string          `json:"raw_id"`
	Origin      Origin          `json:"origin"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
}

// ProductKey builds the catalog-wide identifier for a raw feed id.
func ProductKey(origin Origin, rawID string) string {
	return string(origin) + "-" + rawID
}

// NewProduct normalizes a feed entry into a Product. Negative prices are clamped to zero.
func NewProduct(origin Origin, rawID, name string, price decimal.Decimal, image, description string) Product {
	if price.IsNegative() {
		price = decimal.Zero
	}
	return Product{
		ID:          ProductKey(origin, rawID),
		RawID:       rawID,
		Origin:      origin,
		Name:        name,
		UnitPrice:   price,
		Image:       image,
		Description: description,
	}
}
