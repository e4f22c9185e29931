// Package catalog merges the product feeds into a single listing.
package catalog

import (
	"context"
	"errors"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

var (
	ErrCatalogUnavailable = errors.New("no product feed is available")
	ErrProductNotFound    = errors.New("product not found")
)

// Feed is one upstream source of products. Implementations normalize their
// entries into domain.Product before returning them.
type Feed interface {
	Origin() domain.Origin
	Fetch(ctx context.Context) ([]domain.Product, error)
}
