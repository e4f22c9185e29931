package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// APIFeed reads the REST product list.
type APIFeed struct {
	baseURL string
	client  *http.Client
}

func NewAPIFeed(baseURL string, client *http.Client) *APIFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIFeed{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (f *APIFeed) Origin() domain.Origin { return domain.OriginCatalogAPI }

// apiProduct accepts ids and prices encoded either as JSON strings or numbers.
type apiProduct struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Price       flexString `json:"price"`
	Image       string     `json:"image"`
	Description string     `json:"description"`
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

func (f *APIFeed) Fetch(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/products", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch products: unexpected status %d", resp.StatusCode)
	}

	var raw []apiProduct
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	products := make([]domain.Product, 0, len(raw))
	for i, p := range raw {
		id := string(p.ID)
		if id == "" {
			id = strconv.Itoa(i)
		}
		products = append(products, domain.NewProduct(f.Origin(), id, p.Name, parsePrice(string(p.Price)), p.Image, p.Description))
	}
	return products, nil
}

func parseAdminPrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("price must not be negative")
	}
	// Prices are stored as NUMERIC(12, 2), which would round extra digits away.
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("price %q has more than two decimal places", s)
	}
	if d.GreaterThanOrEqual(maxAdminPrice) {
		return decimal.Zero, fmt.Errorf("price %q is too large", s)
	}
	return d, nil
}

var maxAdminPrice = decimal.New(1, 10)

// parsePrice treats anything unparsable as zero.
func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
