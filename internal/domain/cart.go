package domain

import "github.com/shopspring/decimal"

// CartLine references a product by key. Name, image and unit price are captured
// when the product is first added and are not refreshed from the catalog.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartSnapshot is an immutable copy of a cart taken after a mutation.
type CartSnapshot struct {
	Lines []CartLine `json:"lines"`
}

// Total is the unrounded sum of line subtotals.
func (s CartSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// DisplayTotal is Total rounded to two decimal places.
func (s CartSnapshot) DisplayTotal() decimal.Decimal {
	return s.Total().Round(2)
}

func (s CartSnapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s CartSnapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// AmountMinorUnits converts the unrounded total to minor currency units (cents).
func (s CartSnapshot) AmountMinorUnits() int64 {
	return s.Total().Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
