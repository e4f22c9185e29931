// Package cart owns the per-session shopping cart.
package cart

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// Observer receives the cart state after every mutation. Observers run while
// the cart is locked and must not call back into the Manager.
type Observer func(domain.CartSnapshot)

// Manager is the single owner of a cart. All mutations go through its methods;
// readers only ever see snapshots.
type Manager struct {
	mu        sync.Mutex
	lines     []domain.CartLine
	observers []Observer
}

func NewManager() *Manager {
	return &Manager{}
}

// Subscribe registers an observer and immediately delivers the current state to it.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
	o(m.snapshotLocked())
}

// AddOrMerge adds quantity units of product. Quantities below 1 are ignored.
func (m *Manager) AddOrMerge(product domain.Product, quantity int) domain.CartSnapshot {
	if quantity < 1 {
		return m.Snapshot()
	}
	return m.mutate(func() bool {
		if i := m.indexLocked(product.ID); i >= 0 {
			m.lines[i].Quantity += quantity
			return true
		}
		m.lines = append(m.lines, domain.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     product.Image,
			UnitPrice: product.UnitPrice,
			Quantity:  quantity,
		})
		return true
	})
}

func (m *Manager) Increase(productID string) domain.CartSnapshot {
	return m.mutate(func() bool {
		i := m.indexLocked(productID)
		if i < 0 {
			return false
		}
		m.lines[i].Quantity++
		return true
	})
}

// Decrease drops one unit; the line disappears once it reaches zero.
func (m *Manager) Decrease(productID string) domain.CartSnapshot {
	return m.mutate(func() bool {
		i := m.indexLocked(productID)
		if i < 0 {
			return false
		}
		m.lines[i].Quantity--
		if m.lines[i].Quantity <= 0 {
			m.lines = slices.Delete(m.lines, i, i+1)
		}
		return true
	})
}

func (m *Manager) Remove(productID string) domain.CartSnapshot {
	return m.mutate(func() bool {
		i := m.indexLocked(productID)
		if i < 0 {
			return false
		}
		m.lines = slices.Delete(m.lines, i, i+1)
		return true
	})
}

func (m *Manager) Clear() domain.CartSnapshot {
	return m.mutate(func() bool {
		if len(m.lines) == 0 {
			return false
		}
		m.lines = nil
		return true
	})
}

// Settle removes the quantities of a paid snapshot. When the cart has not
// changed since the snapshot was taken this leaves it empty; units added while
// the payment was in flight stay in the cart.
func (m *Manager) Settle(paid domain.CartSnapshot) domain.CartSnapshot {
	return m.mutate(func() bool {
		changed := false
		for _, p := range paid.Lines {
			i := m.indexLocked(p.ProductID)
			if i < 0 {
				continue
			}
			changed = true
			m.lines[i].Quantity -= p.Quantity
			if m.lines[i].Quantity <= 0 {
				m.lines = slices.Delete(m.lines, i, i+1)
			}
		}
		return changed
	})
}

func (m *Manager) Snapshot() domain.CartSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Total is the unrounded sum of quantity × unit price.
func (m *Manager) Total() decimal.Decimal {
	return m.Snapshot().Total()
}

func (m *Manager) DisplayTotal() decimal.Decimal {
	return m.Snapshot().DisplayTotal()
}

func (m *Manager) mutate(fn func() bool) domain.CartSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := fn()
	snap := m.snapshotLocked()
	if changed {
		for _, o := range m.observers {
			o(snap)
		}
	}
	return snap
}

func (m *Manager) indexLocked(productID string) int {
	return slices.IndexFunc(m.lines, func(l domain.CartLine) bool {
		return l.ProductID == productID
	})
}

func (m *Manager) snapshotLocked() domain.CartSnapshot {
	return domain.CartSnapshot{Lines: slices.Clone(m.lines)}
}
