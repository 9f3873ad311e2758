package milestones

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

// Catalog is a package's milestones held in canonical order.
type Catalog struct {
	milestones []Milestone
}

// NewCatalog validates the milestones and sorts them canonically. It rejects
// any milestone whose pending amount is not exactly total minus paid, or is
// negative.
func NewCatalog(items []Milestone) (*Catalog, error) {
	seen := make(map[ProductType]struct{}, len(items))
	out := make([]Milestone, 0, len(items))
	for _, m := range items {
		if m.ProductType == "" {
			return nil, fmt.Errorf("%w: empty product type", ErrInvalidMilestone)
		}
		if _, dup := seen[m.ProductType]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMilestone, m.ProductType)
		}
		seen[m.ProductType] = struct{}{}
		if m.TotalAmount.IsNegative() || m.TotalPaid.IsNegative() {
			return nil, fmt.Errorf("%w: %s has negative amounts", ErrInvalidMilestone, m.ProductType)
		}
		expected := m.TotalAmount.Sub(m.TotalPaid)
		if expected.IsNegative() {
			return nil, fmt.Errorf("%w: %s paid %s exceeds total %s", ErrInvalidMilestone, m.ProductType, m.TotalPaid, m.TotalAmount)
		}
		if !m.PendingAmount.Equal(expected) {
			return nil, fmt.Errorf("%w: %s pending %s, expected %s", ErrInvalidMilestone, m.ProductType, m.PendingAmount, expected)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := Rank(out[i].ProductType), Rank(out[j].ProductType)
		if ri != rj {
			return ri < rj
		}
		return out[i].ProductType < out[j].ProductType
	})
	return &Catalog{milestones: out}, nil
}

// All returns every milestone in canonical order.
func (c *Catalog) All() []Milestone {
	out := make([]Milestone, len(c.milestones))
	copy(out, c.milestones)
	return out
}

// Pending returns milestones that still have an amount to pay.
func (c *Catalog) Pending() []Milestone {
	return PendingMilestones(c.milestones)
}

// Settled returns fully paid milestones. They are shown for viewing only.
func (c *Catalog) Settled() []Milestone {
	var out []Milestone
	for _, m := range c.milestones {
		if m.Settled() {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a milestone by key.
func (c *Catalog) Lookup(key billing.Key) (Milestone, bool) {
	for _, m := range c.milestones {
		if m.Key() == key {
			return m, true
		}
	}
	return Milestone{}, false
}

// Rank implements the ordering used by the discount allocator.
func (c *Catalog) Rank(key billing.Key) int {
	return Rank(ProductType(key))
}

// Selectable reports whether key may be chosen for payment.
func (c *Catalog) Selectable(key billing.Key) error {
	m, ok := c.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if m.Settled() {
		return fmt.Errorf("%w: %s", ErrSettled, key)
	}
	return nil
}

// Payables resolves the effective payable amount of every selected key.
func (c *Catalog) Payables(selected []billing.Key, sel *billing.PayableSelection, isAdmin bool) (map[billing.Key]decimal.Decimal, error) {
	if len(selected) == 0 {
		return nil, billing.ErrNothingSelected
	}
	out := make(map[billing.Key]decimal.Decimal, len(selected))
	for _, key := range selected {
		if err := c.Selectable(key); err != nil {
			return nil, err
		}
		m, _ := c.Lookup(key)
		out[key] = EffectivePayable(m, sel, isAdmin)
	}
	return out, nil
}

// PendingMilestones keeps milestones with a positive pending amount, in the
// order given.
func PendingMilestones(all []Milestone) []Milestone {
	var out []Milestone
	for _, m := range all {
		if m.PendingAmount.IsPositive() {
			out = append(out, m)
		}
	}
	return out
}

// EffectivePayable returns what will be charged now for m. Non-admins always
// pay the full pending amount. Admins pay their entered amount clamped to
// [0, pending]; without an entry they pay the full pending amount.
func EffectivePayable(m Milestone, sel *billing.PayableSelection, isAdmin bool) decimal.Decimal {
	if !isAdmin {
		return m.PendingAmount
	}
	entered, ok := sel.Get(m.Key())
	if !ok {
		return m.PendingAmount
	}
	return billing.Clamp(entered, m.PendingAmount)
}
