// Package discount spreads a single percentage coupon over a multi-item
// selection. The discount is exhausted front to back in canonical order, each
// item absorbing at most its own payable amount, so earlier milestones take the
// discount and later ones stay intact.
package discount

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

var (
	ErrCouponOutOfRange = errors.New("discount: coupon percentage must be within 0..100")
	ErrMissingPayable   = errors.New("discount: selected key has no payable amount")
	ErrDuplicateKey     = errors.New("discount: key selected twice")
)

var hundred = decimal.NewFromInt(100)

// Coupon is immutable reference data.
type Coupon struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
}

// Validate enforces the percentage bounds.
func (c Coupon) Validate() error {
	if c.DiscountPercentage.IsNegative() || c.DiscountPercentage.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s has %s%%", ErrCouponOutOfRange, c.Code, c.DiscountPercentage)
	}
	return nil
}

// Ranker supplies the canonical position of a key.
type Ranker interface {
	Rank(key billing.Key) int
}

// RankFunc adapts a function to Ranker.
type RankFunc func(key billing.Key) int

// Rank implements Ranker.
func (f RankFunc) Rank(key billing.Key) int { return f(key) }

// Allocation is the derived breakdown for one selected key.
type Allocation struct {
	PayableAmount    decimal.Decimal `json:"payableAmount"`
	AppliedDiscount  decimal.Decimal `json:"appliedDiscount"`
	DiscountedAmount decimal.Decimal `json:"discountedAmount"`
}

// Result is the full allocation. Order lists keys in the sequence the
// discount was walked.
type Result struct {
	Order         []billing.Key              `json:"order"`
	Lines         map[billing.Key]Allocation `json:"lines"`
	TotalPayable  decimal.Decimal            `json:"totalPayable"`
	TotalDiscount decimal.Decimal            `json:"totalDiscount"`
	TotalApplied  decimal.Decimal            `json:"totalApplied"`
	CouponCode    string                     `json:"couponCode,omitempty"`
}

// Line returns the allocation for key.
func (r Result) Line(key billing.Key) (Allocation, bool) {
	a, ok := r.Lines[key]
	return a, ok
}

// TotalDiscounted sums the discounted amounts.
func (r Result) TotalDiscounted() decimal.Decimal {
	return r.TotalPayable.Sub(r.TotalApplied)
}

// Allocate computes per-key discounted amounts. It is pure: identical inputs
// always yield identical output, and the order of selected does not matter
// because keys are walked by ranker position (ties broken by key).
func Allocate(selected []billing.Key, payable map[billing.Key]decimal.Decimal, coupon *Coupon, ranker Ranker) (Result, error) {
	ordered, err := canonical(selected, ranker)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Order:         ordered,
		Lines:         make(map[billing.Key]Allocation, len(ordered)),
		TotalPayable:  decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalApplied:  decimal.Zero,
	}
	for _, key := range ordered {
		amount, ok := payable[key]
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrMissingPayable, key)
		}
		if amount.IsNegative() {
			return Result{}, fmt.Errorf("%w: %s", billing.ErrNegativeAmount, key)
		}
		res.TotalPayable = res.TotalPayable.Add(amount)
	}

	if coupon == nil || len(ordered) == 0 {
		for _, key := range ordered {
			amount := payable[key]
			res.Lines[key] = Allocation{PayableAmount: amount, AppliedDiscount: decimal.Zero, DiscountedAmount: amount}
		}
		return res, nil
	}
	if err := coupon.Validate(); err != nil {
		return Result{}, err
	}
	res.CouponCode = coupon.Code

	res.TotalDiscount = res.TotalPayable.Mul(coupon.DiscountPercentage).Div(hundred)
	remaining := res.TotalDiscount
	for _, key := range ordered {
		amount := payable[key]
		applied := decimal.Min(remaining, amount)
		if applied.IsNegative() {
			applied = decimal.Zero
		}
		remaining = remaining.Sub(applied)
		res.TotalApplied = res.TotalApplied.Add(applied)
		res.Lines[key] = Allocation{
			PayableAmount:    amount,
			AppliedDiscount:  applied,
			DiscountedAmount: amount.Sub(applied),
		}
	}
	return res, nil
}

func canonical(selected []billing.Key, ranker Ranker) ([]billing.Key, error) {
	seen := make(map[billing.Key]struct{}, len(selected))
	out := make([]billing.Key, 0, len(selected))
	for _, key := range selected {
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ranker != nil {
			ri, rj := ranker.Rank(out[i]), ranker.Rank(out[j])
			if ri != rj {
				return ri < rj
			}
		}
		return out[i] < out[j]
	})
	return out, nil
}
