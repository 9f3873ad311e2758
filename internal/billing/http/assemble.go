package billinghttp

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/milestones"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
)

// billables is the resolved selection of one order request.
type billables struct {
	keys    []billing.Key
	items   []orders.Billable
	payable map[billing.Key]decimal.Decimal
	ranker  discount.Ranker
	catalog *milestones.Catalog
}

var flatRank = discount.RankFunc(func(billing.Key) int { return 0 })

// resolve turns the request into billable items, their payable amounts and
// the walk order. Every selection error is raised here, before any call to
// the order service.
func resolve(req orderRequest) (billables, error) {
	switch req.Kind {
	case KindPackage:
		return resolvePackage(req)
	case KindLineItems:
		return resolveLineItems(req)
	case KindConsultation:
		if req.Target.AppointmentID == "" {
			return billables{}, fmt.Errorf("%w: consultation fee needs an appointment", orders.ErrInvalidTarget)
		}
		return single(req.Amount, func(d decimal.Decimal) orders.Billable {
			return orders.ConsultationFee(req.Target.AppointmentID, d)
		})
	case KindAdvance:
		if req.Target.VisitID == "" {
			return billables{}, fmt.Errorf("%w: advance payment needs a visit", orders.ErrInvalidTarget)
		}
		return single(req.Amount, func(d decimal.Decimal) orders.Billable {
			return orders.Advance(req.Target.VisitID, d)
		})
	}
	return billables{}, fmt.Errorf("%w: unknown kind %q", billing.ErrUnknownKey, req.Kind)
}

func resolvePackage(req orderRequest) (billables, error) {
	catalog, err := milestones.NewCatalog(req.Milestones)
	if err != nil {
		return billables{}, err
	}
	sel := billing.NewPayableSelection()
	for key, entered := range req.Payable {
		m, ok := catalog.Lookup(key)
		if !ok {
			return billables{}, fmt.Errorf("%w: %s", billing.ErrUnknownKey, key)
		}
		sel.Set(key, entered, m.PendingAmount)
	}
	payable, err := catalog.Payables(req.Selected, sel, req.IsAdmin)
	if err != nil {
		return billables{}, err
	}
	out := billables{keys: req.Selected, payable: payable, ranker: catalog, catalog: catalog}
	for _, key := range req.Selected {
		m, _ := catalog.Lookup(key)
		out.items = append(out.items, orders.FromMilestone(m))
	}
	return out, nil
}

func resolveLineItems(req orderRequest) (billables, error) {
	l, err := ledger.New(req.Groups)
	if err != nil {
		return billables{}, err
	}
	scope := req.Scope
	if scope == "" {
		scope = ledger.ScopePatient
	}
	due := l.Partition(scope).Due
	selection := ledger.NewSelection()
	if req.SelectAll {
		selection.SelectAll(due)
	}
	for _, id := range req.ItemIDs {
		item, ok := l.Find(id)
		if !ok {
			return billables{}, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, id)
		}
		if item.Status != ledger.StatusDue || item.Scope != scope {
			return billables{}, fmt.Errorf("%w: %s is %s for %s", ledger.ErrInvalidStatus, id, item.Status, item.Scope)
		}
		if !selection.Contains(item.Key()) {
			selection.Toggle(item)
		}
	}
	keys := selection.Keys()
	if len(keys) == 0 {
		return billables{}, billing.ErrNothingSelected
	}
	out := billables{keys: keys, payable: make(map[billing.Key]decimal.Decimal, len(keys)), ranker: l}
	for _, key := range keys {
		item, _ := l.Find(string(key))
		out.items = append(out.items, orders.FromLineItem(item))
		out.payable[key] = item.Amount
	}
	return out, nil
}

func single(amount *decimal.Decimal, build func(decimal.Decimal) orders.Billable) (billables, error) {
	if amount == nil {
		return billables{}, billing.ErrNothingSelected
	}
	if amount.IsNegative() {
		return billables{}, billing.ErrNegativeAmount
	}
	item := build(*amount)
	return billables{
		keys:    []billing.Key{item.Key},
		items:   []orders.Billable{item},
		payable: map[billing.Key]decimal.Decimal{item.Key: *amount},
		ranker:  flatRank,
	}, nil
}

// assemble resolves the selection and the coupon concurrently, allocates the
// discount and builds the order.
func (h *Handler) assemble(ctx context.Context, token string, req orderRequest) (orders.Order, error) {
	var (
		resolved billables
		coupon   *discount.Coupon
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resolved, err = resolve(req)
		return err
	})
	g.Go(func() error {
		var err error
		coupon, err = h.coupons.Find(gctx, token, req.CouponCode)
		return err
	})
	if err := g.Wait(); err != nil {
		return orders.Order{}, err
	}
	alloc, err := discount.Allocate(resolved.keys, resolved.payable, coupon, resolved.ranker)
	if err != nil {
		return orders.Order{}, err
	}
	return orders.Build(orders.BuildInput{
		Mode:       req.Mode,
		Target:     req.Target.target(),
		Items:      resolved.items,
		Payable:    resolved.payable,
		Allocation: alloc,
		Coupon:     coupon,
	})
}
