package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/milestones"
)

// BuildInput collects everything needed to project an order.
type BuildInput struct {
	Mode       PaymentMode
	Target     Target
	Items      []Billable
	Payable    map[billing.Key]decimal.Decimal
	Allocation discount.Result
	Coupon     *discount.Coupon
}

// Build assembles the order payload. Lines follow the allocation's walk
// order. Inputs are never modified.
func Build(in BuildInput) (Order, error) {
	if !in.Mode.Valid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode)
	}
	if err := in.Target.Validate(); err != nil {
		return Order{}, err
	}
	if len(in.Allocation.Order) == 0 {
		return Order{}, billing.ErrNothingSelected
	}
	items := make(map[billing.Key]Billable, len(in.Items))
	for _, item := range in.Items {
		items[item.Key] = item
	}
	couponCode := ""
	if in.Coupon != nil {
		couponCode = in.Coupon.Code
	}

	order := Order{PaymentMode: in.Mode, OrderDetails: make([]OrderLine, 0, len(in.Allocation.Order))}
	for _, key := range in.Allocation.Order {
		item, ok := items[key]
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", ErrMissingItem, key)
		}
		alloc, ok := in.Allocation.Line(key)
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", ErrMissingAllocation, key)
		}
		payable, ok := in.Payable[key]
		if !ok {
			payable = alloc.PayableAmount
		}
		if !payable.Equal(alloc.PayableAmount) {
			return Order{}, fmt.Errorf("%w: %s", ErrAllocationStale, key)
		}
		if payable.IsNegative() {
			return Order{}, fmt.Errorf("%w: %s", billing.ErrNegativeAmount, key)
		}
		if payable.GreaterThan(item.PendingAmount) {
			return Order{}, fmt.Errorf("%w: %s pays %s of %s", billing.ErrPayableExceedsPending, key, payable, item.PendingAmount)
		}
		line := OrderLine{
			Key:                        key,
			TotalOrderAmount:           item.TotalAmount,
			PayableAmount:              payable,
			DiscountAmount:             alloc.AppliedDiscount,
			PayableAfterDiscountAmount: payable.Sub(alloc.AppliedDiscount),
			PendingOrderAmount:         item.PendingAmount.Sub(payable),
			ProductType:                item.ProductType,
			DateColumn:                 item.DateColumn,
			AppointmentID:              in.Target.AppointmentID,
			VisitID:                    in.Target.VisitID,
		}
		if alloc.AppliedDiscount.IsPositive() {
			line.CouponCode = couponCode
		}
		order.OrderDetails = append(order.OrderDetails, line)
	}
	return order, nil
}

// FromMilestone exposes a package milestone to the builder.
func FromMilestone(m milestones.Milestone) Billable {
	return Billable{
		Key:           m.Key(),
		ProductType:   string(m.ProductType),
		DateColumn:    m.DateColumn(),
		TotalAmount:   m.TotalAmount,
		PendingAmount: m.PendingAmount,
	}
}

// FromLineItem exposes a due ledger item to the builder. Line items are paid
// in full so total and pending are the item amount.
func FromLineItem(item ledger.LineItem) Billable {
	return Billable{
		Key:           item.Key(),
		ProductType:   string(item.BillType),
		TotalAmount:   item.Amount,
		PendingAmount: item.Amount,
	}
}

// ConsultationFee exposes an appointment's consultation fee.
func ConsultationFee(appointmentID string, fee decimal.Decimal) Billable {
	return Billable{
		Key:           billing.Key(ProductConsultation + ":" + appointmentID),
		ProductType:   ProductConsultation,
		TotalAmount:   fee,
		PendingAmount: fee,
	}
}

// Advance exposes an ad-hoc advance payment against a visit.
func Advance(visitID string, amount decimal.Decimal) Billable {
	return Billable{
		Key:           billing.Key(ProductAdvance + ":" + visitID),
		ProductType:   ProductAdvance,
		TotalAmount:   amount,
		PendingAmount: amount,
	}
}
