package orders

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

// PaymentMode is the reconciliation channel.
type PaymentMode string

const (
	ModeOnline PaymentMode = "ONLINE"
	ModeCash   PaymentMode = "CASH"
	ModeUPI    PaymentMode = "UPI"
)

// Valid reports whether m is a supported channel.
func (m PaymentMode) Valid() bool {
	return m == ModeOnline || m == ModeCash || m == ModeUPI
}

// Offline reports whether the channel needs an explicit accept before the
// order request is issued.
func (m PaymentMode) Offline() bool {
	return m == ModeCash || m == ModeUPI
}

// Product types for the non-package billing flows.
const (
	ProductConsultation = "CONSULTATION"
	ProductAdvance      = "ADVANCE"
)

var (
	ErrInvalidMode       = errors.New("orders: invalid payment mode")
	ErrInvalidTarget     = errors.New("orders: exactly one of appointment or visit id is required")
	ErrMissingAllocation = errors.New("orders: selected key has no allocation")
	ErrMissingItem       = errors.New("orders: selected key has no billable item")
	ErrAllocationStale   = errors.New("orders: allocation computed for a different payable amount")
)

// Target is what the order settles against: a consultation appointment or a
// treatment visit.
type Target struct {
	AppointmentID string `json:"appointmentId,omitempty"`
	VisitID       string `json:"visitId,omitempty"`
}

// Validate requires exactly one reference.
func (t Target) Validate() error {
	if (t.AppointmentID == "") == (t.VisitID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// Ref returns the populated identifier.
func (t Target) Ref() string {
	if t.AppointmentID != "" {
		return "appointment:" + t.AppointmentID
	}
	return "visit:" + t.VisitID
}

// Billable is the minimum a milestone or line item exposes to the builder.
type Billable struct {
	Key           billing.Key     `json:"key"`
	ProductType   string          `json:"productType"`
	DateColumn    string          `json:"dateColumn,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PendingAmount decimal.Decimal `json:"pendingAmount"`
}

// OrderLine is one entry of the order-service payload.
type OrderLine struct {
	Key                        billing.Key     `json:"key"`
	TotalOrderAmount           decimal.Decimal `json:"totalOrderAmount"`
	PayableAmount              decimal.Decimal `json:"payableAmount"`
	DiscountAmount             decimal.Decimal `json:"discountAmount"`
	PayableAfterDiscountAmount decimal.Decimal `json:"payableAfterDiscountAmount"`
	PendingOrderAmount         decimal.Decimal `json:"pendingOrderAmount"`
	CouponCode                 string          `json:"couponCode,omitempty"`
	ProductType                string          `json:"productType"`
	DateColumn                 string          `json:"dateColumn,omitempty"`
	AppointmentID              string          `json:"appointmentId,omitempty"`
	VisitID                    string          `json:"visitId,omitempty"`
}

// Order is a single payment attempt's payload. It is built fresh for every
// attempt and never retried.
type Order struct {
	PaymentMode  PaymentMode `json:"paymentMode"`
	OrderDetails []OrderLine `json:"orderDetails"`
}

// Presented rounds the line to two decimals for the wire. Only the
// independent amounts are rounded; payable after discount and the remaining
// pending amount are derived from the rounded values so the line still adds
// up.
func (l OrderLine) Presented() OrderLine {
	pendingBefore := billing.Present(l.PendingOrderAmount.Add(l.PayableAmount))
	l.TotalOrderAmount = billing.Present(l.TotalOrderAmount)
	l.PayableAmount = billing.Present(l.PayableAmount)
	l.DiscountAmount = billing.Present(l.DiscountAmount)
	l.PayableAfterDiscountAmount = l.PayableAmount.Sub(l.DiscountAmount)
	l.PendingOrderAmount = pendingBefore.Sub(l.PayableAmount)
	return l
}

// Presented returns a copy of the order with every line rounded for the wire.
func (o Order) Presented() Order {
	out := Order{PaymentMode: o.PaymentMode, OrderDetails: make([]OrderLine, len(o.OrderDetails))}
	for i, line := range o.OrderDetails {
		out.OrderDetails[i] = line.Presented()
	}
	return out
}

// PayableTotal is the amount to collect after discount.
func (o Order) PayableTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.OrderDetails {
		total = total.Add(line.PayableAfterDiscountAmount)
	}
	return total
}

// DiscountTotal sums the discount across lines.
func (o Order) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.OrderDetails {
		total = total.Add(line.DiscountAmount)
	}
	return total
}

// Keys lists the keys the order settles, in payload order.
func (o Order) Keys() []billing.Key {
	out := make([]billing.Key, len(o.OrderDetails))
	for i, line := range o.OrderDetails {
		out[i] = line.Key
	}
	return out
}
