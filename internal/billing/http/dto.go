package billinghttp

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/milestones"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
)

// Billing kinds accepted by the order endpoints.
const (
	KindPackage      = "PACKAGE"
	KindLineItems    = "LINE_ITEMS"
	KindConsultation = "CONSULTATION"
	KindAdvance      = "ADVANCE"
)

type targetDTO struct {
	AppointmentID string `json:"appointmentId" validate:"required_without=VisitID,excluded_with=VisitID"`
	VisitID       string `json:"visitId" validate:"required_without=AppointmentID,excluded_with=AppointmentID"`
}

func (t targetDTO) target() orders.Target {
	return orders.Target{AppointmentID: t.AppointmentID, VisitID: t.VisitID}
}

type partitionRequest struct {
	Groups      []ledger.BillTypeGroup `json:"groups" validate:"required"`
	Scope       ledger.Scope           `json:"scope" validate:"required,oneof=PATIENT SPOUSE"`
	SelectedIDs []string               `json:"selectedIds"`
	SelectAll   bool                   `json:"selectAll"`
}

type partitionResponse struct {
	ledger.Partitioned
	SelectedIDs     []billing.Key   `json:"selectedIds"`
	AllSelected     bool            `json:"allSelected"`
	SelectableTotal decimal.Decimal `json:"selectableTotal"`
	Display         string          `json:"selectableTotalDisplay"`
}

type quoteRequest struct {
	Milestones []milestones.Milestone          `json:"milestones" validate:"required,min=1"`
	Selected   []billing.Key                   `json:"selected" validate:"required,min=1,dive,required"`
	Payable    map[billing.Key]decimal.Decimal `json:"payable"`
	IsAdmin    bool                            `json:"isAdmin"`
	CouponCode string                          `json:"couponCode" validate:"max=64"`
}

type quoteLine struct {
	Key              billing.Key     `json:"key"`
	DisplayName      string          `json:"displayName"`
	PendingAmount    decimal.Decimal `json:"pendingAmount"`
	PayableAmount    decimal.Decimal `json:"payableAmount"`
	AppliedDiscount  decimal.Decimal `json:"appliedDiscount"`
	DiscountedAmount decimal.Decimal `json:"discountedAmount"`
}

type quoteResponse struct {
	Pending         []milestones.Milestone `json:"pending"`
	Settled         []milestones.Milestone `json:"settled"`
	Lines           []quoteLine            `json:"lines"`
	TotalPayable    decimal.Decimal        `json:"totalPayable"`
	TotalDiscount   decimal.Decimal        `json:"totalDiscount"`
	TotalApplied    decimal.Decimal        `json:"totalApplied"`
	TotalDiscounted decimal.Decimal        `json:"totalDiscounted"`
	Display         string                 `json:"totalDiscountedDisplay"`
	Coupon          *discount.Coupon       `json:"coupon,omitempty"`
}

// orderRequest describes what to bill. Which fields apply depends on Kind.
type orderRequest struct {
	Kind   string             `json:"kind" validate:"required,oneof=PACKAGE LINE_ITEMS CONSULTATION ADVANCE"`
	Mode   orders.PaymentMode `json:"paymentMode" validate:"required,oneof=ONLINE CASH UPI"`
	Target targetDTO          `json:"target"`

	Milestones []milestones.Milestone          `json:"milestones" validate:"required_if=Kind PACKAGE"`
	Selected   []billing.Key                   `json:"selected" validate:"dive,required"`
	Payable    map[billing.Key]decimal.Decimal `json:"payable"`
	IsAdmin    bool                            `json:"isAdmin"`

	Groups    []ledger.BillTypeGroup `json:"groups" validate:"required_if=Kind LINE_ITEMS"`
	Scope     ledger.Scope           `json:"scope" validate:"omitempty,oneof=PATIENT SPOUSE"`
	ItemIDs   []string               `json:"itemIds"`
	SelectAll bool                   `json:"selectAll"`

	Amount *decimal.Decimal `json:"amount"`

	CouponCode string `json:"couponCode" validate:"max=64"`
}

type paymentRequest struct {
	orderRequest
	// Confirmed carries the user's answer to the offline confirmation prompt.
	Confirmed bool `json:"confirmed"`
}

type orderPreview struct {
	Order         orders.Order    `json:"order"`
	PayableTotal  decimal.Decimal `json:"payableTotal"`
	DiscountTotal decimal.Decimal `json:"discountTotal"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	Display       string          `json:"amountDueDisplay"`
}

type attemptResponse struct {
	Attempt       *payments.Attempt      `json:"attempt"`
	SubmitEnabled bool                   `json:"submitEnabled"`
	Closed        bool                   `json:"closed"`
	Widget        *payments.WidgetConfig `json:"widget,omitempty"`
}

type gatewayRequest struct {
	Outcome          payments.GatewayOutcome `json:"outcome" validate:"required,oneof=success failed"`
	GatewayOrderID   string                  `json:"gatewayOrderId"`
	GatewayPaymentID string                  `json:"gatewayPaymentId" validate:"required_if=Outcome success"`
	Code             string                  `json:"code"`
	Description      string                  `json:"description"`
}

type abandonRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

type optOutRequest struct {
	Groups    []ledger.BillTypeGroup `json:"groups" validate:"required"`
	ItemIDs   []string               `json:"itemIds" validate:"required,min=1,dive,required"`
	OptOut    bool                   `json:"optOut"`
	Confirmed bool                   `json:"confirmed"`
}

type optOutResponse struct {
	Groups []ledger.BillTypeGroup `json:"groups"`
}
