package billinghttp

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/coupons"
	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/milestones"
	"github.com/odyssey-erp/treatment-billing/internal/billing/optout"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
	"github.com/odyssey-erp/treatment-billing/internal/orderservice"
	"github.com/odyssey-erp/treatment-billing/internal/platform/httpx"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
)

type errorClass struct {
	target   error
	sentinel error
	code     string
}

var errorClasses = []errorClass{
	{billing.ErrNothingSelected, httpx.ErrValidation, "nothing_selected"},
	{billing.ErrNegativeAmount, httpx.ErrValidation, "negative_amount"},
	{billing.ErrPayableExceedsPending, httpx.ErrValidation, "payable_exceeds_pending"},
	{billing.ErrUnknownKey, httpx.ErrValidation, "unknown_key"},
	{discount.ErrCouponOutOfRange, httpx.ErrValidation, "coupon_out_of_range"},
	{discount.ErrMissingPayable, httpx.ErrValidation, "missing_payable"},
	{discount.ErrDuplicateKey, httpx.ErrValidation, "duplicate_key"},
	{coupons.ErrUnknownCoupon, httpx.ErrValidation, "unknown_coupon"},
	{milestones.ErrInvalidMilestone, httpx.ErrValidation, "invalid_milestone"},
	{milestones.ErrDuplicateMilestone, httpx.ErrValidation, "duplicate_milestone"},
	{milestones.ErrNotFound, httpx.ErrValidation, "unknown_milestone"},
	{milestones.ErrSettled, httpx.ErrValidation, "milestone_settled"},
	{ledger.ErrUnknownBillType, httpx.ErrValidation, "unknown_bill_type"},
	{ledger.ErrInvalidStatus, httpx.ErrValidation, "invalid_status"},
	{ledger.ErrInvalidScope, httpx.ErrValidation, "invalid_scope"},
	{ledger.ErrItemNotFound, httpx.ErrValidation, "unknown_item"},
	{ledger.ErrDuplicateItem, httpx.ErrValidation, "duplicate_item"},
	{orders.ErrInvalidMode, httpx.ErrValidation, "invalid_mode"},
	{orders.ErrInvalidTarget, httpx.ErrValidation, "invalid_target"},
	{orders.ErrMissingItem, httpx.ErrValidation, "missing_item"},
	{orders.ErrMissingAllocation, httpx.ErrValidation, "missing_allocation"},
	{orders.ErrAllocationStale, httpx.ErrValidation, "allocation_stale"},
	{optout.ErrNotEligible, httpx.ErrValidation, "not_eligible"},
	{optout.ErrWrongStatus, httpx.ErrValidation, "wrong_status"},
	{optout.ErrNoItems, httpx.ErrValidation, "no_items"},
	{billing.ErrDeclined, httpx.ErrDeclined, "confirmation_required"},
	{payments.ErrAttemptInFlight, httpx.ErrConflict, "attempt_in_flight"},
	{payments.ErrInvalidTransition, httpx.ErrConflict, "invalid_transition"},
	{payments.ErrWrongMode, httpx.ErrConflict, "wrong_mode"},
	{shared.ErrIdempotencyInProgress, httpx.ErrConflict, "request_in_progress"},
	{payments.ErrAttemptNotFound, httpx.ErrNotFound, "attempt_not_found"},
	{optout.ErrToggleFailed, httpx.ErrUpstream, "opt_out_failed"},
	{shared.ErrMissingToken, httpx.ErrUnauthorized, "missing_token"},
}

// classify maps a domain error onto an httpx sentinel with a stable code.
func classify(err error) error {
	var gatewayErr *payments.GatewayError
	if errors.As(err, &gatewayErr) {
		return httpx.WithCode("gateway_"+codeOr(gatewayErr.Code, "failed"), fmt.Errorf("%w: %w", httpx.ErrPayment, err))
	}
	var confirmErr *payments.ConfirmationError
	if errors.As(err, &confirmErr) {
		return httpx.WithCode("unreconciled", fmt.Errorf("%w: %w", httpx.ErrUpstream, err))
	}
	var orderErr *payments.OrderError
	if errors.As(err, &orderErr) {
		return httpx.WithCode("order_failed", fmt.Errorf("%w: %w", httpx.ErrUpstream, err))
	}
	var statusErr *orderservice.StatusError
	if errors.As(err, &statusErr) {
		return httpx.WithCode("order_service_status", fmt.Errorf("%w: %w", httpx.ErrUpstream, err))
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return httpx.WithCode(c.code, fmt.Errorf("%w: %w", c.sentinel, err))
		}
	}
	return err
}

func codeOr(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}
