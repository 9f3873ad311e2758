package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
)

// State enumerates payment attempt states.
type State string

const (
	StateIdle           State = "IDLE"
	StateOrderRequested State = "ORDER_REQUESTED"
	StateOrderFailed    State = "ORDER_FAILED"
	StateOrderCreated   State = "ORDER_CREATED"
	StateReconciled     State = "RECONCILED"
	StateUnreconciled   State = "UNRECONCILED"
	StateAbandoned      State = "ABANDONED"
)

var allowedTransitions = map[State]map[State]bool{
	StateIdle: {
		StateOrderRequested: true,
	},
	StateOrderRequested: {
		StateOrderFailed:  true,
		StateOrderCreated: true,
	},
	StateOrderCreated: {
		StateReconciled:   true,
		StateIdle:         true,
		StateUnreconciled: true,
		StateAbandoned:    true,
	},
}

// InFlight reports whether a request for the attempt may still be running.
// Submit controls stay disabled while true.
func (s State) InFlight() bool {
	return s == StateOrderRequested || s == StateOrderCreated
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

var (
	ErrAttemptInFlight   = errors.New("payments: a payment for this selection is already in progress")
	ErrAttemptNotFound   = errors.New("payments: attempt not found")
	ErrInvalidTransition = errors.New("payments: invalid state transition")
	ErrWrongMode         = errors.New("payments: operation not valid for payment mode")
	ErrWidgetClosed      = errors.New("payments: payment widget closed without a result")
)

// OrderError reports a transport or non-200 failure from order creation.
type OrderError struct {
	Err error
}

func (e *OrderError) Error() string { return "payments: create order: " + e.Err.Error() }

func (e *OrderError) Unwrap() error { return e.Err }

// GatewayError carries the failure reported by the payment gateway. Funds
// never moved.
type GatewayError struct {
	OrderID     string
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payments: gateway failed order %s: %s %s", e.OrderID, e.Code, e.Description)
}

// ConfirmationError reports that the gateway succeeded but the order service
// did not accept the transaction. The attempt is left unreconciled.
type ConfirmationError struct {
	OrderID       string
	TransactionID string
	Err           error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("payments: confirm transaction %s for order %s: %v", e.TransactionID, e.OrderID, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

// Attempt is one payment try. A failed attempt is never retried; the caller
// starts a new one.
type Attempt struct {
	ID            string             `json:"id"`
	Mode          orders.PaymentMode `json:"mode"`
	Target        orders.Target      `json:"target"`
	Keys          []billing.Key      `json:"keys"`
	State         State              `json:"state"`
	Order         orders.Order       `json:"order"`
	OrderID       string             `json:"orderId,omitempty"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency"`
	TransactionID string             `json:"transactionId,omitempty"`
	FailureCode   string             `json:"failureCode,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	// Version counts saves; stores reject a save based on an older read.
	Version int `json:"-"`
}

// GatewayReported reports whether a successful gateway event was already
// claimed for the attempt.
func (a *Attempt) GatewayReported() bool {
	return a.TransactionID != ""
}

// Overlaps reports whether the attempt settles any of keys.
func (a *Attempt) Overlaps(keys []billing.Key) bool {
	for _, k := range a.Keys {
		for _, other := range keys {
			if k == other {
				return true
			}
		}
	}
	return false
}

func errConcurrentUpdate(id string) error {
	return fmt.Errorf("%w: attempt %s was updated concurrently", ErrInvalidTransition, id)
}

// SubmitEnabled reports whether the user may start another attempt.
func (a *Attempt) SubmitEnabled() bool {
	return !a.State.InFlight() && a.State != StateReconciled
}

// Closed reports whether the attempt accepts no further events.
func (a *Attempt) Closed() bool {
	switch a.State {
	case StateOrderFailed, StateReconciled, StateUnreconciled, StateAbandoned:
		return true
	case StateIdle:
		return a.FailureCode != "" || a.OrderID != ""
	}
	return false
}

func (a *Attempt) transition(to State, at time.Time) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, to)
	}
	a.State = to
	a.UpdatedAt = at
	return nil
}

// WidgetConfig is what the external payment widget is opened with.
type WidgetConfig struct {
	Key              string `json:"key,omitempty"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
	OrderID          string `json:"orderId"`
}

// Widget returns the configuration for an online attempt.
func (a *Attempt) Widget(gatewayKey string) WidgetConfig {
	return WidgetConfig{
		Key:              gatewayKey,
		AmountMinorUnits: billing.MinorUnits(a.Amount),
		Currency:         a.Currency,
		OrderID:          a.OrderID,
	}
}

// GatewayOutcome is the terminal widget event kind.
type GatewayOutcome string

const (
	GatewaySucceeded GatewayOutcome = "success"
	GatewayFailed    GatewayOutcome = "failed"
)

// GatewayResult is the single terminal event emitted by the widget.
type GatewayResult struct {
	Outcome          GatewayOutcome `json:"outcome"`
	GatewayOrderID   string         `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string         `json:"gatewayPaymentId,omitempty"`
	Code             string         `json:"code,omitempty"`
	Description      string         `json:"description,omitempty"`
}

// Refresh is the single ledger invalidation emitted on reconciliation.
type Refresh struct {
	AttemptID string             `json:"attemptId"`
	OrderID   string             `json:"orderId"`
	Mode      orders.PaymentMode `json:"mode"`
	Target    orders.Target      `json:"target"`
	Keys      []billing.Key      `json:"keys"`
}
