package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
)

// OrderReceipt is the order service's answer to a successful createOrder.
type OrderReceipt struct {
	OrderID          string          `json:"orderId"`
	TotalOrderAmount decimal.Decimal `json:"totalOrderAmount"`
	VisitID          string          `json:"visitId,omitempty"`
	PackageDetails   json.RawMessage `json:"packageDetails,omitempty"`
}

// Confirmation forwards the gateway transaction to the order service.
type Confirmation struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
}

// OrderService is the external order collaborator. Any error, including a
// non-200 status, means the call did not succeed.
type OrderService interface {
	CreateOrder(ctx context.Context, token string, order orders.Order) (OrderReceipt, error)
	ConfirmTransaction(ctx context.Context, token string, c Confirmation) error
}

// Widget opens the external payment widget and blocks until it emits its
// terminal event. An error means the widget closed without one.
type Widget interface {
	Open(ctx context.Context, cfg WidgetConfig) (GatewayResult, error)
}

// WidgetFunc adapts a function to Widget.
type WidgetFunc func(ctx context.Context, cfg WidgetConfig) (GatewayResult, error)

// Open implements Widget.
func (f WidgetFunc) Open(ctx context.Context, cfg WidgetConfig) (GatewayResult, error) {
	return f(ctx, cfg)
}

// Notifier receives the ledger refresh signal.
type Notifier interface {
	LedgerChanged(ctx context.Context, refresh Refresh) error
}

// Locker guards each settled key against a second attempt. Locks are owned
// by an attempt id and only the owner can release them.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// AttemptStore persists attempts between the begin and complete steps.
//
// Save is a compare-and-set on Attempt.Version: it fails with
// ErrInvalidTransition when the stored attempt changed since it was read,
// and bumps Version on success.
type AttemptStore interface {
	Save(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	ListStale(ctx context.Context, state State, before time.Time, limit int) ([]Attempt, error)
	// ListInFlight returns attempts of target still in flight that settle any
	// of keys.
	ListInFlight(ctx context.Context, target orders.Target, keys []billing.Key) ([]Attempt, error)
	History(ctx context.Context, id string) ([]State, error)
}

// Recorder observes state transitions for metrics.
type Recorder interface {
	ObserveAttempt(mode, state string)
}
