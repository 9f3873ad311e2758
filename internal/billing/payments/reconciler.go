package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
)

const defaultLockTTL = 45 * time.Minute

// Config holds reconciler settings. LockTTL must outlive the abandon window
// of the sweep so a waiting online attempt keeps its locks.
type Config struct {
	Currency   string
	GatewayKey string
	LockTTL    time.Duration
}

// Deps groups the collaborators of a Reconciler.
type Deps struct {
	Orders   OrderService
	Store    AttemptStore
	Locker   Locker
	Notifier Notifier
	Metrics  Recorder
	Logger   *slog.Logger
	Config   Config
	Now      func() time.Time
}

// Reconciler drives payment attempts through order creation, the channel
// specific confirmation and the final ledger refresh.
type Reconciler struct {
	orders   OrderService
	store    AttemptStore
	locker   Locker
	notifier Notifier
	metrics  Recorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewReconciler wires a Reconciler. A nil store or locker falls back to the
// in-process implementations.
func NewReconciler(deps Deps) *Reconciler {
	r := &Reconciler{
		orders:   deps.Orders,
		store:    deps.Store,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      deps.Config,
		now:      deps.Now,
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.locker == nil {
		r.locker = NewLocalLocker()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.cfg.LockTTL <= 0 {
		r.cfg.LockTTL = defaultLockTTL
	}
	if r.cfg.Currency == "" {
		r.cfg.Currency = "INR"
	}
	return r
}

// Request starts a payment attempt for an already built order.
type Request struct {
	Token  string
	Target orders.Target
	Order  orders.Order
	// Gate must accept before an offline order is requested.
	Gate billing.ConfirmationGate
}

// Begin validates the request, locks every selected key and creates the
// order. Offline modes are confirmed first and end Reconciled; online
// attempts end in OrderCreated awaiting Complete. The order is sent with
// amounts rounded the way the gateway charges them.
func (r *Reconciler) Begin(ctx context.Context, req Request) (*Attempt, error) {
	if len(req.Order.OrderDetails) == 0 {
		return nil, billing.ErrNothingSelected
	}
	if !req.Order.PaymentMode.Valid() {
		return nil, fmt.Errorf("%w: %q", orders.ErrInvalidMode, req.Order.PaymentMode)
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	order := req.Order.Presented()
	attempt := &Attempt{
		ID:        uuid.NewString(),
		Mode:      order.PaymentMode,
		Target:    req.Target,
		Keys:      order.Keys(),
		State:     StateIdle,
		Order:     order,
		Amount:    order.PayableTotal(),
		Currency:  r.cfg.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.lock(ctx, attempt); err != nil {
		return nil, err
	}

	if attempt.Mode.Offline() {
		prompt := billing.Prompt{
			Action:  "offline-payment",
			Subject: req.Target.Ref(),
			Message: fmt.Sprintf("Record %s payment of %s?", attempt.Mode, billing.FormatMoney(attempt.Currency, attempt.Amount)),
		}
		if err := billing.Await(ctx, req.Gate, prompt); err != nil {
			r.release(ctx, attempt)
			return nil, err
		}
	}

	if err := attempt.transition(StateOrderRequested, r.now()); err != nil {
		r.release(ctx, attempt)
		return nil, err
	}
	if err := r.save(ctx, attempt); err != nil {
		r.release(ctx, attempt)
		return nil, fmt.Errorf("payments: save attempt: %w", err)
	}

	receipt, err := r.orders.CreateOrder(ctx, req.Token, order)
	if err != nil {
		_ = attempt.transition(StateOrderFailed, r.now())
		attempt.FailureReason = err.Error()
		r.persist(ctx, attempt)
		r.release(ctx, attempt)
		r.logger.Error("create order failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("mode", string(attempt.Mode)),
			slog.String("target", req.Target.Ref()),
			slog.Any("error", err))
		return attempt, &OrderError{Err: err}
	}

	if err := attempt.transition(StateOrderCreated, r.now()); err != nil {
		r.release(ctx, attempt)
		return attempt, err
	}
	attempt.OrderID = receipt.OrderID
	r.logger.Info("order created",
		slog.String("attempt_id", attempt.ID),
		slog.String("order_id", receipt.OrderID),
		slog.String("mode", string(attempt.Mode)),
		slog.String("amount", billing.Present(attempt.Amount).String()))

	if attempt.Mode.Offline() {
		r.reconcile(ctx, attempt)
		return attempt, nil
	}
	r.persist(ctx, attempt)
	return attempt, nil
}

// Complete consumes the single terminal widget event of an online attempt.
// The event is claimed in the store before anything is forwarded, so a
// repeated or concurrent event for the same attempt fails with
// ErrInvalidTransition.
func (r *Reconciler) Complete(ctx context.Context, token, attemptID string, result GatewayResult) (*Attempt, error) {
	attempt, err := r.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Mode != orders.ModeOnline {
		return attempt, fmt.Errorf("%w: %s has no gateway step", ErrWrongMode, attempt.Mode)
	}
	if attempt.State != StateOrderCreated {
		return attempt, fmt.Errorf("%w: gateway event in state %s", ErrInvalidTransition, attempt.State)
	}
	if attempt.GatewayReported() {
		return attempt, fmt.Errorf("%w: gateway event already received for %s", ErrInvalidTransition, attempt.ID)
	}

	switch result.Outcome {
	case GatewayFailed:
		if err := attempt.transition(StateIdle, r.now()); err != nil {
			return attempt, err
		}
		attempt.FailureCode = result.Code
		attempt.FailureReason = result.Description
		if err := r.save(ctx, attempt); err != nil {
			return r.current(ctx, attemptID, err)
		}
		r.release(ctx, attempt)
		r.logger.Warn("gateway payment failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("order_id", attempt.OrderID),
			slog.String("code", result.Code),
			slog.String("description", result.Description))
		return attempt, &GatewayError{OrderID: attempt.OrderID, Code: result.Code, Description: result.Description}
	case GatewaySucceeded:
		if result.GatewayPaymentID == "" {
			return attempt, fmt.Errorf("%w: success event without payment id", ErrInvalidTransition)
		}
	default:
		return attempt, fmt.Errorf("%w: unknown gateway outcome %q", ErrInvalidTransition, result.Outcome)
	}

	attempt.TransactionID = result.GatewayPaymentID
	attempt.UpdatedAt = r.now()
	if err := r.store.Save(ctx, attempt); err != nil {
		return r.current(ctx, attemptID, err)
	}

	confirmation := Confirmation{OrderID: attempt.OrderID, TransactionID: result.GatewayPaymentID}
	if err := r.orders.ConfirmTransaction(ctx, token, confirmation); err != nil {
		r.unreconciled(ctx, attempt, err.Error())
		r.logger.Error("confirm transaction failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("order_id", attempt.OrderID),
			slog.String("transaction_id", confirmation.TransactionID),
			slog.Any("error", err))
		return attempt, &ConfirmationError{OrderID: attempt.OrderID, TransactionID: confirmation.TransactionID, Err: err}
	}
	r.reconcile(ctx, attempt)
	return attempt, nil
}

// Abandon closes an online attempt whose dialog went away while the widget
// was open. No cancel call exists on the order service; the created order
// stays on record as abandoned but billable. An attempt whose gateway
// payment was already reported cannot be abandoned.
func (r *Reconciler) Abandon(ctx context.Context, attemptID, reason string) (*Attempt, error) {
	attempt, err := r.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Closed() {
		return attempt, nil
	}
	if attempt.GatewayReported() {
		return attempt, fmt.Errorf("%w: gateway already reported payment %s", ErrInvalidTransition, attempt.TransactionID)
	}
	if err := attempt.transition(StateAbandoned, r.now()); err != nil {
		return attempt, err
	}
	attempt.FailureReason = reason
	if err := r.save(ctx, attempt); err != nil {
		return r.current(ctx, attemptID, err)
	}
	r.release(ctx, attempt)
	r.logger.Warn("payment attempt abandoned, order left unreconciled",
		slog.String("attempt_id", attempt.ID),
		slog.String("order_id", attempt.OrderID),
		slog.String("reason", reason))
	return attempt, nil
}

// Pay runs a whole attempt, opening widget for online payments.
func (r *Reconciler) Pay(ctx context.Context, req Request, widget Widget) (*Attempt, error) {
	attempt, err := r.Begin(ctx, req)
	if err != nil || attempt.State != StateOrderCreated {
		return attempt, err
	}
	if widget == nil {
		return r.Abandon(ctx, attempt.ID, "no payment widget")
	}
	result, err := widget.Open(ctx, attempt.Widget(r.cfg.GatewayKey))
	if err != nil {
		abandoned, abandonErr := r.Abandon(context.WithoutCancel(ctx), attempt.ID, err.Error())
		if abandonErr != nil {
			return abandoned, errors.Join(err, abandonErr)
		}
		return abandoned, fmt.Errorf("%w: %v", ErrWidgetClosed, err)
	}
	return r.Complete(ctx, req.Token, attempt.ID, result)
}

// Get loads an attempt.
func (r *Reconciler) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	return r.store.Get(ctx, attemptID)
}

// History lists the states attemptID passed through.
func (r *Reconciler) History(ctx context.Context, attemptID string) ([]State, error) {
	return r.store.History(ctx, attemptID)
}

// WidgetConfig returns the widget configuration for an online attempt.
func (r *Reconciler) WidgetConfig(attempt *Attempt) (WidgetConfig, error) {
	if attempt.Mode != orders.ModeOnline || attempt.State != StateOrderCreated {
		return WidgetConfig{}, fmt.Errorf("%w: no widget for %s attempt in %s", ErrWrongMode, attempt.Mode, attempt.State)
	}
	return attempt.Widget(r.cfg.GatewayKey), nil
}

// CloseDialog closes d. An online attempt still waiting on the widget is
// abandoned.
func (r *Reconciler) CloseDialog(ctx context.Context, d Dialog, attemptID string) (Dialog, error) {
	if !d.IsOpen() || attemptID == "" {
		return d.Close(), nil
	}
	attempt, err := r.store.Get(ctx, attemptID)
	if err != nil {
		return d, err
	}
	if attempt.State == StateOrderCreated && attempt.Mode == orders.ModeOnline {
		if _, err := r.Abandon(ctx, attemptID, "dialog closed"); err != nil {
			return d, err
		}
	}
	return d.Close(), nil
}

// SweepAbandoned abandons online attempts left in OrderCreated longer than
// olderThan.
func (r *Reconciler) SweepAbandoned(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := r.store.ListStale(ctx, StateOrderCreated, r.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		a := &stale[i]
		if a.Mode != orders.ModeOnline {
			continue
		}
		if a.GatewayReported() {
			// Paid at the gateway but the confirmation never finished.
			if r.unreconciled(ctx, a, "confirmation did not complete") == nil {
				swept++
			}
			continue
		}
		if _, err := r.Abandon(ctx, a.ID, "gateway timed out"); err != nil {
			r.logger.Warn("sweep abandon failed", slog.String("attempt_id", a.ID), slog.Any("error", err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (r *Reconciler) reconcile(ctx context.Context, attempt *Attempt) {
	if err := attempt.transition(StateReconciled, r.now()); err != nil {
		r.logger.Error("reconcile transition", slog.String("attempt_id", attempt.ID), slog.Any("error", err))
		return
	}
	if err := r.persist(ctx, attempt); errors.Is(err, ErrInvalidTransition) {
		return
	}
	r.release(ctx, attempt)
	r.logger.Info("payment reconciled",
		slog.String("attempt_id", attempt.ID),
		slog.String("order_id", attempt.OrderID),
		slog.String("mode", string(attempt.Mode)))
	if r.notifier == nil {
		return
	}
	refresh := Refresh{
		AttemptID: attempt.ID,
		OrderID:   attempt.OrderID,
		Mode:      attempt.Mode,
		Target:    attempt.Target,
		Keys:      attempt.Keys,
	}
	if err := r.notifier.LedgerChanged(ctx, refresh); err != nil {
		r.logger.Error("ledger refresh notify", slog.String("attempt_id", attempt.ID), slog.Any("error", err))
	}
}

func (r *Reconciler) unreconciled(ctx context.Context, attempt *Attempt, reason string) error {
	if err := attempt.transition(StateUnreconciled, r.now()); err != nil {
		return err
	}
	attempt.FailureReason = reason
	if err := r.persist(ctx, attempt); err != nil {
		return err
	}
	r.release(ctx, attempt)
	return nil
}

// current returns the stored attempt alongside err, for callers that lost a
// race on it.
func (r *Reconciler) current(ctx context.Context, attemptID string, err error) (*Attempt, error) {
	if stored, getErr := r.store.Get(ctx, attemptID); getErr == nil {
		return stored, err
	}
	return nil, err
}

func (r *Reconciler) save(ctx context.Context, attempt *Attempt) error {
	if err := r.store.Save(ctx, attempt); err != nil {
		return err
	}
	r.observe(attempt)
	return nil
}

func (r *Reconciler) persist(ctx context.Context, attempt *Attempt) error {
	err := r.save(ctx, attempt)
	if err != nil {
		r.logger.Error("save attempt", slog.String("attempt_id", attempt.ID), slog.String("state", string(attempt.State)), slog.Any("error", err))
	}
	return err
}

func (r *Reconciler) observe(attempt *Attempt) {
	if r.metrics != nil {
		r.metrics.ObserveAttempt(string(attempt.Mode), string(attempt.State))
	}
}

// lock takes every key lock of attempt in sorted order, then checks the store
// for in-flight attempts whose locks may have lapsed. Nothing stays held on
// failure.
func (r *Reconciler) lock(ctx context.Context, attempt *Attempt) error {
	keys := r.lockKeys(attempt)
	for i, key := range keys {
		ok, err := r.locker.Acquire(ctx, key, attempt.ID, r.cfg.LockTTL)
		if err != nil || !ok {
			r.unlock(ctx, attempt.ID, keys[:i])
			if err != nil {
				return fmt.Errorf("payments: acquire lock: %w", err)
			}
			return ErrAttemptInFlight
		}
	}
	inFlight, err := r.store.ListInFlight(ctx, attempt.Target, attempt.Keys)
	if err != nil {
		r.unlock(ctx, attempt.ID, keys)
		return fmt.Errorf("payments: check in-flight attempts: %w", err)
	}
	if len(inFlight) > 0 {
		r.unlock(ctx, attempt.ID, keys)
		return fmt.Errorf("%w: attempt %s is %s", ErrAttemptInFlight, inFlight[0].ID, inFlight[0].State)
	}
	return nil
}

func (r *Reconciler) release(ctx context.Context, attempt *Attempt) {
	r.unlock(ctx, attempt.ID, r.lockKeys(attempt))
}

func (r *Reconciler) unlock(ctx context.Context, owner string, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := r.locker.Release(ctx, key, owner); err != nil {
			r.logger.Warn("release payment lock", slog.String("key", key), slog.Any("error", err))
		}
	}
}

func (r *Reconciler) lockKeys(attempt *Attempt) []string {
	keys := make([]string, len(attempt.Keys))
	for i, k := range attempt.Keys {
		keys[i] = string(k)
	}
	return shared.PaymentLockKeys(attempt.Target.Ref(), keys)
}
