package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
)

type fakeOrders struct {
	mu           sync.Mutex
	created      []orders.Order
	confirmed    []Confirmation
	nextID       int
	createErr    error
	confirmErr   error
	block        chan struct{}
	confirmBlock chan struct{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, _ string, order orders.Order) (OrderReceipt, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, order)
	if f.createErr != nil {
		return OrderReceipt{}, f.createErr
	}
	f.nextID++
	return OrderReceipt{OrderID: "ord-" + string(rune('0'+f.nextID)), TotalOrderAmount: order.PayableTotal()}, nil
}

func (f *fakeOrders) ConfirmTransaction(_ context.Context, _ string, c Confirmation) error {
	if f.confirmBlock != nil {
		<-f.confirmBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, c)
	return f.confirmErr
}

func (f *fakeOrders) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Refresh
}

func (n *fakeNotifier) LedgerChanged(_ context.Context, r Refresh) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, r)
	return nil
}

type stateCounter struct {
	states []string
}

func (c *stateCounter) ObserveAttempt(_, state string) { c.states = append(c.states, state) }

type harness struct {
	rec      *Reconciler
	orders   *fakeOrders
	notifier *fakeNotifier
	store    *MemoryStore
	locker   *LocalLocker
	metrics  *stateCounter
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		orders:   &fakeOrders{},
		notifier: &fakeNotifier{},
		store:    NewMemoryStore(),
		metrics:  &stateCounter{},
		locker:   NewLocalLocker(),
		clock:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h.locker.now = func() time.Time { return h.clock }
	h.rec = NewReconciler(Deps{
		Orders:   h.orders,
		Store:    h.store,
		Locker:   h.locker,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:   Config{Currency: "INR", GatewayKey: "rzp_test", LockTTL: 15 * time.Minute},
		Now:      func() time.Time { return h.clock },
	})
	return h
}

func sampleOrder(mode orders.PaymentMode) orders.Order {
	return orders.Order{PaymentMode: mode, OrderDetails: []orders.OrderLine{
		{
			Key:                        "TRIGGER",
			TotalOrderAmount:           decimal.NewFromInt(2000),
			PayableAmount:              decimal.NewFromInt(2000),
			DiscountAmount:             decimal.NewFromInt(200),
			PayableAfterDiscountAmount: decimal.NewFromInt(1800),
			PendingOrderAmount:         decimal.Zero,
			ProductType:                "TRIGGER",
			VisitID:                    "v-1",
		},
		{
			Key:                        "FET",
			TotalOrderAmount:           decimal.NewFromInt(3000),
			PayableAmount:              decimal.RequireFromString("1250.50"),
			DiscountAmount:             decimal.Zero,
			PayableAfterDiscountAmount: decimal.RequireFromString("1250.50"),
			PendingOrderAmount:         decimal.RequireFromString("1749.50"),
			ProductType:                "FET",
			VisitID:                    "v-1",
		},
	}}
}

func request(mode orders.PaymentMode, gate billing.ConfirmationGate) Request {
	return Request{Token: "tok", Target: orders.Target{VisitID: "v-1"}, Order: sampleOrder(mode), Gate: gate}
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeOrders) confirmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmed)
}

func TestOfflinePaymentConfirmsBeforeOrder(t *testing.T) {
	h := newHarness(t)
	var calledBefore int
	gate := billing.GateFunc(func(_ context.Context, p billing.Prompt) (bool, error) {
		calledBefore = h.orders.createCount()
		assert.Equal(t, "offline-payment", p.Action)
		assert.Contains(t, p.Message, "INR 3,050.50")
		return true, nil
	})

	attempt, err := h.rec.Begin(context.Background(), request(orders.ModeCash, gate))
	require.NoError(t, err)

	assert.Zero(t, calledBefore, "gate runs before createOrder")
	assert.Equal(t, StateReconciled, attempt.State)
	assert.Equal(t, "ord-1", attempt.OrderID)
	assert.True(t, attempt.Amount.Equal(decimal.RequireFromString("3050.50")))
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, attempt.ID, h.notifier.sent[0].AttemptID)
	assert.Equal(t, []billing.Key{"TRIGGER", "FET"}, h.notifier.sent[0].Keys)
	assert.False(t, attempt.SubmitEnabled())
	assert.True(t, attempt.Closed())

	history, err := h.rec.History(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, []State{StateOrderRequested, StateReconciled}, history)
}

func TestOfflineDeclineIssuesNoCall(t *testing.T) {
	h := newHarness(t)
	attempt, err := h.rec.Begin(context.Background(), request(orders.ModeUPI, billing.StaticGate(false)))
	assert.ErrorIs(t, err, billing.ErrDeclined)
	assert.Nil(t, attempt)
	assert.Zero(t, h.orders.createCount())

	_, err = h.rec.Begin(context.Background(), request(orders.ModeUPI, nil))
	assert.ErrorIs(t, err, billing.ErrDeclined)

	attempt, err = h.rec.Begin(context.Background(), request(orders.ModeUPI, billing.StaticGate(true)))
	require.NoError(t, err, "lock released after decline")
	assert.Equal(t, StateReconciled, attempt.State)
}

func TestOrderFailureLeavesAttemptFailed(t *testing.T) {
	h := newHarness(t)
	h.orders.createErr = errors.New("order service returned 500")

	attempt, err := h.rec.Begin(context.Background(), request(orders.ModeOnline, nil))
	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	require.NotNil(t, attempt)
	assert.Equal(t, StateOrderFailed, attempt.State)
	assert.True(t, attempt.SubmitEnabled())
	assert.Empty(t, h.notifier.sent)

	h.orders.createErr = nil
	next, err := h.rec.Begin(context.Background(), request(orders.ModeOnline, nil))
	require.NoError(t, err)
	assert.Equal(t, StateOrderCreated, next.State)
}

func TestOnlineSuccessReconciles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)
	assert.Equal(t, StateOrderCreated, attempt.State)
	assert.False(t, attempt.SubmitEnabled())

	cfg, err := h.rec.WidgetConfig(attempt)
	require.NoError(t, err)
	assert.Equal(t, WidgetConfig{Key: "rzp_test", AmountMinorUnits: 305050, Currency: "INR", OrderID: "ord-1"}, cfg)

	done, err := h.rec.Complete(ctx, "tok", attempt.ID, GatewayResult{Outcome: GatewaySucceeded, GatewayOrderID: "g-1", GatewayPaymentID: "pay_9"})
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, done.State)
	assert.Equal(t, "pay_9", done.TransactionID)
	assert.Equal(t, []Confirmation{{OrderID: "ord-1", TransactionID: "pay_9"}}, h.orders.confirmed)
	require.Len(t, h.notifier.sent, 1)

	_, err = h.rec.Complete(ctx, "tok", attempt.ID, GatewayResult{Outcome: GatewaySucceeded, GatewayPaymentID: "pay_9"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.notifier.sent, 1, "refresh emitted once")
}

func TestOnlineGatewayFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	failed, err := h.rec.Complete(ctx, "tok", first.ID, GatewayResult{Outcome: GatewayFailed, Code: "BAD_REQUEST_ERROR", Description: "card declined"})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	assert.Equal(t, StateIdle, failed.State)
	assert.True(t, failed.SubmitEnabled())
	assert.Empty(t, h.orders.confirmed)
	assert.Empty(t, h.notifier.sent)

	second, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "ord-2", second.OrderID)
	assert.Equal(t, 2, h.orders.createCount())
}

func TestConfirmationFailureLeavesUnreconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orders.confirmErr = errors.New("confirm returned 502")

	attempt, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	got, err := h.rec.Complete(ctx, "tok", attempt.ID, GatewayResult{Outcome: GatewaySucceeded, GatewayPaymentID: "pay_1"})
	var confErr *ConfirmationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "pay_1", confErr.TransactionID)
	assert.Equal(t, StateUnreconciled, got.State)
	assert.Empty(t, h.notifier.sent)
}

func TestInFlightAttemptBlocksDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	reordered := request(orders.ModeOnline, nil)
	reordered.Order.OrderDetails[0], reordered.Order.OrderDetails[1] = reordered.Order.OrderDetails[1], reordered.Order.OrderDetails[0]
	_, err = h.rec.Begin(ctx, reordered)
	assert.ErrorIs(t, err, ErrAttemptInFlight)
	assert.Equal(t, 1, h.orders.createCount())
}

func TestConcurrentSubmitsCreateOneOrder(t *testing.T) {
	h := newHarness(t)
	h.orders.block = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.rec.Begin(context.Background(), request(orders.ModeOnline, nil))
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.orders.block)
	wg.Wait()

	inFlight := 0
	for _, err := range errs {
		if errors.Is(err, ErrAttemptInFlight) {
			inFlight++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, inFlight)
	assert.Equal(t, 1, h.orders.createCount())
}

func TestAbandonKeepsOrderBillable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	d := OpenDialog("v-1")
	d, err = h.rec.CloseDialog(ctx, d, attempt.ID)
	require.NoError(t, err)
	assert.False(t, d.IsOpen())

	got, err := h.rec.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, got.State)
	assert.Equal(t, "ord-1", got.OrderID)
	assert.Equal(t, "dialog closed", got.FailureReason)
	assert.Empty(t, h.notifier.sent)

	again, err := h.rec.Abandon(ctx, attempt.ID, "twice")
	require.NoError(t, err)
	assert.Equal(t, "dialog closed", again.FailureReason)

	_, err = h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	assert.NoError(t, err, "lock released")
}

func TestPayWithWidget(t *testing.T) {
	h := newHarness(t)
	var opened WidgetConfig
	widget := WidgetFunc(func(_ context.Context, cfg WidgetConfig) (GatewayResult, error) {
		opened = cfg
		return GatewayResult{Outcome: GatewaySucceeded, GatewayPaymentID: "pay_7"}, nil
	})

	attempt, err := h.rec.Pay(context.Background(), request(orders.ModeOnline, nil), widget)
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, attempt.State)
	assert.Equal(t, "ord-1", opened.OrderID)
}

func TestPayWidgetClosedAbandons(t *testing.T) {
	h := newHarness(t)
	widget := WidgetFunc(func(context.Context, WidgetConfig) (GatewayResult, error) {
		return GatewayResult{}, errors.New("modal dismissed")
	})

	attempt, err := h.rec.Pay(context.Background(), request(orders.ModeOnline, nil), widget)
	assert.ErrorIs(t, err, ErrWidgetClosed)
	assert.Equal(t, StateAbandoned, attempt.State)
}

func TestCompleteRejectsOfflineAttempt(t *testing.T) {
	h := newHarness(t)
	attempt, err := h.rec.Begin(context.Background(), request(orders.ModeCash, billing.StaticGate(true)))
	require.NoError(t, err)

	_, err = h.rec.Complete(context.Background(), "tok", attempt.ID, GatewayResult{Outcome: GatewaySucceeded})
	assert.ErrorIs(t, err, ErrWrongMode)

	_, err = h.rec.WidgetConfig(attempt)
	assert.ErrorIs(t, err, ErrWrongMode)

	_, err = h.rec.Complete(context.Background(), "tok", "missing", GatewayResult{})
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestBeginValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.Begin(ctx, Request{Target: orders.Target{VisitID: "v"}})
	assert.ErrorIs(t, err, billing.ErrNothingSelected)

	req := request(orders.ModeOnline, nil)
	req.Order.PaymentMode = "CHEQUE"
	_, err = h.rec.Begin(ctx, req)
	assert.ErrorIs(t, err, orders.ErrInvalidMode)

	req = request(orders.ModeOnline, nil)
	req.Target = orders.Target{}
	_, err = h.rec.Begin(ctx, req)
	assert.ErrorIs(t, err, orders.ErrInvalidTarget)
	assert.Zero(t, h.orders.createCount())
}

func TestSweepAbandonedOnlyStaleOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	h.clock = h.clock.Add(time.Hour)
	freshReq := request(orders.ModeOnline, nil)
	freshReq.Target = orders.Target{VisitID: "v-2"}
	fresh, err := h.rec.Begin(ctx, freshReq)
	require.NoError(t, err)

	swept, err := h.rec.SweepAbandoned(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, _ := h.rec.Get(ctx, stale.ID)
	assert.Equal(t, StateAbandoned, got.State)
	got, _ = h.rec.Get(ctx, fresh.ID)
	assert.Equal(t, StateOrderCreated, got.State)
}

func TestMetricsObserveTransitions(t *testing.T) {
	h := newHarness(t)
	_, err := h.rec.Begin(context.Background(), request(orders.ModeCash, billing.StaticGate(true)))
	require.NoError(t, err)
	assert.Equal(t, []string{"ORDER_REQUESTED", "RECONCILED"}, h.metrics.states)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateOrderRequested))
	assert.True(t, CanTransition(StateOrderCreated, StateIdle))
	assert.False(t, CanTransition(StateReconciled, StateIdle))
	assert.False(t, CanTransition(StateOrderFailed, StateOrderCreated))
	assert.False(t, CanTransition(StateIdle, StateReconciled))
}

func TestDialog(t *testing.T) {
	d := OpenDialog("pkg-1")
	assert.True(t, d.IsOpenFor("pkg-1"))
	assert.False(t, d.IsOpenFor("pkg-2"))
	assert.Equal(t, "pkg-1", d.EntityID())
	closed := d.Close()
	assert.False(t, closed.IsOpen())
	assert.Empty(t, closed.EntityID())

	h := newHarness(t)
	out, err := h.rec.CloseDialog(context.Background(), d, "")
	require.NoError(t, err)
	assert.False(t, out.IsOpen())
}

func TestLapsedLockStillBlocksWaitingAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	h.clock = h.clock.Add(20 * time.Minute)
	_, err = h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	assert.ErrorIs(t, err, ErrAttemptInFlight, "first attempt is still waiting on the gateway")
	assert.Equal(t, 1, h.orders.createCount())

	_, err = h.rec.Complete(ctx, "tok", first.ID, GatewayResult{Outcome: GatewayFailed, Code: "BAD_REQUEST_ERROR"})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)

	second, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)
	assert.Equal(t, StateOrderCreated, second.State)

	_, err = h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	assert.ErrorIs(t, err, ErrAttemptInFlight)
	assert.Equal(t, 2, h.orders.createCount())
}

func TestLocalLockerReleaseChecksOwner(t *testing.T) {
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return clock }
	ctx := context.Background()

	ok, _ := locker.Acquire(ctx, "k", "a", 15*time.Minute)
	require.True(t, ok)
	clock = clock.Add(20 * time.Minute)
	ok, _ = locker.Acquire(ctx, "k", "b", 15*time.Minute)
	require.True(t, ok, "expired lock is retaken")

	require.NoError(t, locker.Release(ctx, "k", "a"))
	ok, _ = locker.Acquire(ctx, "k", "c", 15*time.Minute)
	assert.False(t, ok, "a stale owner cannot free the newer lock")

	require.NoError(t, locker.Release(ctx, "k", "b"))
	ok, _ = locker.Acquire(ctx, "k", "c", 15*time.Minute)
	assert.True(t, ok)
}

func TestOverlappingSelectionBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)

	triggerOnly := request(orders.ModeOnline, nil)
	triggerOnly.Order.OrderDetails = triggerOnly.Order.OrderDetails[:1]
	_, err = h.rec.Begin(ctx, triggerOnly)
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	other := request(orders.ModeOnline, nil)
	other.Order.OrderDetails = other.Order.OrderDetails[:1]
	other.Order.OrderDetails[0].Key = "OPU"
	other.Order.OrderDetails[0].ProductType = "OPU"
	_, err = h.rec.Begin(ctx, other)
	require.NoError(t, err, "disjoint keys may proceed")
	assert.Equal(t, 2, h.orders.createCount())

	held := 0
	for _, lock := range h.locker.held {
		if lock.expires.After(h.clock) {
			held++
		}
	}
	assert.Equal(t, 3, held, "TRIGGER, FET and OPU each hold a lock")
}

func TestConcurrentGatewayEventsConfirmOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)
	h.orders.confirmBlock = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.rec.Complete(ctx, "tok", attempt.ID, GatewayResult{Outcome: GatewaySucceeded, GatewayPaymentID: "pay_1"})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.orders.confirmBlock)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, h.orders.confirmCount())
	assert.Equal(t, 1, h.notifier.count())

	got, err := h.rec.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, got.State)
}

func TestMemoryStoreRejectsStaleSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := &Attempt{ID: "att-1", State: StateOrderCreated, Mode: orders.ModeOnline}
	require.NoError(t, store.Save(ctx, a))
	assert.Equal(t, 1, a.Version)

	first, err := store.Get(ctx, "att-1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "att-1")
	require.NoError(t, err)

	first.State = StateIdle
	require.NoError(t, store.Save(ctx, first))
	second.State = StateAbandoned
	assert.ErrorIs(t, store.Save(ctx, second), ErrInvalidTransition)

	assert.ErrorIs(t, store.Save(ctx, &Attempt{ID: "att-1"}), ErrInvalidTransition, "duplicate insert")

	history, err := store.History(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, []State{StateOrderCreated, StateIdle}, history)
}

func TestAbandonAfterGatewayReportRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.rec.Begin(ctx, request(orders.ModeOnline, nil))
	require.NoError(t, err)
	stored, err := h.store.Get(ctx, attempt.ID)
	require.NoError(t, err)
	stored.TransactionID = "pay_3"
	require.NoError(t, h.store.Save(ctx, stored))

	_, err = h.rec.Abandon(ctx, attempt.ID, "dialog closed")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	h.clock = h.clock.Add(time.Hour)
	swept, err := h.rec.SweepAbandoned(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := h.rec.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUnreconciled, got.State)
	assert.Equal(t, "pay_3", got.TransactionID)
	assert.Empty(t, h.notifier.sent)
}

func TestOrderAmountsRoundedPerLine(t *testing.T) {
	h := newHarness(t)
	req := request(orders.ModeOnline, nil)
	req.Order.OrderDetails = []orders.OrderLine{{
		Key:                        "TRIGGER",
		TotalOrderAmount:           decimal.NewFromInt(2000),
		PayableAmount:              decimal.NewFromInt(1000),
		DiscountAmount:             decimal.RequireFromString("12.345"),
		PayableAfterDiscountAmount: decimal.RequireFromString("987.655"),
		PendingOrderAmount:         decimal.NewFromInt(1000),
		ProductType:                "TRIGGER",
		VisitID:                    "v-1",
	}}

	attempt, err := h.rec.Begin(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, h.orders.created, 1)
	sent := h.orders.created[0].OrderDetails[0]
	assert.Equal(t, "12.35", sent.DiscountAmount.StringFixed(2))
	assert.Equal(t, "987.65", sent.PayableAfterDiscountAmount.StringFixed(2))
	assert.True(t, sent.DiscountAmount.Add(sent.PayableAfterDiscountAmount).Equal(sent.PayableAmount))

	cfg, err := h.rec.WidgetConfig(attempt)
	require.NoError(t, err)
	assert.Equal(t, int64(98765), cfg.AmountMinorUnits)
}
