package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
	"github.com/odyssey-erp/treatment-billing/internal/platform/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	ids   map[string]bool
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id := opt.Value().(string)
			if f.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			f.ids[id] = true
		}
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeSweeper struct {
	age   time.Duration
	limit int
	count int
	err   error
}

func (f *fakeSweeper) SweepAbandoned(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.age = olderThan
	f.limit = limit
	return f.count, f.err
}

type jobCounter map[string]int

func (c jobCounter) ObserveJob(task string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c[task+":"+status]++
}

func sampleRefresh() payments.Refresh {
	return payments.Refresh{
		AttemptID: "att-1",
		OrderID:   "ord-1",
		Mode:      orders.ModeCash,
		Target:    orders.Target{AppointmentID: "appt-9"},
		Keys:      []billing.Key{"REGISTRATION"},
	}
}

func TestLedgerChangedEnqueuesOncePerAttempt(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)

	require.NoError(t, client.LedgerChanged(context.Background(), sampleRefresh()))
	require.NoError(t, client.LedgerChanged(context.Background(), sampleRefresh()))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskLedgerRefresh, enq.tasks[0].Type())
	assert.Contains(t, string(enq.tasks[0].Payload()), `"attemptId":"att-1"`)
}

func TestLedgerRefreshHandlerBumpsAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewCache(client, LedgerNamespace, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before, err := c.Version(ctx)
	require.NoError(t, err)

	received := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(ctx, RefreshChannel, func(payload []byte) {
		received <- payload
	}))

	task, err := NewLedgerRefreshTask(sampleRefresh())
	require.NoError(t, err)
	counter := jobCounter{}
	require.NoError(t, LedgerRefreshHandler(c, discardLogger(), counter)(ctx, task))

	after, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
	assert.Equal(t, 1, counter[TaskLedgerRefresh+":ok"])

	select {
	case payload := <-received:
		assert.Contains(t, string(payload), `"orderId":"ord-1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh signal not published")
	}
}

func TestLedgerRefreshHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := LedgerRefreshHandler(nil, discardLogger(), nil)
	err := handler(context.Background(), asynq.NewTask(TaskLedgerRefresh, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = handler(context.Background(), asynq.NewTask(TaskLedgerRefresh, []byte(`{}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestAttemptSweepHandlerUsesPayloadThenDefaults(t *testing.T) {
	sweeper := &fakeSweeper{count: 2}
	handler := AttemptSweepHandler(sweeper, 30*time.Minute, discardLogger(), nil)

	task, err := NewAttemptSweepTask(10*time.Minute, 25)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 10*time.Minute, sweeper.age)
	assert.Equal(t, 25, sweeper.limit)

	require.NoError(t, handler(context.Background(), asynq.NewTask(TaskAttemptSweep, nil)))
	assert.Equal(t, 30*time.Minute, sweeper.age)
	assert.Equal(t, 100, sweeper.limit)
}

func TestAttemptSweepHandlerPropagatesErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	counter := jobCounter{}
	err := AttemptSweepHandler(sweeper, time.Minute, discardLogger(), counter)(context.Background(), asynq.NewTask(TaskAttemptSweep, nil))
	require.Error(t, err)
	assert.Equal(t, 1, counter[TaskAttemptSweep+":error"])
}

type fakeCleaner struct {
	retention time.Duration
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.retention = olderThan
	return nil
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &fakeCleaner{}
	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, IdempotencyCleanupHandler(cleaner, discardLogger(), nil)(context.Background(), task))
	assert.Equal(t, 48*time.Hour, cleaner.retention)

	err = IdempotencyCleanupHandler(cleaner, discardLogger(), nil)(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestRedisOpt(t *testing.T) {
	opt, err := RedisOpt("127.0.0.1:6379")
	require.NoError(t, err)
	assert.Equal(t, asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}, opt)

	opt, err = RedisOpt("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	client, ok := opt.(asynq.RedisClientOpt)
	require.True(t, ok)
	assert.Equal(t, "cache:6380", client.Addr)
	assert.Equal(t, "secret", client.Password)
	assert.Equal(t, 2, client.DB)

	_, err = RedisOpt("memcached://cache")
	assert.Error(t, err)
}
