package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerRefresh tells ledger consumers to re-fetch after a payment.
	TaskLedgerRefresh = "billing:ledger_refresh"
	// TaskAttemptSweep abandons online attempts whose gateway never answered.
	TaskAttemptSweep = "billing:attempt_sweep"
	// RefreshChannel is the pub/sub channel carrying ledger refresh signals.
	RefreshChannel = "billing.refresh"
	// LedgerNamespace versions cached ledger views. Refreshes bump it.
	LedgerNamespace = "billing:ledger"
)

// NewLedgerRefreshTask constructs an Asynq task for a refresh signal.
func NewLedgerRefreshTask(refresh payments.Refresh) (*asynq.Task, error) {
	data, err := json.Marshal(refresh)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerRefresh, data), nil
}

// SweepPayload bounds one sweep run.
type SweepPayload struct {
	OlderThanSeconds int `json:"older_than_seconds"`
	Limit            int `json:"limit"`
}

// NewAttemptSweepTask constructs the periodic sweep task.
func NewAttemptSweepTask(olderThan time.Duration, limit int) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{OlderThanSeconds: int(olderThan / time.Second), Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttemptSweep, data), nil
}

// Bumper invalidates cached ledger views and broadcasts the change.
type Bumper interface {
	Bump(ctx context.Context, channel string, payload []byte) (int64, error)
}

// Sweeper abandons stale attempts.
type Sweeper interface {
	SweepAbandoned(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// JobRecorder counts job executions.
type JobRecorder interface {
	ObserveJob(task string, err error)
}

// LedgerRefreshHandler processes TaskLedgerRefresh tasks.
func LedgerRefreshHandler(bumper Bumper, logger *slog.Logger, metrics JobRecorder) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var refresh payments.Refresh
		if err := json.Unmarshal(t.Payload(), &refresh); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if refresh.AttemptID == "" {
			return fmt.Errorf("ledger refresh without attempt: %w", asynq.SkipRetry)
		}
		version, err := bumper.Bump(ctx, RefreshChannel, t.Payload())
		observeJob(metrics, TaskLedgerRefresh, err)
		if err != nil {
			logger.Error("ledger refresh", slog.String("attempt_id", refresh.AttemptID), slog.Any("error", err))
			return err
		}
		logger.Info("ledger refresh published",
			slog.String("job", TaskLedgerRefresh),
			slog.String("attempt_id", refresh.AttemptID),
			slog.String("target", refresh.Target.Ref()),
			slog.Int64("version", version))
		return nil
	}
}

// AttemptSweepHandler processes TaskAttemptSweep tasks. defaultAge applies
// when the payload carries no age.
func AttemptSweepHandler(sweeper Sweeper, defaultAge time.Duration, logger *slog.Logger, metrics JobRecorder) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
		}
		age := time.Duration(payload.OlderThanSeconds) * time.Second
		if age <= 0 {
			age = defaultAge
		}
		limit := payload.Limit
		if limit <= 0 {
			limit = 100
		}
		if sweeper == nil {
			return errors.New("attempt sweep: sweeper not configured")
		}
		swept, err := sweeper.SweepAbandoned(ctx, age, limit)
		observeJob(metrics, TaskAttemptSweep, err)
		if err != nil {
			logger.Error("attempt sweep", slog.Any("error", err))
			return err
		}
		if swept > 0 {
			logger.Info("abandoned stale payment attempts", slog.String("job", TaskAttemptSweep), slog.Int("count", swept))
		}
		return nil
	}
}

func observeJob(metrics JobRecorder, task string, err error) {
	if metrics != nil {
		metrics.ObserveJob(task, err)
	}
}

// TaskIdempotencyCleanup prunes old idempotency keys.
const TaskIdempotencyCleanup = "billing:idempotency_cleanup"

// CleanupPayload carries the retention window.
type CleanupPayload struct {
	RetentionSeconds int `json:"retention_seconds"`
}

// NewIdempotencyCleanupTask constructs the nightly cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{RetentionSeconds: int(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// Cleaner deletes idempotency keys older than a retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks.
func IdempotencyCleanupHandler(cleaner Cleaner, logger *slog.Logger, metrics JobRecorder) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if payload.RetentionSeconds <= 0 {
			return fmt.Errorf("cleanup without retention: %w", asynq.SkipRetry)
		}
		err := cleaner.Cleanup(ctx, time.Duration(payload.RetentionSeconds)*time.Second)
		observeJob(metrics, TaskIdempotencyCleanup, err)
		if err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
