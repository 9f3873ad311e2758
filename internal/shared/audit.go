package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one row of the billing audit trail.
type AuditEntry struct {
	Action    string
	Entity    string
	EntityID  string
	RequestID string
	Meta      map[string]any
	At        time.Time
}

// AuditRecorder is implemented by AuditLogger and test fakes.
type AuditRecorder interface {
	Record(ctx context.Context, entries ...AuditEntry) error
}

// AuditLogger writes entries into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool, now: time.Now}
}

// Record persists every entry in a single batch round trip. Entries without
// a request id take the one chi assigned to the current request.
func (l *AuditLogger) Record(ctx context.Context, entries ...AuditEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.Action == "" || e.Entity == "" || e.EntityID == "" {
			return errors.New("audit entry requires action/entity/entity_id")
		}
		if e.RequestID == "" {
			e.RequestID = middleware.GetReqID(ctx)
		}
		if e.At.IsZero() {
			e.At = l.now()
		}
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("audit meta for %s %s: %w", e.Entity, e.EntityID, err)
		}
		batch.Queue(`INSERT INTO audit_logs (action, entity, entity_id, request_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Action, e.Entity, e.EntityID, nullText(e.RequestID), meta, e.At)
	}
	return l.pool.SendBatch(ctx, batch).Close()
}

func nullText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
