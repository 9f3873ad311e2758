package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/platform/db"
)

// Repository journals attempts in PostgreSQL. It never touches ledger or
// milestone tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const attemptColumns = `id, mode, appointment_id, visit_id, keys, state, order_payload, order_id,
	amount::text, currency, transaction_id, failure_code, failure_reason, created_at, updated_at, version`

// Save writes the attempt if its stored version still matches the one it was
// read at, and appends a history event whenever the state changed. Both
// happen in one transaction under a row lock.
func (r *Repository) Save(ctx context.Context, a *Attempt) error {
	payload, err := json.Marshal(a.Order)
	if err != nil {
		return fmt.Errorf("payments: encode order: %w", err)
	}
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			stored  string
			version int
		)
		err := tx.QueryRow(ctx, `SELECT state, version FROM payment_attempts WHERE id = $1 FOR UPDATE`, a.ID).Scan(&stored, &version)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if a.Version != 0 {
				return errConcurrentUpdate(a.ID)
			}
			if err := insertAttempt(ctx, tx, a, payload); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if version != a.Version {
				return errConcurrentUpdate(a.ID)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE payment_attempts SET
					state = $2, order_id = $3, transaction_id = $4, failure_code = $5,
					failure_reason = $6, updated_at = $7, version = version + 1
				WHERE id = $1`,
				a.ID, string(a.State), nullText(a.OrderID), nullText(a.TransactionID),
				nullText(a.FailureCode), nullText(a.FailureReason), a.UpdatedAt); err != nil {
				return err
			}
			if stored == string(a.State) {
				return nil
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payment_attempt_events (attempt_id, state, failure_code, occurred_at)
			VALUES ($1, $2, $3, $4)`,
			a.ID, string(a.State), nullText(a.FailureCode), a.UpdatedAt)
		return err
	})
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

func insertAttempt(ctx context.Context, tx pgx.Tx, a *Attempt, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_attempts (
			id, mode, appointment_id, visit_id, keys, state, order_payload, order_id,
			amount, currency, transaction_id, failure_code, failure_reason, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14, $15, 1)`,
		a.ID,
		string(a.Mode),
		nullText(a.Target.AppointmentID),
		nullText(a.Target.VisitID),
		keyStrings(a.Keys),
		string(a.State),
		payload,
		nullText(a.OrderID),
		a.Amount.String(),
		a.Currency,
		nullText(a.TransactionID),
		nullText(a.FailureCode),
		nullText(a.FailureReason),
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

// ListInFlight lists in-flight attempts of target whose keys overlap keys.
func (r *Repository) ListInFlight(ctx context.Context, target orders.Target, keys []billing.Key) ([]Attempt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+`
		FROM payment_attempts
		WHERE appointment_id IS NOT DISTINCT FROM $1
		  AND visit_id IS NOT DISTINCT FROM $2
		  AND state = ANY($3)
		  AND keys && $4
		ORDER BY created_at`,
		nullText(target.AppointmentID), nullText(target.VisitID),
		[]string{string(StateOrderRequested), string(StateOrderCreated)}, keyStrings(keys))
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// History lists the states an attempt passed through, oldest first.
func (r *Repository) History(ctx context.Context, id string) ([]State, error) {
	rows, err := r.pool.Query(ctx, `SELECT state FROM payment_attempt_events WHERE attempt_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (State, error) {
		var state string
		err := row.Scan(&state)
		return State(state), err
	})
}

// Get loads an attempt by id.
func (r *Repository) Get(ctx context.Context, id string) (*Attempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListStale lists attempts in state not updated since before.
func (r *Repository) ListStale(ctx context.Context, state State, before time.Time, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+`
		FROM payment_attempts
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, string(state), before, limit)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func collectAttempts(rows pgx.Rows) ([]Attempt, error) {
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var (
		a                                     Attempt
		mode, state, amount                   string
		appointmentID, visitID, orderID       pgtype.Text
		transactionID, failureCode, failureRe pgtype.Text
		keys                                  []string
		payload                               []byte
	)
	if err := row.Scan(&a.ID, &mode, &appointmentID, &visitID, &keys, &state, &payload, &orderID,
		&amount, &a.Currency, &transactionID, &failureCode, &failureRe, &a.CreatedAt, &a.UpdatedAt, &a.Version); err != nil {
		return nil, err
	}
	a.Mode = orders.PaymentMode(mode)
	a.State = State(state)
	a.Target = orders.Target{AppointmentID: appointmentID.String, VisitID: visitID.String}
	a.OrderID = orderID.String
	a.TransactionID = transactionID.String
	a.FailureCode = failureCode.String
	a.FailureReason = failureRe.String
	a.Keys = make([]billing.Key, len(keys))
	for i, k := range keys {
		a.Keys[i] = billing.Key(k)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("payments: decode amount: %w", err)
	}
	a.Amount = value
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Order); err != nil {
			return nil, fmt.Errorf("payments: decode order: %w", err)
		}
	}
	return &a, nil
}

func keyStrings(keys []billing.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func nullText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}
