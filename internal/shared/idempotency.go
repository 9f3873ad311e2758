package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore remembers which request key produced which resource so a
// repeated submit does not create a second order.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

var (
	// ErrIdempotencyConflict indicates the key was already used; the
	// original resource reference accompanies it when known.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyInProgress indicates the first request with the key has
	// not finished.
	ErrIdempotencyInProgress = errors.New("idempotent request still in progress")
)

// Claim reserves key within module. When the key is taken it returns the
// stored reference with ErrIdempotencyConflict, or ErrIdempotencyInProgress
// while no reference is bound yet.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string) (string, error) {
	if s == nil {
		return "", errors.New("idempotency store not initialised")
	}
	if key == "" {
		return "", errors.New("idempotency key required")
	}
	if module == "" {
		return "", errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err == nil {
		return "", nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", err
	}
	var ref *string
	if err := s.pool.QueryRow(ctx, `SELECT ref FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrIdempotencyInProgress
		}
		return "", err
	}
	if ref == nil || *ref == "" {
		return "", ErrIdempotencyInProgress
	}
	return *ref, ErrIdempotencyConflict
}

// Bind records the resource produced for key.
func (s *IdempotencyStore) Bind(ctx context.Context, key, module, ref string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET ref=$3 WHERE key=$1 AND module=$2`, key, module, ref)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Release removes a key so the request can be replayed, used when the first
// attempt failed before any side effect.
func (s *IdempotencyStore) Release(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}
