package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
)

// MemoryStore keeps attempts in process. It backs library use of Pay and
// tests; the service uses Repository.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	history  map[string][]State
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]Attempt), history: make(map[string][]State)}
}

// Save stores a copy of attempt if nobody saved it since it was read.
func (s *MemoryStore) Save(_ context.Context, attempt *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.attempts[attempt.ID]
	if exists != (attempt.Version > 0) || (exists && current.Version != attempt.Version) {
		return errConcurrentUpdate(attempt.ID)
	}
	attempt.Version++
	s.attempts[attempt.ID] = cloneAttempt(*attempt)
	if !exists || current.State != attempt.State {
		s.history[attempt.ID] = append(s.history[attempt.ID], attempt.State)
	}
	return nil
}

// ListInFlight returns in-flight attempts of target overlapping keys.
func (s *MemoryStore) ListInFlight(_ context.Context, target orders.Target, keys []billing.Key) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.Target == target && a.State.InFlight() && a.Overlaps(keys) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// History returns every saved state for id, oldest first.
func (s *MemoryStore) History(_ context.Context, id string) ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[id]; !ok {
		return nil, ErrAttemptNotFound
	}
	return append([]State(nil), s.history[id]...), nil
}

// Get returns a copy of the stored attempt.
func (s *MemoryStore) Get(_ context.Context, id string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	out := cloneAttempt(a)
	return &out, nil
}

// ListStale returns attempts in state last updated before the cutoff, oldest
// first.
func (s *MemoryStore) ListStale(_ context.Context, state State, before time.Time, limit int) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.State == state && a.UpdatedAt.Before(before) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneAttempt(a Attempt) Attempt {
	a.Keys = append(a.Keys[:0:0], a.Keys...)
	a.Order.OrderDetails = append(a.Order.OrderDetails[:0:0], a.Order.OrderDetails...)
	return a
}

type localLock struct {
	owner   string
	expires time.Time
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLock
	now  func() time.Time
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLock), now: time.Now}
}

// Acquire takes key for owner unless it is held and unexpired.
func (l *LocalLocker) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lock, ok := l.held[key]; ok && now.Before(lock.expires) {
		return false, nil
	}
	l.held[key] = localLock{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Release frees key if owner still holds it.
func (l *LocalLocker) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.held[key]; ok && lock.owner == owner {
		delete(l.held, key)
	}
	return nil
}
