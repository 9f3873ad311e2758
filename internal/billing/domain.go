// Package billing holds the vocabulary shared by the treatment billing engine:
// selection keys, admin-editable payable amounts and the confirmation gate used
// before destructive calls.
package billing

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// Key identifies a selectable milestone or line item.
type Key string

// Selection errors are resolved locally; no network call is issued.
var (
	ErrNothingSelected       = errors.New("billing: nothing selected")
	ErrNegativeAmount        = errors.New("billing: amount must not be negative")
	ErrPayableExceedsPending = errors.New("billing: payable exceeds pending amount")
	ErrUnknownKey            = errors.New("billing: unknown selection key")
	ErrDeclined              = errors.New("billing: confirmation declined")
)

// SortKeys returns a sorted copy of keys.
func SortKeys(keys []Key) []Key {
	out := make([]Key, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PayableSelection is the session-scoped map of amounts the payer intends to
// pay now. Entries are always clamped to [0, pending].
type PayableSelection struct {
	amounts map[Key]decimal.Decimal
}

// NewPayableSelection starts an empty selection.
func NewPayableSelection() *PayableSelection {
	return &PayableSelection{amounts: make(map[Key]decimal.Decimal)}
}

// Set records the entered amount for key, clamped to min(entered, pending)
// and floored at zero. The stored value is returned.
func (s *PayableSelection) Set(key Key, entered, pending decimal.Decimal) decimal.Decimal {
	if s.amounts == nil {
		s.amounts = make(map[Key]decimal.Decimal)
	}
	value := Clamp(entered, pending)
	s.amounts[key] = value
	return value
}

// Get returns the stored amount for key.
func (s *PayableSelection) Get(key Key) (decimal.Decimal, bool) {
	if s == nil || s.amounts == nil {
		return decimal.Zero, false
	}
	v, ok := s.amounts[key]
	return v, ok
}

// Remove drops key from the selection.
func (s *PayableSelection) Remove(key Key) {
	if s == nil || s.amounts == nil {
		return
	}
	delete(s.amounts, key)
}

// Keys lists the selected keys in sorted order.
func (s *PayableSelection) Keys() []Key {
	if s == nil {
		return nil
	}
	keys := make([]Key, 0, len(s.amounts))
	for k := range s.amounts {
		keys = append(keys, k)
	}
	return SortKeys(keys)
}

// Len reports the number of entries.
func (s *PayableSelection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.amounts)
}

// Map returns a copy of the stored amounts.
func (s *PayableSelection) Map() map[Key]decimal.Decimal {
	out := make(map[Key]decimal.Decimal, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.amounts {
		out[k] = v
	}
	return out
}

// Reset discards every entry, as on submit or modal close.
func (s *PayableSelection) Reset() {
	if s == nil {
		return
	}
	s.amounts = make(map[Key]decimal.Decimal)
}

// Clamp bounds entered to [0, pending].
func Clamp(entered, pending decimal.Decimal) decimal.Decimal {
	if pending.IsNegative() {
		pending = decimal.Zero
	}
	if entered.IsNegative() {
		return decimal.Zero
	}
	if entered.GreaterThan(pending) {
		return pending
	}
	return entered
}

// Sum adds the given amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
