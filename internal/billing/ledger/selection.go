package ledger

import "github.com/odyssey-erp/treatment-billing/internal/billing"

// Selection is the set of line items chosen for payment. Only due items can
// be members.
type Selection struct {
	keys map[billing.Key]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{keys: make(map[billing.Key]struct{})}
}

// Toggle flips membership of item. Items that are not due are never added;
// the return value reports whether the item is selected afterwards.
func (s *Selection) Toggle(item LineItem) bool {
	s.ensure()
	key := item.Key()
	if _, ok := s.keys[key]; ok {
		delete(s.keys, key)
		return false
	}
	if item.Status != StatusDue {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// SelectAll replaces the selection with exactly the given due items, which
// callers pass already filtered to the visible scope.
func (s *Selection) SelectAll(due []LineItem) {
	s.keys = make(map[billing.Key]struct{}, len(due))
	for _, item := range due {
		if item.Status != StatusDue {
			continue
		}
		s.keys[item.Key()] = struct{}{}
	}
}

// AllSelected reports whether every due item is selected and nothing else.
func (s *Selection) AllSelected(due []LineItem) bool {
	if len(due) == 0 || s.Len() != len(due) {
		return false
	}
	for _, item := range due {
		if !s.Contains(item.Key()) {
			return false
		}
	}
	return true
}

// Retain drops keys that are not present among due, e.g. after the scope tab
// changes or an item is opted out.
func (s *Selection) Retain(due []LineItem) {
	s.ensure()
	allowed := make(map[billing.Key]struct{}, len(due))
	for _, item := range due {
		if item.Status == StatusDue {
			allowed[item.Key()] = struct{}{}
		}
	}
	for k := range s.keys {
		if _, ok := allowed[k]; !ok {
			delete(s.keys, k)
		}
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.keys = make(map[billing.Key]struct{})
}

// Contains reports membership.
func (s *Selection) Contains(key billing.Key) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of selected keys.
func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys lists the selection in sorted order.
func (s *Selection) Keys() []billing.Key {
	if s == nil {
		return nil
	}
	out := make([]billing.Key, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return billing.SortKeys(out)
}

func (s *Selection) ensure() {
	if s.keys == nil {
		s.keys = make(map[billing.Key]struct{})
	}
}
