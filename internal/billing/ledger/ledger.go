package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

// Ledger is an immutable snapshot of a bill's groups. Status changes produce
// a new Ledger; the receiver is never modified.
type Ledger struct {
	groups []BillTypeGroup
	index  map[string]position
}

type position struct {
	group int
	item  int
}

// New validates the groups and builds a snapshot. Every item inherits the
// bill type of its group.
func New(groups []BillTypeGroup) (*Ledger, error) {
	l := &Ledger{
		groups: make([]BillTypeGroup, len(groups)),
		index:  make(map[string]position),
	}
	for gi, g := range groups {
		if !g.BillTypeID.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBillType, g.BillTypeID)
		}
		items := make([]LineItem, len(g.Items))
		for ii, item := range g.Items {
			if item.ID == "" {
				return nil, fmt.Errorf("ledger: item in group %s has no id", g.BillTypeID)
			}
			if _, dup := l.index[item.ID]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
			}
			if !item.Status.Valid() {
				return nil, fmt.Errorf("%w: item %s has %q", ErrInvalidStatus, item.ID, item.Status)
			}
			if !item.Scope.Valid() {
				return nil, fmt.Errorf("%w: item %s has %q", ErrInvalidScope, item.ID, item.Scope)
			}
			if item.Amount.IsNegative() {
				return nil, fmt.Errorf("%w: item %s", billing.ErrNegativeAmount, item.ID)
			}
			item.BillType = g.BillTypeID
			items[ii] = item
			l.index[item.ID] = position{group: gi, item: ii}
		}
		g.Items = items
		l.groups[gi] = g
	}
	return l, nil
}

// Groups returns a copy of the bill groups.
func (l *Ledger) Groups() []BillTypeGroup {
	out := make([]BillTypeGroup, len(l.groups))
	for i, g := range l.groups {
		items := make([]LineItem, len(g.Items))
		copy(items, g.Items)
		g.Items = items
		out[i] = g
	}
	return out
}

// Items flattens every group in ledger order.
func (l *Ledger) Items() []LineItem {
	var out []LineItem
	for _, g := range l.groups {
		out = append(out, g.Items...)
	}
	return out
}

// Find returns the item with the given id.
func (l *Ledger) Find(id string) (LineItem, bool) {
	pos, ok := l.index[id]
	if !ok {
		return LineItem{}, false
	}
	return l.groups[pos.group].Items[pos.item], true
}

// Partition filters the ledger's items by scope then splits them by status.
func (l *Ledger) Partition(scope Scope) Partitioned {
	return Partition(l.Items(), scope)
}

// Rank orders keys by their ledger position so discount allocation follows
// the bill layout rather than click order.
func (l *Ledger) Rank(key billing.Key) int {
	pos, ok := l.index[string(key)]
	if !ok {
		return len(l.index)
	}
	offset := 0
	for gi := 0; gi < pos.group; gi++ {
		offset += len(l.groups[gi].Items)
	}
	return offset + pos.item
}

// WithStatus returns a new snapshot where every listed item has status.
func (l *Ledger) WithStatus(ids []string, status Status) (*Ledger, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	next := &Ledger{groups: l.Groups(), index: l.index}
	for _, id := range ids {
		pos, ok := l.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		next.groups[pos.group].Items[pos.item].Status = status
	}
	return next, nil
}

// Partition keeps only items of the given scope and splits them by status.
func Partition(items []LineItem, scope Scope) Partitioned {
	var out Partitioned
	for _, item := range items {
		if item.Scope != scope {
			continue
		}
		switch item.Status {
		case StatusDue:
			out.Due = append(out.Due, item)
		case StatusPaid:
			out.Paid = append(out.Paid, item)
		case StatusOptedOut:
			out.OptedOut = append(out.OptedOut, item)
		}
	}
	return out
}

// SelectableTotal sums the amount of due items whose key is selected.
func SelectableTotal(due []LineItem, selected *Selection) decimal.Decimal {
	total := decimal.Zero
	for _, item := range due {
		if item.Status != StatusDue {
			continue
		}
		if selected.Contains(item.Key()) {
			total = total.Add(item.Amount)
		}
	}
	return total
}
