// Package optout moves lab and scan line items between Due and OptedOut.
package optout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
)

var (
	ErrNotEligible  = errors.New("optout: only lab and scan items can be opted out")
	ErrWrongStatus  = errors.New("optout: item is not in the expected status")
	ErrNoItems      = errors.New("optout: no items given")
	ErrToggleFailed = errors.New("optout: order service rejected toggle")
)

// ToggleRequest is sent to the order service.
type ToggleRequest struct {
	ItemIDs []string `json:"itemIds"`
	OptOut  bool     `json:"optOut"`
}

// Client performs the mutating call.
type Client interface {
	ToggleOptOut(ctx context.Context, token string, req ToggleRequest) error
}

// Manager validates and issues opt-out toggles.
type Manager struct {
	client Client
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewManager constructs a Manager. audit may be nil.
func NewManager(client Client, audit shared.AuditRecorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, audit: audit, logger: logger}
}

// Toggle moves itemIDs to OptedOut (optOut) or back to Due. Eligibility and
// current status are checked first, then gate must accept, then the order
// service is called. The returned ledger reflects the new statuses; on any
// error the input ledger is returned unchanged.
func (m *Manager) Toggle(ctx context.Context, token string, current *ledger.Ledger, itemIDs []string, optOut bool, gate billing.ConfirmationGate) (*ledger.Ledger, error) {
	if len(itemIDs) == 0 {
		return current, ErrNoItems
	}
	from, to := ledger.StatusDue, ledger.StatusOptedOut
	if !optOut {
		from, to = ledger.StatusOptedOut, ledger.StatusDue
	}
	names := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := current.Find(id)
		if !ok {
			return current, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, id)
		}
		if !item.BillType.OptOutEligible() {
			return current, fmt.Errorf("%w: %s is %s", ErrNotEligible, id, item.BillType)
		}
		if item.Status != from {
			return current, fmt.Errorf("%w: %s is %s, want %s", ErrWrongStatus, id, item.Status, from)
		}
		names = append(names, item.Name)
	}

	action := "opt-out"
	if !optOut {
		action = "undo-opt-out"
	}
	prompt := billing.Prompt{
		Action:  action,
		Subject: strings.Join(itemIDs, ","),
		Message: fmt.Sprintf("Change %s to %s?", strings.Join(names, ", "), to),
	}
	if err := billing.Await(ctx, gate, prompt); err != nil {
		return current, err
	}

	if err := m.client.ToggleOptOut(ctx, token, ToggleRequest{ItemIDs: itemIDs, OptOut: optOut}); err != nil {
		m.logger.Error("opt-out toggle failed", slog.String("action", action), slog.Any("items", itemIDs), slog.Any("error", err))
		return current, fmt.Errorf("%w: %w", ErrToggleFailed, err)
	}

	next, err := current.WithStatus(itemIDs, to)
	if err != nil {
		return current, err
	}
	m.logger.Info("opt-out toggled", slog.String("action", action), slog.Any("items", itemIDs))
	if m.audit != nil {
		entries := make([]shared.AuditEntry, 0, len(itemIDs))
		for _, id := range itemIDs {
			entries = append(entries, shared.AuditEntry{
				Action:   action,
				Entity:   "bill_line_item",
				EntityID: id,
				Meta:     map[string]any{"from": string(from), "to": string(to)},
			})
		}
		if err := m.audit.Record(ctx, entries...); err != nil {
			m.logger.Warn("audit opt-out", slog.Any("items", itemIDs), slog.Any("error", err))
		}
	}
	return next, nil
}
