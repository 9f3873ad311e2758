package billinghttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
	"github.com/odyssey-erp/treatment-billing/internal/platform/httpx"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
)

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.assemble(r.Context(), shared.TokenFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	due := order.PayableTotal()
	httpx.JSON(w, http.StatusOK, orderPreview{
		Order:         order,
		PayableTotal:  due.Add(order.DiscountTotal()),
		DiscountTotal: order.DiscountTotal(),
		AmountDue:     due,
		Display:       billing.FormatMoney(h.currency, due),
	})
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	token := shared.TokenFromContext(ctx)

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && h.idempotency != nil {
		ref, err := h.idempotency.Claim(ctx, key, idempotencyModule)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			if ref == "" {
				h.fail(w, r, shared.ErrIdempotencyInProgress)
				return
			}
			h.replay(w, r, ref)
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	order, err := h.assemble(ctx, token, req.orderRequest)
	if err != nil {
		h.releaseKey(ctx, key)
		h.fail(w, r, err)
		return
	}
	attempt, err := h.payments.Begin(ctx, payments.Request{
		Token:  token,
		Target: req.Target.target(),
		Order:  order,
		Gate:   billing.StaticGate(req.Confirmed),
	})
	if err != nil {
		if attempt == nil || attempt.State == payments.StateOrderFailed {
			h.releaseKey(ctx, key)
		}
		h.fail(w, r, err)
		return
	}
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Bind(ctx, key, idempotencyModule, attempt.ID); err != nil {
			h.logger.Warn("bind idempotency key", slog.String("attempt_id", attempt.ID), slog.Any("error", err))
		}
	}
	h.observeReconciled(attempt)
	status := http.StatusOK
	if attempt.State == payments.StateOrderCreated {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, h.snapshot(attempt))
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, attemptID string) {
	attempt, err := h.payments.Get(r.Context(), attemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	httpx.JSON(w, http.StatusOK, h.snapshot(attempt))
}

func (h *Handler) releaseKey(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(context.WithoutCancel(ctx), key, idempotencyModule); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.snapshot(attempt))
}

func (h *Handler) paymentHistory(w http.ResponseWriter, r *http.Request) {
	states, err := h.payments.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"states": states})
}

func (h *Handler) gatewayResult(w http.ResponseWriter, r *http.Request) {
	var req gatewayRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	attempt, err := h.payments.Complete(r.Context(), shared.TokenFromContext(r.Context()), chi.URLParam(r, "id"), payments.GatewayResult{
		Outcome:          req.Outcome,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Code:             req.Code,
		Description:      req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.observeReconciled(attempt)
	httpx.JSON(w, http.StatusOK, h.snapshot(attempt))
}

func (h *Handler) abandonPayment(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "dialog closed"
	}
	attempt, err := h.payments.Abandon(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.snapshot(attempt))
}

func (h *Handler) snapshot(attempt *payments.Attempt) attemptResponse {
	resp := attemptResponse{
		Attempt:       attempt,
		SubmitEnabled: attempt.SubmitEnabled(),
		Closed:        attempt.Closed(),
	}
	if widget, err := h.payments.WidgetConfig(attempt); err == nil {
		resp.Widget = &widget
	}
	return resp
}

func (h *Handler) observeReconciled(attempt *payments.Attempt) {
	if h.metrics == nil || attempt.State != payments.StateReconciled {
		return
	}
	discount, _ := attempt.Order.DiscountTotal().Float64()
	if discount > 0 {
		h.metrics.ObserveDiscount(string(attempt.Mode), discount)
	}
}

func (h *Handler) toggleOptOut(w http.ResponseWriter, r *http.Request) {
	var req optOutRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	current, err := ledger.New(req.Groups)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	updated, err := h.optOut.Toggle(r.Context(), shared.TokenFromContext(r.Context()), current, req.ItemIDs, req.OptOut, billing.StaticGate(req.Confirmed))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, optOutResponse{Groups: updated.Groups()})
}

func (h *Handler) ledgerVersion(w http.ResponseWriter, r *http.Request) {
	var version int64
	if h.versions != nil {
		v, err := h.versions.Version(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		version = v
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"version": version})
}
