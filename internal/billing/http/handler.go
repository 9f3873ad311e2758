// Package billinghttp exposes the billing engine over JSON HTTP.
package billinghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/ledger"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
	"github.com/odyssey-erp/treatment-billing/internal/platform/httpx"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyModule = "billing.payments"
)

type reconciler interface {
	Begin(ctx context.Context, req payments.Request) (*payments.Attempt, error)
	Complete(ctx context.Context, token, attemptID string, result payments.GatewayResult) (*payments.Attempt, error)
	Abandon(ctx context.Context, attemptID, reason string) (*payments.Attempt, error)
	Get(ctx context.Context, attemptID string) (*payments.Attempt, error)
	History(ctx context.Context, attemptID string) ([]payments.State, error)
	WidgetConfig(attempt *payments.Attempt) (payments.WidgetConfig, error)
}

type couponService interface {
	List(ctx context.Context, token string) ([]discount.Coupon, error)
	Find(ctx context.Context, token, code string) (*discount.Coupon, error)
}

type optOutService interface {
	Toggle(ctx context.Context, token string, current *ledger.Ledger, itemIDs []string, optOut bool, gate billing.ConfirmationGate) (*ledger.Ledger, error)
}

type idempotencyStore interface {
	Claim(ctx context.Context, key, module string) (string, error)
	Bind(ctx context.Context, key, module, ref string) error
	Release(ctx context.Context, key, module string) error
}

type versioner interface {
	Version(ctx context.Context) (int64, error)
}

// DiscountRecorder counts discount granted on reconciled payments.
type DiscountRecorder interface {
	ObserveDiscount(mode string, amount float64)
}

// Params groups the handler's collaborators. Idempotency, Versions and
// Metrics are optional.
type Params struct {
	Logger           *slog.Logger
	Reconciler       reconciler
	Coupons          couponService
	OptOut           optOutService
	Idempotency      idempotencyStore
	Versions         versioner
	Metrics          DiscountRecorder
	Currency         string
	PaymentRateLimit int
}

// Handler serves the billing endpoints.
type Handler struct {
	logger       *slog.Logger
	validator    *validator.Validate
	payments     reconciler
	coupons      couponService
	optOut       optOutService
	idempotency  idempotencyStore
	versions     versioner
	metrics      DiscountRecorder
	currency     string
	paymentLimit int
}

// NewHandler constructs the billing HTTP handler.
func NewHandler(p Params) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := p.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Handler{
		logger:       logger,
		validator:    validator.New(),
		payments:     p.Reconciler,
		coupons:      p.Coupons,
		optOut:       p.OptOut,
		idempotency:  p.Idempotency,
		versions:     p.Versions,
		metrics:      p.Metrics,
		currency:     currency,
		paymentLimit: p.PaymentRateLimit,
	}
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return httpx.WithCode("invalid_body", err)
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return httpx.WithCode("invalid_request", fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, "; ")))
		}
		return httpx.WithCode("invalid_request", fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := classify(err)
	var coded *httpx.CodedError
	if !errors.As(mapped, &coded) {
		h.logger.Error("billing request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestID(r)),
			slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.List(r.Context(), shared.TokenFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []discount.Coupon{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"coupons": list})
}

func (h *Handler) partition(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := ledger.New(req.Groups)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	part := l.Partition(req.Scope)
	selection := ledger.NewSelection()
	if req.SelectAll {
		selection.SelectAll(part.Due)
	} else {
		for _, id := range req.SelectedIDs {
			item, ok := l.Find(id)
			if !ok {
				h.fail(w, r, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, id))
				return
			}
			if item.Scope == req.Scope && !selection.Contains(item.Key()) {
				selection.Toggle(item)
			}
		}
	}
	total := ledger.SelectableTotal(part.Due, selection)
	httpx.JSON(w, http.StatusOK, partitionResponse{
		Partitioned:     part,
		SelectedIDs:     selection.Keys(),
		AllSelected:     selection.AllSelected(part.Due),
		SelectableTotal: total,
		Display:         billing.FormatMoney(h.currency, total),
	})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token := shared.TokenFromContext(r.Context())

	var (
		resolved billables
		coupon   *discount.Coupon
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		resolved, err = resolvePackage(orderRequest{
			Milestones: req.Milestones,
			Selected:   req.Selected,
			Payable:    req.Payable,
			IsAdmin:    req.IsAdmin,
		})
		return err
	})
	g.Go(func() error {
		var err error
		coupon, err = h.coupons.Find(gctx, token, req.CouponCode)
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}
	catalog := resolved.catalog
	alloc, err := discount.Allocate(resolved.keys, resolved.payable, coupon, catalog)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := quoteResponse{
		Pending:         catalog.Pending(),
		Settled:         catalog.Settled(),
		TotalPayable:    alloc.TotalPayable,
		TotalDiscount:   alloc.TotalDiscount,
		TotalApplied:    alloc.TotalApplied,
		TotalDiscounted: alloc.TotalDiscounted(),
		Display:         billing.FormatMoney(h.currency, alloc.TotalDiscounted()),
		Coupon:          coupon,
	}
	for _, key := range alloc.Order {
		line, _ := alloc.Line(key)
		m, _ := catalog.Lookup(key)
		resp.Lines = append(resp.Lines, quoteLine{
			Key:              key,
			DisplayName:      m.DisplayName,
			PendingAmount:    m.PendingAmount,
			PayableAmount:    line.PayableAmount,
			AppliedDiscount:  line.AppliedDiscount,
			DiscountedAmount: line.DiscountedAmount,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// MountRoutes attaches the billing routes. Every route requires a bearer
// token, which is forwarded to the order service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(shared.RequireToken)
	r.Use(middleware.AllowContentType("application/json"))

	r.Get("/coupons", h.listCoupons)
	r.Get("/ledger/version", h.ledgerVersion)
	r.Post("/ledger/partition", h.partition)
	r.Post("/milestones/quote", h.quote)
	r.Post("/orders/preview", h.preview)
	r.Post("/opt-out", h.toggleOptOut)

	r.With(h.paymentLimiter()).Post("/payments", h.createPayment)
	r.Get("/payments/{id}", h.getPayment)
	r.Get("/payments/{id}/history", h.paymentHistory)
	r.Post("/payments/{id}/gateway", h.gatewayResult)
	r.Post("/payments/{id}/abandon", h.abandonPayment)
}

// paymentLimiter caps payment submissions per caller token.
func (h *Handler) paymentLimiter() func(http.Handler) http.Handler {
	limit := h.paymentLimit
	if limit <= 0 {
		limit = 20
	}
	return httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "token:" + shared.TokenFromContext(r.Context()), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.ProblemCode(w, http.StatusTooManyRequests, "Too Many Requests", "payment_rate_limited", "too many payment submissions")
		}),
	)
}
