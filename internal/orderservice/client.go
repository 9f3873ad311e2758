// Package orderservice talks to the external order service that owns the
// billing ledger.
package orderservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/billing/optout"
	"github.com/odyssey-erp/treatment-billing/internal/billing/orders"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
)

// StatusError reports a non-200 answer, either from HTTP or from the status
// field of the response envelope.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("orderservice: %s returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("orderservice: %s returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client wraps the order service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type orderLineWire struct {
	TotalOrderAmount           json.Number `json:"totalOrderAmount"`
	PayableAmount              json.Number `json:"payableAmount"`
	DiscountAmount             json.Number `json:"discountAmount"`
	PayableAfterDiscountAmount json.Number `json:"payableAfterDiscountAmount"`
	PendingOrderAmount         json.Number `json:"pendingOrderAmount"`
	CouponCode                 string      `json:"couponCode,omitempty"`
	ProductType                string      `json:"productType"`
	DateColumn                 string      `json:"dateColumn,omitempty"`
	AppointmentID              string      `json:"appointmentId,omitempty"`
	VisitID                    string      `json:"visitId,omitempty"`
}

type orderWire struct {
	PaymentMode  orders.PaymentMode `json:"paymentMode"`
	OrderDetails []orderLineWire    `json:"orderDetails"`
}

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*f = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type receiptWire struct {
	OrderID          flexID          `json:"orderId"`
	TotalOrderAmount decimal.Decimal `json:"totalOrderAmount"`
	VisitID          flexID          `json:"visitId,omitempty"`
	PackageDetails   json.RawMessage `json:"packageDetails,omitempty"`
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func toWire(order orders.Order) orderWire {
	order = order.Presented()
	out := orderWire{PaymentMode: order.PaymentMode, OrderDetails: make([]orderLineWire, len(order.OrderDetails))}
	for i, line := range order.OrderDetails {
		out.OrderDetails[i] = orderLineWire{
			TotalOrderAmount:           amount(line.TotalOrderAmount),
			PayableAmount:              amount(line.PayableAmount),
			DiscountAmount:             amount(line.DiscountAmount),
			PayableAfterDiscountAmount: amount(line.PayableAfterDiscountAmount),
			PendingOrderAmount:         amount(line.PendingOrderAmount),
			CouponCode:                 line.CouponCode,
			ProductType:                line.ProductType,
			DateColumn:                 line.DateColumn,
			AppointmentID:              line.AppointmentID,
			VisitID:                    line.VisitID,
		}
	}
	return out
}

// CreateOrder submits a payment order. It is never retried.
func (c *Client) CreateOrder(ctx context.Context, token string, order orders.Order) (payments.OrderReceipt, error) {
	var receipt receiptWire
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", token, toWire(order), &receipt); err != nil {
		return payments.OrderReceipt{}, err
	}
	if receipt.OrderID == "" {
		return payments.OrderReceipt{}, &StatusError{Op: "create order", StatusCode: http.StatusOK, Message: "missing orderId"}
	}
	return payments.OrderReceipt{
		OrderID:          string(receipt.OrderID),
		TotalOrderAmount: receipt.TotalOrderAmount,
		VisitID:          string(receipt.VisitID),
		PackageDetails:   receipt.PackageDetails,
	}, nil
}

// ConfirmTransaction forwards the gateway transaction id for an order.
func (c *Client) ConfirmTransaction(ctx context.Context, token string, confirmation payments.Confirmation) error {
	return c.do(ctx, "confirm transaction", http.MethodPost, "/orders/confirm-transaction", token, confirmation, nil)
}

// ListCoupons returns coupon reference data.
func (c *Client) ListCoupons(ctx context.Context, token string) ([]discount.Coupon, error) {
	var out []discount.Coupon
	if err := c.do(ctx, "list coupons", http.MethodGet, "/coupons", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleOptOut flips line items between due and opted out.
func (c *Client) ToggleOptOut(ctx context.Context, token string, req optout.ToggleRequest) error {
	return c.do(ctx, "toggle opt-out", http.MethodPost, "/bills/opt-out", token, req, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("orderservice: %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orderservice: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("orderservice: %s: read body: %w", op, err)
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode == http.StatusOK {
			return fmt.Errorf("orderservice: %s: decode: %w", op, err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if env.Status != 0 && env.Status != http.StatusOK {
		return &StatusError{Op: op, StatusCode: env.Status, Message: env.Message}
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("orderservice: %s: decode data: %w", op, err)
	}
	return nil
}
