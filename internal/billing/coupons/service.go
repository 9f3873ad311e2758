// Package coupons serves read-only coupon reference data.
package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/treatment-billing/internal/billing/discount"
	"github.com/odyssey-erp/treatment-billing/internal/platform/cache"
)

// CacheNamespace keeps coupon entries apart from ledger versions.
const CacheNamespace = "billing:coupons"

// ErrUnknownCoupon is returned for codes not present in the coupon list.
var ErrUnknownCoupon = errors.New("coupons: unknown coupon code")

// Source lists coupons from the order service.
type Source interface {
	ListCoupons(ctx context.Context, token string) ([]discount.Coupon, error)
}

// Service caches the coupon list and resolves codes.
type Service struct {
	source Source
	cache  *cache.Cache
}

// NewService constructs a Service. cache may be nil.
func NewService(source Source, c *cache.Cache) *Service {
	return &Service{source: source, cache: c}
}

// List returns every coupon.
func (s *Service) List(ctx context.Context, token string) ([]discount.Coupon, error) {
	key, err := s.cache.BuildKey(ctx, "list")
	if err != nil {
		return nil, err
	}
	var out []discount.Coupon
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.source.ListCoupons(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("coupons: list: %w", err)
	}
	return out, nil
}

// Find resolves code, case-insensitively. An empty code means no coupon and
// returns nil without error.
func (s *Service) Find(ctx context.Context, token, code string) (*discount.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	list, err := s.List(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if strings.EqualFold(c.Code, code) {
			if err := c.Validate(); err != nil {
				return nil, err
			}
			coupon := c
			return &coupon, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCoupon, code)
}
