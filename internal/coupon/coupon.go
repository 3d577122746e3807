// Package coupon validates discount codes and tracks their usage.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCoupon      = apperr.Validation("INVALID_COUPON", "coupon is not valid")
	ErrCouponExpired      = apperr.Validation("COUPON_EXPIRED", "coupon is expired or not yet valid")
	ErrUsageLimitExceeded = apperr.Validation("COUPON_USAGE_LIMIT", "coupon usage limit reached")
	ErrMinimumNotMet      = apperr.Validation("COUPON_MINIMUM_NOT_MET", "order total is below the coupon minimum")
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Coupon is a discount rule. Value is a percentage for TypePercentage and an
// amount in minor units for TypeFixed. Zero MaxDiscount or UsageLimit means
// no limit.
type Coupon struct {
	Code          string          `json:"code"`
	Type          Type            `json:"type"`
	Value         decimal.Decimal `json:"value"`
	MaxDiscount   int64           `json:"max_discount,omitempty"`
	MinOrderValue int64           `json:"min_order_value,omitempty"`
	ValidFrom     *time.Time      `json:"valid_from,omitempty"`
	ValidTo       *time.Time      `json:"valid_to,omitempty"`
	UsageLimit    int             `json:"usage_limit,omitempty"`
	UsedCount     int             `json:"used_count"`
	Active        bool            `json:"active"`
}

// Check validates the coupon for an order of cartTotal at now.
func (c *Coupon) Check(now time.Time, cartTotal int64) error {
	if !c.Active {
		return fmt.Errorf("%w: %s is inactive", ErrInvalidCoupon, c.Code)
	}
	if (c.ValidFrom != nil && now.Before(*c.ValidFrom)) || (c.ValidTo != nil && now.After(*c.ValidTo)) {
		return fmt.Errorf("%w: %s", ErrCouponExpired, c.Code)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return fmt.Errorf("%w: %s", ErrUsageLimitExceeded, c.Code)
	}
	if cartTotal < c.MinOrderValue {
		return fmt.Errorf("%w: %s requires %d", ErrMinimumNotMet, c.Code, c.MinOrderValue)
	}
	return nil
}

// DiscountFor returns the discount on total in minor units. Percentages are
// truncated toward zero. The result never exceeds total.
func (c *Coupon) DiscountFor(total int64) int64 {
	var discount int64
	switch c.Type {
	case TypePercentage:
		discount = decimal.NewFromInt(total).Mul(c.Value).Div(hundred).Truncate(0).IntPart()
	case TypeFixed:
		discount = c.Value.Truncate(0).IntPart()
	}
	if c.MaxDiscount > 0 && discount > c.MaxDiscount {
		discount = c.MaxDiscount
	}
	if discount > total {
		discount = total
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// Normalize canonicalizes a code as typed by a customer.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Discount is the outcome of a successful validation.
type Discount struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
}

// Validator is consumed by the pricing engine.
type Validator interface {
	ValidateCoupon(ctx context.Context, code string, cartTotal int64) (Discount, error)
}

// Store persists coupons. IncrementUsage must be conditional on the usage
// limit so concurrent redemptions cannot overshoot it.
type Store interface {
	Get(ctx context.Context, code string) (*Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
	// DecrementUsage gives back one use. It never takes the count below zero.
	DecrementUsage(ctx context.Context, code string) error
}
