package coupon

import (
	"context"
	"time"
)

// Service implements Validator on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) ValidateCoupon(ctx context.Context, code string, cartTotal int64) (Discount, error) {
	c, err := s.store.Get(ctx, Normalize(code))
	if err != nil {
		return Discount{}, err
	}
	if err := c.Check(s.now(), cartTotal); err != nil {
		return Discount{}, err
	}
	return Discount{Code: c.Code, Amount: c.DiscountFor(cartTotal)}, nil
}

// Redeem records one use of code. It fails with ErrUsageLimitExceeded once
// the limit is reached, however many checkouts race for the last use.
func (s *Service) Redeem(ctx context.Context, code string) error {
	return s.store.IncrementUsage(ctx, Normalize(code))
}

// ReleaseUsage gives back a use taken by Redeem for an order that was not
// placed.
func (s *Service) ReleaseUsage(ctx context.Context, code string) error {
	return s.store.DecrementUsage(ctx, Normalize(code))
}
