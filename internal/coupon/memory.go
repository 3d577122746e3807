package coupon

import (
	"context"
	"fmt"
	"sync"
)

type MemoryStore struct {
	mu      sync.Mutex
	coupons map[string]Coupon
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{coupons: make(map[string]Coupon)}
}

func (m *MemoryStore) Put(c Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Code = Normalize(c.Code)
	m.coupons[c.Code] = c
}

func (m *MemoryStore) Get(ctx context.Context, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
	}
	return &c, nil
}

func (m *MemoryStore) IncrementUsage(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return fmt.Errorf("%w: %s", ErrUsageLimitExceeded, code)
	}
	c.UsedCount++
	m.coupons[code] = c
	return nil
}

func (m *MemoryStore) DecrementUsage(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
	}
	if c.UsedCount > 0 {
		c.UsedCount--
		m.coupons[code] = c
	}
	return nil
}
