package catalog

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process catalog used by the memory backend and tests.
type Memory struct {
	mu       sync.RWMutex
	variants map[string]Variant
	products map[string]Product
}

func NewMemory() *Memory {
	return &Memory{
		variants: make(map[string]Variant),
		products: make(map[string]Product),
	}
}

func (m *Memory) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *Memory) PutVariant(v Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

func (m *Memory) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variants[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	return &v, nil
}

func (m *Memory) GetProduct(ctx context.Context, productID string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return &p, nil
}
