package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_DiscountActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		product Product
		want    bool
	}{
		{"no discount", Product{BasePrice: 1000}, false},
		{"open window", Product{DiscountPrice: 100}, true},
		{"inside window", Product{DiscountPrice: 100, DiscountFrom: &past, DiscountTo: &future}, true},
		{"not started", Product{DiscountPrice: 100, DiscountFrom: &future}, false},
		{"ended", Product{DiscountPrice: 100, DiscountTo: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.product.DiscountActive(now))
		})
	}
}

func TestSellableVariant(t *testing.T) {
	c := NewMemory()
	c.PutProduct(Product{ID: "p-1", Name: "Tee", BasePrice: 1000, Active: true})
	c.PutProduct(Product{ID: "p-2", Name: "Old", BasePrice: 1000, Active: false})
	c.PutVariant(Variant{ID: "v-1", ProductID: "p-1", SKU: "TEE-M", Active: true})
	c.PutVariant(Variant{ID: "v-2", ProductID: "p-1", SKU: "TEE-L", Active: false})
	c.PutVariant(Variant{ID: "v-3", ProductID: "p-2", SKU: "OLD-M", Active: true})
	ctx := context.Background()

	v, p, err := SellableVariant(ctx, c, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "TEE-M", v.SKU)
	assert.Equal(t, "Tee", p.Name)

	_, _, err = SellableVariant(ctx, c, "v-2")
	assert.ErrorIs(t, err, ErrVariantInactive)

	_, _, err = SellableVariant(ctx, c, "v-3")
	assert.ErrorIs(t, err, ErrVariantInactive)

	_, _, err = SellableVariant(ctx, c, "missing")
	assert.ErrorIs(t, err, ErrVariantNotFound)
}
