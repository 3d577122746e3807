package main

import (
	"context"

	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/shopspring/decimal"
)

// seedDemo fills the in-memory stores with a small catalog so the API is
// usable without a database.
func seedDemo(ctx context.Context, c *catalog.Memory, coupons *coupon.MemoryStore, ledger inventory.Ledger) error {
	c.PutProduct(catalog.Product{ID: "prod-tee", Name: "Organic Tee", BasePrice: 2500, Active: true})
	c.PutProduct(catalog.Product{ID: "prod-hoodie", Name: "Zip Hoodie", BasePrice: 6000, DiscountPrice: 4800, Active: true})

	variants := []struct {
		v     catalog.Variant
		stock int
	}{
		{catalog.Variant{ID: "var-tee-m-black", ProductID: "prod-tee", SKU: "TEE-M-BLK", Size: "M", Color: "Black", Active: true}, 20},
		{catalog.Variant{ID: "var-tee-l-black", ProductID: "prod-tee", SKU: "TEE-L-BLK", Size: "L", Color: "Black", Active: true}, 10},
		{catalog.Variant{ID: "var-hoodie-m-grey", ProductID: "prod-hoodie", SKU: "HOOD-M-GRY", Size: "M", Color: "Grey", Active: true}, 3},
	}
	for _, sv := range variants {
		c.PutVariant(sv.v)
		if err := ledger.SetStock(ctx, sv.v.ID, sv.stock); err != nil {
			return err
		}
	}

	coupons.Put(coupon.Coupon{Code: "WELCOME10", Type: coupon.TypePercentage, Value: decimal.NewFromInt(10), MaxDiscount: 1000, Active: true})
	coupons.Put(coupon.Coupon{Code: "FIVEOFF", Type: coupon.TypeFixed, Value: decimal.NewFromInt(500), MinOrderValue: 3000, UsageLimit: 100, Active: true})
	return nil
}
