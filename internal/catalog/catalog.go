// Package catalog is the read side of the product catalog as seen by the
// checkout core. Catalog CRUD lives elsewhere; this package only resolves
// variants and products.
package catalog

import (
	"context"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
)

var (
	ErrVariantNotFound = apperr.NotFound("VARIANT_NOT_FOUND", "variant not found")
	ErrVariantInactive = apperr.Validation("VARIANT_INACTIVE", "variant is not available for sale")
	ErrProductNotFound = apperr.NotFound("PRODUCT_NOT_FOUND", "product not found")
)

// Variant is a sellable unit. Stock is owned by the inventory ledger and is
// not part of this view.
type Variant struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	SKU           string `json:"sku"`
	Size          string `json:"size,omitempty"`
	Color         string `json:"color,omitempty"`
	PriceOverride *int64 `json:"price_override,omitempty"`
	Active        bool   `json:"active"`
}

type Product struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	BasePrice     int64      `json:"base_price"`
	DiscountPrice int64      `json:"discount_price,omitempty"`
	DiscountFrom  *time.Time `json:"discount_from,omitempty"`
	DiscountTo    *time.Time `json:"discount_to,omitempty"`
	Active        bool       `json:"active"`
}

// DiscountActive reports whether the product discount applies at t. A
// discount without a window is always active.
func (p *Product) DiscountActive(t time.Time) bool {
	if p.DiscountPrice <= 0 {
		return false
	}
	if p.DiscountFrom != nil && t.Before(*p.DiscountFrom) {
		return false
	}
	if p.DiscountTo != nil && t.After(*p.DiscountTo) {
		return false
	}
	return true
}

// Reader is the catalog contract consumed by cart, pricing and checkout.
type Reader interface {
	GetVariant(ctx context.Context, variantID string) (*Variant, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

// SellableVariant resolves a variant and its product and checks both can be
// sold right now.
func SellableVariant(ctx context.Context, r Reader, variantID string) (*Variant, *Product, error) {
	v, err := r.GetVariant(ctx, variantID)
	if err != nil {
		return nil, nil, err
	}
	p, err := r.GetProduct(ctx, v.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if !v.Active || !p.Active {
		return nil, nil, ErrVariantInactive
	}
	return v, p, nil
}
