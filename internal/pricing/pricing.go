// Package pricing derives authoritative order amounts from the current
// catalog, one optional coupon and the shipping settings. Client supplied
// prices are never used.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/settings"
)

var ErrNoLines = apperr.Validation("NO_LINES", "nothing to price")

// Line is a request to price qty units of a variant.
type Line struct {
	VariantID string
	Quantity  int
}

type PricedLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type Quote struct {
	Lines          []PricedLine `json:"lines"`
	TotalAmount    int64        `json:"total_amount"`
	DiscountAmount int64        `json:"discount_amount"`
	CouponCode     string       `json:"coupon_code,omitempty"`
	ShippingFee    int64        `json:"shipping_fee"`
	FinalAmount    int64        `json:"final_amount"`
}

// UnitPrice is the variant override when set, otherwise the product base
// price less its active discount, never below zero.
func UnitPrice(v *catalog.Variant, p *catalog.Product, at time.Time) int64 {
	if v.PriceOverride != nil {
		return *v.PriceOverride
	}
	price := p.BasePrice
	if p.DiscountActive(at) {
		price -= p.DiscountPrice
	}
	if price < 0 {
		return 0
	}
	return price
}

// Total sums line totals.
func Total(lines []PricedLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.LineTotal
	}
	return total
}

// Compute assembles a quote from already priced lines and a coupon discount.
// It does no I/O.
func Compute(lines []PricedLine, couponCode string, discount int64, shipping settings.ShippingConfig) Quote {
	total := Total(lines)
	if discount > total {
		discount = total
	}
	if discount < 0 {
		discount = 0
	}
	fee := shipping.FeeFor(total)
	final := total - discount + fee
	if final < 0 {
		final = 0
	}
	return Quote{
		Lines:          lines,
		TotalAmount:    total,
		DiscountAmount: discount,
		CouponCode:     couponCode,
		ShippingFee:    fee,
		FinalAmount:    final,
	}
}

// Engine prices against live collaborators.
type Engine struct {
	catalog  catalog.Reader
	coupons  coupon.Validator
	settings settings.Provider
	now      func() time.Time
}

func NewEngine(c catalog.Reader, coupons coupon.Validator, s settings.Provider) *Engine {
	return &Engine{catalog: c, coupons: coupons, settings: s, now: time.Now}
}

// Quote prices lines and applies couponCode when non-empty. An invalid
// coupon fails the quote rather than being silently dropped.
func (e *Engine) Quote(ctx context.Context, lines []Line, couponCode string) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}

	now := e.now()
	priced := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		v, p, err := catalog.SellableVariant(ctx, e.catalog, l.VariantID)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", l.VariantID, err)
		}
		unit := UnitPrice(v, p, now)
		priced = append(priced, PricedLine{
			ProductID: p.ID,
			VariantID: v.ID,
			Name:      p.Name,
			SKU:       v.SKU,
			Size:      v.Size,
			Color:     v.Color,
			UnitPrice: unit,
			Quantity:  l.Quantity,
			LineTotal: unit * int64(l.Quantity),
		})
	}

	shipping, err := e.settings.ShippingConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shipping config: %w", err)
	}

	var discount int64
	code := strings.TrimSpace(couponCode)
	if code != "" {
		d, err := e.coupons.ValidateCoupon(ctx, code, Total(priced))
		if err != nil {
			return nil, err
		}
		discount = d.Amount
		code = d.Code
	}

	q := Compute(priced, code, discount, shipping)
	return &q, nil
}
