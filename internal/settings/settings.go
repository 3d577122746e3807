// Package settings exposes store-wide settings consumed by the checkout core.
package settings

import "context"

// ShippingConfig holds amounts in minor units.
type ShippingConfig struct {
	FreeShippingThreshold int64 `json:"free_shipping_threshold"`
	ShippingCost          int64 `json:"shipping_cost"`
}

// FeeFor returns the shipping fee for an order totalling total.
func (c ShippingConfig) FeeFor(total int64) int64 {
	if total >= c.FreeShippingThreshold {
		return 0
	}
	return c.ShippingCost
}

type Provider interface {
	ShippingConfig(ctx context.Context) (ShippingConfig, error)
}

// Static serves a fixed configuration loaded at startup.
type Static ShippingConfig

func (s Static) ShippingConfig(ctx context.Context) (ShippingConfig, error) {
	return ShippingConfig(s), nil
}
