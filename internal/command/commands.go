package command

import "github.com/example/ec-checkout/internal/domain/order"

// Cart Commands
type AddToCart struct {
	CustomerID string `json:"-"`
	VariantID  string `json:"variant_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
}

type UpdateCartItem struct {
	CustomerID string `json:"-"`
	VariantID  string `json:"-"`
	Quantity   int    `json:"quantity"`
}

type RemoveFromCart struct {
	CustomerID string
	VariantID  string
}

// Order Commands
type PlaceOrder struct {
	CustomerID      string                `json:"-"`
	ShippingAddress order.ShippingAddress `json:"shipping_address" binding:"required"`
	CouponCode      string                `json:"coupon_code,omitempty"`
}

// ReportPaymentFailure is sent by the storefront when the customer abandons
// or fails the gateway page.
type ReportPaymentFailure struct {
	CustomerID  string `json:"-"`
	OrderNumber string `json:"order_number" binding:"required"`
	Reason      string `json:"reason"`
}

// Admin Commands
type ShipOrder struct {
	OrderNumber    string `json:"-"`
	TrackingID     string `json:"tracking_id" binding:"required"`
	CourierPartner string `json:"courier_partner" binding:"required"`
}

type ReturnOrder struct {
	OrderNumber string `json:"-"`
	Reason      string `json:"reason"`
}

type SetStock struct {
	VariantID string `json:"-"`
	Stock     int    `json:"stock" binding:"gte=0"`
}
