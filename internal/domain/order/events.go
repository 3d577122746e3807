package order

import "time"

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderPaid      = "OrderPaid"
	EventPaymentFailed  = "PaymentFailed"
	EventOrderShipped   = "OrderShipped"
	EventOrderDelivered = "OrderDelivered"
	EventOrderReturned  = "OrderReturned"
	EventOrderRefunded  = "OrderRefunded"
)

// OrderItem is a frozen line. Prices are copied at placement and never
// recomputed from the catalog.
type OrderItem struct {
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	Size          string `json:"size,omitempty"`
	Color         string `json:"color,omitempty"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	LineTotal     int64  `json:"line_total"`
	ReservationID string `json:"reservation_id"`
}

type OrderPlaced struct {
	OrderNumber     string          `json:"order_number"`
	CustomerID      string          `json:"customer_id"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     int64           `json:"total_amount"`
	DiscountAmount  int64           `json:"discount_amount"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	ShippingFee     int64           `json:"shipping_fee"`
	FinalAmount     int64           `json:"final_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PlacedAt        time.Time       `json:"placed_at"`
}

type OrderPaid struct {
	OrderNumber string    `json:"order_number"`
	PaymentID   string    `json:"payment_id"`
	PaidAt      time.Time `json:"paid_at"`
}

// OrderPaymentFailed cancels a pending order: a declined payment, an abandoned
// checkout past the payment window, or a compensated checkout.
type OrderPaymentFailed struct {
	OrderNumber string    `json:"order_number"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

type OrderShipped struct {
	OrderNumber    string    `json:"order_number"`
	TrackingID     string    `json:"tracking_id"`
	CourierPartner string    `json:"courier_partner"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderNumber string    `json:"order_number"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type OrderReturned struct {
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason,omitempty"`
	ReturnedAt  time.Time `json:"returned_at"`
}

type OrderRefunded struct {
	OrderNumber string    `json:"order_number"`
	Amount      int64     `json:"amount"`
	RefundedAt  time.Time `json:"refunded_at"`
}
