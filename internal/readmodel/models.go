package readmodel

import "time"

// CollectionOrders holds one OrderReadModel per order number.
const CollectionOrders = "orders"

// OrderItemReadModel represents a frozen line of an order
type OrderItemReadModel struct {
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

// AddressReadModel is the shipping address as captured at checkout
type AddressReadModel struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderReadModel is the read model for orders
type OrderReadModel struct {
	OrderNumber     string               `json:"order_number"`
	CustomerID      string               `json:"customer_id"`
	Items           []OrderItemReadModel `json:"items"`
	TotalAmount     int64                `json:"total_amount"`
	DiscountAmount  int64                `json:"discount_amount"`
	CouponCode      string               `json:"coupon_code,omitempty"`
	ShippingFee     int64                `json:"shipping_fee"`
	FinalAmount     int64                `json:"final_amount"`
	ShippingAddress AddressReadModel     `json:"shipping_address"`
	Status          string               `json:"status"`
	PaymentStatus   string               `json:"payment_status"`
	PaymentID       string               `json:"payment_id,omitempty"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	TrackingID      string               `json:"tracking_id,omitempty"`
	CourierPartner  string               `json:"courier_partner,omitempty"`
	RefundedAmount  int64                `json:"refunded_amount,omitempty"`
	Version         int                  `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Clone returns a deep copy so read store updates never share item slices.
func (o *OrderReadModel) Clone() *OrderReadModel {
	c := *o
	c.Items = append([]OrderItemReadModel(nil), o.Items...)
	return &c
}

// InvoiceLine is one printed line of an invoice
type InvoiceLine struct {
	Description string `json:"description"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

// Invoice is derived from an order's frozen snapshot; it is never stored.
type Invoice struct {
	InvoiceNumber string           `json:"invoice_number"`
	OrderNumber   string           `json:"order_number"`
	CustomerID    string           `json:"customer_id"`
	BillTo        AddressReadModel `json:"bill_to"`
	Lines         []InvoiceLine    `json:"lines"`
	Subtotal      int64            `json:"subtotal"`
	Discount      int64            `json:"discount"`
	CouponCode    string           `json:"coupon_code,omitempty"`
	Shipping      int64            `json:"shipping"`
	Total         int64            `json:"total"`
	PaymentStatus string           `json:"payment_status"`
	PaymentID     string           `json:"payment_id,omitempty"`
	IssuedAt      time.Time        `json:"issued_at"`
}

// Factories maps each collection to the document type it decodes into, for
// stores that persist read models as JSON.
func Factories() map[string]func() any {
	return map[string]func() any{
		CollectionOrders: func() any { return &OrderReadModel{} },
	}
}
