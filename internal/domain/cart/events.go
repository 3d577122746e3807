package cart

import "time"

const (
	EventItemAdded       = "ItemAddedToCart"
	EventQuantityUpdated = "CartItemQuantityUpdated"
	EventItemRemoved     = "ItemRemovedFromCart"
	EventCartCleared     = "CartCleared"
)

type ItemAddedToCart struct {
	CartID     string    `json:"cart_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	VariantID  string    `json:"variant_id"`
	Quantity   int       `json:"quantity"`
	AddedAt    time.Time `json:"added_at"`
}

type CartItemQuantityUpdated struct {
	CartID     string    `json:"cart_id"`
	CustomerID string    `json:"customer_id"`
	VariantID  string    `json:"variant_id"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ItemRemovedFromCart struct {
	CartID     string    `json:"cart_id"`
	CustomerID string    `json:"customer_id"`
	VariantID  string    `json:"variant_id"`
	RemovedAt  time.Time `json:"removed_at"`
}

// CartCleared is written after checkout. OrderNumber is empty when the
// customer emptied the cart themselves.
type CartCleared struct {
	CartID      string    `json:"cart_id"`
	CustomerID  string    `json:"customer_id"`
	OrderNumber string    `json:"order_number,omitempty"`
	ClearedAt   time.Time `json:"cleared_at"`
}
