// Package checkout turns a customer's cart into a pending order, holding
// stock for every line until the payment outcome is known.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/keylock"
	"github.com/example/ec-checkout/internal/pricing"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Carts interface {
	Get(ctx context.Context, customerID string) (*cart.Cart, error)
	ClearLoaded(ctx context.Context, c *cart.Cart, orderNumber string) error
}

type Pricer interface {
	Quote(ctx context.Context, lines []pricing.Line, couponCode string) (*pricing.Quote, error)
}

type Orders interface {
	Place(ctx context.Context, p order.PlaceParams) (*order.Order, error)
	MarkPaymentFailed(ctx context.Context, orderNumber, paymentID, reason string) (*order.Order, error)
}

// CouponRedeemer claims and gives back coupon uses. Redeem must refuse a
// use beyond the coupon's limit.
type CouponRedeemer interface {
	Redeem(ctx context.Context, code string) error
	ReleaseUsage(ctx context.Context, code string) error
}

type PlaceOrderInput struct {
	ShippingAddress order.ShippingAddress `json:"shipping_address" binding:"required"`
	CouponCode      string                `json:"coupon_code,omitempty"`
}

// NewOrderNumber returns a ULID based order number. ULIDs sort by creation
// time and carry 80 random bits, so numbers are ordered but not guessable.
func NewOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

type Factory struct {
	carts          Carts
	pricer         Pricer
	ledger         inventory.Ledger
	settler        *inventory.Settler
	orders         Orders
	coupons        CouponRedeemer
	locks          *keylock.Locker
	reservationTTL time.Duration
	logger         *zap.Logger
}

func NewFactory(
	carts Carts,
	pricer Pricer,
	ledger inventory.Ledger,
	settler *inventory.Settler,
	orders Orders,
	coupons CouponRedeemer,
	locks *keylock.Locker,
	reservationTTL time.Duration,
	logger *zap.Logger,
) *Factory {
	return &Factory{
		carts:          carts,
		pricer:         pricer,
		ledger:         ledger,
		settler:        settler,
		orders:         orders,
		coupons:        coupons,
		locks:          locks,
		reservationTTL: reservationTTL,
		logger:         logger.Named("checkout"),
	}
}

// CreateOrder reserves stock for every cart line and records a pending
// order. Either all lines are reserved and the order is persisted, or every
// reservation taken by this attempt is released again.
func (f *Factory) CreateOrder(ctx context.Context, customerID string, in PlaceOrderInput) (*order.Order, error) {
	if err := in.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	// Cart read through cart clear is single-flight per customer.
	unlock, err := f.locks.Lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := f.carts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items := c.SortedItems()
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, pricing.Line{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	quote, err := f.pricer.Quote(ctx, lines, in.CouponCode)
	if err != nil {
		return nil, err
	}

	orderNumber := NewOrderNumber()
	log := f.logger.With(zap.String("order_number", orderNumber), zap.String("customer_id", customerID))

	orderItems, err := f.reserve(ctx, orderNumber, quote.Lines)
	if err != nil {
		log.Info("checkout rejected", zap.Error(err))
		return nil, err
	}

	// The usage limit is enforced by the redemption itself, not the quote.
	if quote.CouponCode != "" {
		if err := f.coupons.Redeem(ctx, quote.CouponCode); err != nil {
			log.Info("coupon redemption refused", zap.String("coupon", quote.CouponCode), zap.Error(err))
			// A failed release is already escalated by the settler.
			_ = f.settler.ReleaseAll(ctx, orderNumber, reservationIDs(orderItems))
			return nil, err
		}
	}

	o, err := f.orders.Place(ctx, order.PlaceParams{
		OrderNumber:     orderNumber,
		CustomerID:      customerID,
		Items:           orderItems,
		TotalAmount:     quote.TotalAmount,
		DiscountAmount:  quote.DiscountAmount,
		CouponCode:      quote.CouponCode,
		ShippingFee:     quote.ShippingFee,
		FinalAmount:     quote.FinalAmount,
		ShippingAddress: in.ShippingAddress,
	})
	if err != nil {
		log.Error("failed to persist order, releasing stock", zap.Error(err))
		f.undo(ctx, log, orderNumber, orderItems, quote.CouponCode)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	// The clear is pinned to the cart version read above. Losing it means
	// another process changed or checked out the same cart meanwhile, so
	// this order is cancelled rather than left as a duplicate.
	if err := f.carts.ClearLoaded(ctx, c, orderNumber); err != nil {
		log.Warn("failed to clear cart, cancelling order", zap.Error(err))
		if _, ferr := f.orders.MarkPaymentFailed(ctx, orderNumber, "", "cart changed during checkout"); ferr != nil {
			log.Error("failed to cancel order", zap.Error(ferr))
		}
		f.undo(ctx, log, orderNumber, orderItems, quote.CouponCode)
		if errors.Is(err, store.ErrConcurrencyConflict) {
			return nil, ErrCartChanged
		}
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	log.Info("order placed",
		zap.Int("lines", len(o.Items)),
		zap.Int64("final_amount", o.FinalAmount))
	return o, nil
}

// undo releases the stock and the coupon use taken for an order that will
// not go ahead.
func (f *Factory) undo(ctx context.Context, log *zap.Logger, orderNumber string, items []order.OrderItem, couponCode string) {
	// A failed release is already escalated by the settler.
	_ = f.settler.ReleaseAll(ctx, orderNumber, reservationIDs(items))
	if couponCode == "" {
		return
	}
	if err := f.coupons.ReleaseUsage(ctx, couponCode); err != nil {
		log.Error("failed to give back coupon use", zap.String("coupon", couponCode), zap.Error(err))
	}
}

// reserve holds stock for every line. On the first failure everything
// already held is released before returning.
func (f *Factory) reserve(ctx context.Context, orderNumber string, lines []pricing.PricedLine) ([]order.OrderItem, error) {
	items := make([]order.OrderItem, 0, len(lines))
	for _, line := range lines {
		r, err := f.ledger.Reserve(ctx, line.VariantID, line.Quantity, orderNumber, f.reservationTTL)
		if err != nil {
			_ = f.settler.ReleaseAll(ctx, orderNumber, reservationIDs(items))
			if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrVariantNotFound) {
				avail, aerr := inventory.Available(ctx, f.ledger, line.VariantID)
				if aerr != nil {
					avail = 0
				}
				return nil, &OutOfStockError{
					VariantID: line.VariantID,
					SKU:       line.SKU,
					Name:      line.Name,
					Requested: line.Quantity,
					Available: avail,
				}
			}
			return nil, fmt.Errorf("failed to reserve %s: %w", line.VariantID, err)
		}

		items = append(items, order.OrderItem{
			ProductID:     line.ProductID,
			VariantID:     line.VariantID,
			Name:          line.Name,
			SKU:           line.SKU,
			Size:          line.Size,
			Color:         line.Color,
			UnitPrice:     line.UnitPrice,
			Quantity:      line.Quantity,
			LineTotal:     line.LineTotal,
			ReservationID: r.ID,
		})
	}
	return items, nil
}

func reservationIDs(items []order.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ReservationID)
	}
	return ids
}
