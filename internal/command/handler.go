package command

import (
	"context"
	"fmt"

	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/example/ec-checkout/internal/pricing"
	"go.uber.org/zap"
)

// CartView is a cart priced at current catalog prices.
type CartView struct {
	CartID     string `json:"cart_id"`
	CustomerID string `json:"customer_id"`
	pricing.Quote
}

type Handler struct {
	cartSvc    *cart.Service
	pricer     checkout.Pricer
	factory    *checkout.Factory
	orderSvc   *order.Service
	reconciler *payment.Reconciler
	ledger     inventory.Ledger
	logger     *zap.Logger
}

func NewHandler(
	cartSvc *cart.Service,
	pricer checkout.Pricer,
	factory *checkout.Factory,
	orderSvc *order.Service,
	reconciler *payment.Reconciler,
	ledger inventory.Ledger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cartSvc:    cartSvc,
		pricer:     pricer,
		factory:    factory,
		orderSvc:   orderSvc,
		reconciler: reconciler,
		ledger:     ledger,
		logger:     logger.Named("command"),
	}
}

// GetCart prices the customer's cart. couponCode is optional and only
// previews the discount.
func (h *Handler) GetCart(ctx context.Context, customerID, couponCode string) (*CartView, error) {
	c, err := h.cartSvc.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return h.view(ctx, c, couponCode)
}

func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*CartView, error) {
	c, err := h.cartSvc.AddItem(ctx, cmd.CustomerID, cmd.VariantID, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	return h.view(ctx, c, "")
}

// UpdateCartItem sets a line's quantity; zero or less removes it.
func (h *Handler) UpdateCartItem(ctx context.Context, cmd UpdateCartItem) (*CartView, error) {
	c, err := h.cartSvc.UpdateQuantity(ctx, cmd.CustomerID, cmd.VariantID, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	return h.view(ctx, c, "")
}

func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*CartView, error) {
	c, err := h.cartSvc.RemoveItem(ctx, cmd.CustomerID, cmd.VariantID)
	if err != nil {
		return nil, err
	}
	return h.view(ctx, c, "")
}

func (h *Handler) ClearCart(ctx context.Context, customerID string) (*CartView, error) {
	c, err := h.cartSvc.Clear(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return h.view(ctx, c, "")
}

// PlaceOrder turns the cart into a pending order holding reserved stock.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*order.Order, error) {
	return h.factory.CreateOrder(ctx, cmd.CustomerID, checkout.PlaceOrderInput{
		ShippingAddress: cmd.ShippingAddress,
		CouponCode:      cmd.CouponCode,
	})
}

// VerifyPayment applies a signed gateway callback.
func (h *Handler) VerifyPayment(ctx context.Context, in payment.VerifyInput) (*order.Order, error) {
	return h.reconciler.VerifyPayment(ctx, in)
}

// ReportPaymentFailure cancels the customer's own pending order. Orders of
// other customers are reported as not found.
func (h *Handler) ReportPaymentFailure(ctx context.Context, cmd ReportPaymentFailure) (*order.Order, error) {
	o, err := h.orderSvc.Load(ctx, cmd.OrderNumber)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != cmd.CustomerID {
		h.logger.Warn("payment failure reported for another customer's order",
			zap.String("order_number", cmd.OrderNumber),
			zap.String("customer_id", cmd.CustomerID))
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, cmd.OrderNumber)
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "payment not completed"
	}
	return h.reconciler.HandleFailedPayment(ctx, cmd.OrderNumber, reason)
}

func (h *Handler) ShipOrder(ctx context.Context, cmd ShipOrder) (*order.Order, error) {
	return h.orderSvc.Ship(ctx, cmd.OrderNumber, cmd.TrackingID, cmd.CourierPartner)
}

func (h *Handler) DeliverOrder(ctx context.Context, orderNumber string) (*order.Order, error) {
	return h.orderSvc.Deliver(ctx, orderNumber)
}

func (h *Handler) ReturnOrder(ctx context.Context, cmd ReturnOrder) (*order.Order, error) {
	return h.orderSvc.Return(ctx, cmd.OrderNumber, cmd.Reason)
}

func (h *Handler) RefundOrder(ctx context.Context, orderNumber string) (*order.Order, error) {
	return h.reconciler.Refund(ctx, orderNumber)
}

// SetStock sets a variant's on-hand stock and reports the resulting level.
func (h *Handler) SetStock(ctx context.Context, cmd SetStock) (inventory.Level, error) {
	if err := h.ledger.SetStock(ctx, cmd.VariantID, cmd.Stock); err != nil {
		return inventory.Level{}, err
	}
	return h.ledger.Level(ctx, cmd.VariantID)
}

func (h *Handler) StockLevel(ctx context.Context, variantID string) (inventory.Level, error) {
	return h.ledger.Level(ctx, variantID)
}

func (h *Handler) view(ctx context.Context, c *cart.Cart, couponCode string) (*CartView, error) {
	v := &CartView{CartID: c.ID, CustomerID: c.CustomerID}
	if c.IsEmpty() {
		v.Lines = []pricing.PricedLine{}
		return v, nil
	}
	items := c.SortedItems()
	lines := make([]pricing.Line, len(items))
	for i, item := range items {
		lines[i] = pricing.Line{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	q, err := h.pricer.Quote(ctx, lines, couponCode)
	if err != nil {
		return nil, err
	}
	v.Quote = *q
	return v, nil
}
