package command

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/keylock"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/example/ec-checkout/internal/pricing"
	"github.com/example/ec-checkout/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const gatewaySecret = "test-secret"

func newTestHandler(t *testing.T) (*Handler, *mocks.MockEventStore, *inventory.MemoryLedger) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	eventStore := mocks.NewMockEventStore()
	cat := catalog.NewMemory()
	cat.PutProduct(catalog.Product{ID: "prod-1", Name: "Tee", BasePrice: 1000, Active: true})
	cat.PutVariant(catalog.Variant{ID: "V", ProductID: "prod-1", SKU: "TEE-M", Size: "M", Active: true})

	ledger := inventory.NewMemoryLedger()
	require.NoError(t, ledger.SetStock(ctx, "V", 5))

	coupons := coupon.NewMemoryStore()
	coupons.Put(coupon.Coupon{Code: "TEN", Type: coupon.TypePercentage, Value: decimal.NewFromInt(10), Active: true})
	couponSvc := coupon.NewService(coupons)

	locks := keylock.New()
	cartSvc := cart.NewService(eventStore, cat, locks, logger)
	orderSvc := order.NewService(eventStore, logger)
	engine := pricing.NewEngine(cat, couponSvc, settings.Static{FreeShippingThreshold: 5000, ShippingCost: 500})
	settler := inventory.NewSettler(ledger, 3, logger).WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	})
	factory := checkout.NewFactory(cartSvc, engine, ledger, settler, orderSvc, couponSvc, locks, time.Hour, logger)
	reconciler := payment.NewReconciler(orderSvc, ledger, settler, payment.NewSigner(gatewaySecret), 30*time.Minute, logger)

	handler := NewHandler(cartSvc, engine, factory, orderSvc, reconciler, ledger, logger)
	return handler, eventStore, ledger
}

func address() order.ShippingAddress {
	return order.ShippingAddress{
		FullName:   "Grace Hopper",
		Phone:      "+1 555 0100",
		Line1:      "1 Navy Yard",
		City:       "Arlington",
		PostalCode: "22202",
		Country:    "US",
	}
}

func placeOrder(t *testing.T, h *Handler, customerID string) *order.Order {
	t.Helper()
	ctx := context.Background()
	_, err := h.AddToCart(ctx, AddToCart{CustomerID: customerID, VariantID: "V", Quantity: 2})
	require.NoError(t, err)
	o, err := h.PlaceOrder(ctx, PlaceOrder{CustomerID: customerID, ShippingAddress: address()})
	require.NoError(t, err)
	return o
}

func paid(t *testing.T, h *Handler, o *order.Order) {
	t.Helper()
	signer := payment.NewSigner(gatewaySecret)
	_, err := h.VerifyPayment(context.Background(), payment.VerifyInput{
		OrderNumber: o.OrderNumber,
		PaymentID:   "pay-1",
		Status:      payment.OutcomeSuccess,
		Signature:   signer.Sign(o.OrderNumber, "pay-1", payment.OutcomeSuccess),
	})
	require.NoError(t, err)
}

// ============================================
// Cart Tests
// ============================================

func TestHandler_GetCart_Empty(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	v, err := handler.GetCart(context.Background(), "cust-1", "")

	require.NoError(t, err)
	assert.Equal(t, "cart-cust-1", v.CartID)
	assert.Empty(t, v.Lines)
	assert.Zero(t, v.FinalAmount)
}

func TestHandler_AddToCart_PricesCart(t *testing.T) {
	handler, eventStore, _ := newTestHandler(t)

	v, err := handler.AddToCart(context.Background(), AddToCart{CustomerID: "cust-1", VariantID: "V", Quantity: 2})

	require.NoError(t, err)
	require.Len(t, v.Lines, 1)
	assert.Equal(t, int64(2000), v.TotalAmount)
	assert.Equal(t, int64(500), v.ShippingFee)
	assert.Equal(t, int64(2500), v.FinalAmount)
	assert.Equal(t, []string{cart.EventItemAdded}, eventStore.EventTypes())
}

func TestHandler_GetCart_CouponPreview(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := handler.AddToCart(ctx, AddToCart{CustomerID: "cust-1", VariantID: "V", Quantity: 2})
	require.NoError(t, err)

	v, err := handler.GetCart(ctx, "cust-1", "ten")

	require.NoError(t, err)
	assert.Equal(t, int64(200), v.DiscountAmount)
	assert.Equal(t, int64(2300), v.FinalAmount)
}

func TestHandler_UpdateAndRemoveCartItem(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := handler.AddToCart(ctx, AddToCart{CustomerID: "cust-1", VariantID: "V", Quantity: 2})
	require.NoError(t, err)

	v, err := handler.UpdateCartItem(ctx, UpdateCartItem{CustomerID: "cust-1", VariantID: "V", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Lines[0].Quantity)

	v, err = handler.RemoveFromCart(ctx, RemoveFromCart{CustomerID: "cust-1", VariantID: "V"})
	require.NoError(t, err)
	assert.Empty(t, v.Lines)
}

func TestHandler_ClearCart(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := handler.AddToCart(ctx, AddToCart{CustomerID: "cust-1", VariantID: "V", Quantity: 1})
	require.NoError(t, err)

	v, err := handler.ClearCart(ctx, "cust-1")

	require.NoError(t, err)
	assert.Empty(t, v.Lines)
}

// ============================================
// Order Tests
// ============================================

func TestHandler_PlaceOrder(t *testing.T) {
	handler, _, ledger := newTestHandler(t)

	o := placeOrder(t, handler, "cust-1")

	assert.Equal(t, order.StatusPending, o.Status)
	n, err := inventory.Available(context.Background(), ledger, "V")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, err := handler.GetCart(context.Background(), "cust-1", "")
	require.NoError(t, err)
	assert.Empty(t, v.Lines)
}

func TestHandler_PlaceOrder_EmptyCart(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	_, err := handler.PlaceOrder(context.Background(), PlaceOrder{CustomerID: "cust-1", ShippingAddress: address()})

	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestHandler_ReportPaymentFailure(t *testing.T) {
	handler, _, ledger := newTestHandler(t)
	o := placeOrder(t, handler, "cust-1")

	cancelled, err := handler.ReportPaymentFailure(context.Background(), ReportPaymentFailure{CustomerID: "cust-1", OrderNumber: o.OrderNumber})

	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, "payment not completed", cancelled.FailureReason)
	n, _ := inventory.Available(context.Background(), ledger, "V")
	assert.Equal(t, 5, n)
}

func TestHandler_ReportPaymentFailure_OtherCustomer(t *testing.T) {
	handler, _, ledger := newTestHandler(t)
	o := placeOrder(t, handler, "cust-1")

	_, err := handler.ReportPaymentFailure(context.Background(), ReportPaymentFailure{CustomerID: "cust-2", OrderNumber: o.OrderNumber})

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	n, _ := inventory.Available(context.Background(), ledger, "V")
	assert.Equal(t, 3, n)
}

// ============================================
// Admin Tests
// ============================================

func TestHandler_FulfilmentLifecycle(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	ctx := context.Background()
	o := placeOrder(t, handler, "cust-1")
	paid(t, handler, o)

	shipped, err := handler.ShipOrder(ctx, ShipOrder{OrderNumber: o.OrderNumber, TrackingID: "TRK-1", CourierPartner: "DHL"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, shipped.Status)

	delivered, err := handler.DeliverOrder(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, delivered.Status)

	returned, err := handler.ReturnOrder(ctx, ReturnOrder{OrderNumber: o.OrderNumber, Reason: "wrong size"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusReturned, returned.Status)

	refunded, err := handler.RefundOrder(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentRefunded, refunded.PaymentStatus)
}

func TestHandler_ShipPendingOrder(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	o := placeOrder(t, handler, "cust-1")

	_, err := handler.ShipOrder(context.Background(), ShipOrder{OrderNumber: o.OrderNumber, TrackingID: "TRK-1", CourierPartner: "DHL"})

	assert.ErrorIs(t, err, order.ErrInvalidStatus)
}

func TestHandler_SetStock(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	ctx := context.Background()
	placeOrder(t, handler, "cust-1")

	lvl, err := handler.SetStock(ctx, SetStock{VariantID: "V", Stock: 10})

	require.NoError(t, err)
	assert.Equal(t, 10, lvl.TotalStock)
	assert.Equal(t, 2, lvl.ReservedStock)
	assert.Equal(t, 8, lvl.AvailableStock())

	_, err = handler.SetStock(ctx, SetStock{VariantID: "V", Stock: 1})
	assert.Error(t, err)
}
