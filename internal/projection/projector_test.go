package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/example/ec-checkout/internal/readmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProjector() (*Projector, *mocks.MockReadStore) {
	readStore := mocks.NewMockReadStore()
	projector := NewProjector(readStore, zap.NewNop())
	return projector, readStore
}

func makeEvent(aggregateType, aggregateID, eventType string, version int, data any) []byte {
	jsonData, _ := json.Marshal(data)
	event := store.Event{
		ID:            "event-123",
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now(),
		Version:       version,
	}
	result, _ := json.Marshal(event)
	return result
}

func placed() order.OrderPlaced {
	return order.OrderPlaced{
		OrderNumber: "ORD-1",
		CustomerID:  "cust-1",
		Items: []order.OrderItem{{
			ProductID: "prod-1", VariantID: "V", Name: "Tee", SKU: "TEE-M",
			UnitPrice: 1000, Quantity: 2, LineTotal: 2000, ReservationID: "res-1",
		}},
		TotalAmount:     2000,
		ShippingFee:     500,
		FinalAmount:     2500,
		ShippingAddress: order.ShippingAddress{FullName: "Ada", City: "London", Country: "GB"},
		PlacedAt:        time.Now().UTC(),
	}
}

func project(t *testing.T, p *Projector, eventType string, version int, data any) {
	t.Helper()
	require.NoError(t, p.HandleEvent(context.Background(), nil, makeEvent(order.AggregateType, "ORD-1", eventType, version, data)))
}

func orderDoc(t *testing.T, rs *mocks.MockReadStore) *readmodel.OrderReadModel {
	t.Helper()
	data, ok := rs.GetData(readmodel.CollectionOrders, "ORD-1")
	require.True(t, ok)
	return data.(*readmodel.OrderReadModel)
}

// ============================================
// Order Event Tests
// ============================================

func TestProjector_HandleOrderPlaced(t *testing.T) {
	projector, readStore := newTestProjector()

	project(t, projector, order.EventOrderPlaced, 1, placed())

	o := orderDoc(t, readStore)
	assert.Equal(t, "cust-1", o.CustomerID)
	assert.Equal(t, "pending", o.Status)
	assert.Equal(t, "pending", o.PaymentStatus)
	assert.Equal(t, int64(2500), o.FinalAmount)
	assert.Equal(t, "London", o.ShippingAddress.City)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "TEE-M", o.Items[0].SKU)
	assert.Equal(t, 1, o.Version)
}

func TestProjector_HandleOrderPaid(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())

	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1", PaidAt: time.Now()})

	o := orderDoc(t, readStore)
	assert.Equal(t, "confirmed", o.Status)
	assert.Equal(t, "paid", o.PaymentStatus)
	assert.Equal(t, "pay-1", o.PaymentID)
	assert.Equal(t, 2, o.Version)
}

func TestProjector_HandlePaymentFailed(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())

	project(t, projector, order.EventPaymentFailed, 2, order.OrderPaymentFailed{OrderNumber: "ORD-1", Reason: "declined", FailedAt: time.Now()})

	o := orderDoc(t, readStore)
	assert.Equal(t, "cancelled", o.Status)
	assert.Equal(t, "failed", o.PaymentStatus)
	assert.Equal(t, "declined", o.FailureReason)
}

func TestProjector_FulfilmentLifecycle(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())
	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"})

	project(t, projector, order.EventOrderShipped, 3, order.OrderShipped{OrderNumber: "ORD-1", TrackingID: "TRK-9", CourierPartner: "DHL"})
	o := orderDoc(t, readStore)
	assert.Equal(t, "shipped", o.Status)
	assert.Equal(t, "TRK-9", o.TrackingID)

	project(t, projector, order.EventOrderDelivered, 4, order.OrderDelivered{OrderNumber: "ORD-1"})
	project(t, projector, order.EventOrderReturned, 5, order.OrderReturned{OrderNumber: "ORD-1", Reason: "too small"})
	project(t, projector, order.EventOrderRefunded, 6, order.OrderRefunded{OrderNumber: "ORD-1", Amount: 2500})

	o = orderDoc(t, readStore)
	assert.Equal(t, "returned", o.Status)
	assert.Equal(t, "refunded", o.PaymentStatus)
	assert.Equal(t, int64(2500), o.RefundedAmount)
}

func TestProjector_RefundOfConfirmedOrderCancels(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())
	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"})

	project(t, projector, order.EventOrderRefunded, 3, order.OrderRefunded{OrderNumber: "ORD-1", Amount: 2500})

	o := orderDoc(t, readStore)
	assert.Equal(t, "cancelled", o.Status)
	assert.Equal(t, "refunded", o.PaymentStatus)
}

func TestProjector_RedeliveryIsIgnored(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())
	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"})

	project(t, projector, order.EventOrderPlaced, 1, placed())
	project(t, projector, order.EventPaymentFailed, 2, order.OrderPaymentFailed{OrderNumber: "ORD-1", Reason: "stale"})

	o := orderDoc(t, readStore)
	assert.Equal(t, "paid", o.PaymentStatus)
	assert.Empty(t, o.FailureReason)
}

func TestProjector_UpdateDoesNotMutateStoredDocument(t *testing.T) {
	projector, readStore := newTestProjector()
	project(t, projector, order.EventOrderPlaced, 1, placed())
	before := orderDoc(t, readStore)

	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"})

	assert.Equal(t, "pending", before.PaymentStatus)
	assert.Equal(t, "paid", orderDoc(t, readStore).PaymentStatus)
}

func TestProjector_EventForUnknownOrder(t *testing.T) {
	projector, readStore := newTestProjector()

	project(t, projector, order.EventOrderPaid, 2, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"})

	_, ok := readStore.GetData(readmodel.CollectionOrders, "ORD-1")
	assert.False(t, ok)
}

func TestProjector_IgnoresCartEvents(t *testing.T) {
	projector, readStore := newTestProjector()

	value := makeEvent(cart.AggregateType, "cart-cust-1", cart.EventItemAdded, 1, cart.ItemAddedToCart{})
	err := projector.HandleEvent(context.Background(), nil, value)

	require.NoError(t, err)
	assert.Empty(t, readStore.SetCalls)
	assert.Empty(t, readStore.UpdateCalls)
}

func TestProjector_HandleEvent_InvalidJSON(t *testing.T) {
	projector, _ := newTestProjector()

	err := projector.HandleEvent(context.Background(), nil, []byte("invalid json"))

	assert.Error(t, err)
}

func TestProjector_ReadStoreError(t *testing.T) {
	projector, readStore := newTestProjector()
	readStore.Err = errors.New("database is down")

	err := projector.HandleEvent(context.Background(), nil, makeEvent(order.AggregateType, "ORD-1", order.EventOrderPlaced, 1, placed()))

	assert.Error(t, err)
}

// ============================================
// Replay Tests
// ============================================

func TestProjector_Replay(t *testing.T) {
	ctx := context.Background()
	es := mocks.NewMockEventStore()
	_, err := es.Append(ctx, "ORD-1", order.AggregateType, order.EventOrderPlaced, placed(), 0)
	require.NoError(t, err)
	_, err = es.Append(ctx, "ORD-1", order.AggregateType, order.EventOrderPaid, order.OrderPaid{OrderNumber: "ORD-1", PaymentID: "pay-1"}, 1)
	require.NoError(t, err)
	_, err = es.Append(ctx, "cart-cust-1", cart.AggregateType, cart.EventItemAdded, cart.ItemAddedToCart{}, 0)
	require.NoError(t, err)

	projector, readStore := newTestProjector()
	n, err := projector.Replay(ctx, es)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	o := orderDoc(t, readStore)
	assert.Equal(t, "paid", o.PaymentStatus)
	assert.Equal(t, 2, o.Version)

	// a second replay over an up to date store changes nothing
	n, err = projector.Replay(ctx, es)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, orderDoc(t, readStore).Version)
}

func TestProjector_AsInProcessPublisher(t *testing.T) {
	ctx := context.Background()
	readStore := mocks.NewMockReadStore()
	var publisher store.Publisher = NewProjector(readStore, zap.NewNop())
	es := store.NewEventStore(publisher, zap.NewNop())

	_, err := es.Append(ctx, "ORD-1", order.AggregateType, order.EventOrderPlaced, placed(), 0)

	require.NoError(t, err)
	o := orderDoc(t, readStore)
	assert.Equal(t, "pending", o.Status)
}
