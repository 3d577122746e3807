package order

import (
	"context"
	"testing"

	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOrderService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore, zap.NewNop())
	return service, eventStore
}

func testAddress() ShippingAddress {
	return ShippingAddress{
		FullName:   "Ada Lovelace",
		Phone:      "+44 20 7946 0000",
		Email:      "ada@example.com",
		Line1:      "12 St James's Square",
		City:       "London",
		PostalCode: "SW1Y 4JH",
		Country:    "GB",
	}
}

func testParams(number string) PlaceParams {
	return PlaceParams{
		OrderNumber: number,
		CustomerID:  "user-123",
		Items: []OrderItem{
			{ProductID: "prod-1", VariantID: "var-1", Name: "Tee", SKU: "TEE-M", UnitPrice: 1000, Quantity: 2, LineTotal: 2000, ReservationID: "res-1"},
			{ProductID: "prod-2", VariantID: "var-2", Name: "Cap", SKU: "CAP", UnitPrice: 500, Quantity: 1, LineTotal: 500, ReservationID: "res-2"},
		},
		TotalAmount:     2500,
		DiscountAmount:  250,
		CouponCode:      "TEN",
		ShippingFee:     500,
		FinalAmount:     2750,
		ShippingAddress: testAddress(),
	}
}

func placeTestOrder(t *testing.T, service *Service, number string) *Order {
	t.Helper()
	o, err := service.Place(context.Background(), testParams(number))
	require.NoError(t, err)
	return o
}

// ============================================
// Place Order Tests
// ============================================

func TestService_Place_Success(t *testing.T) {
	service, eventStore := newTestOrderService()

	o := placeTestOrder(t, service, "ORD-1")

	assert.Equal(t, "ORD-1", o.OrderNumber)
	assert.Equal(t, "user-123", o.CustomerID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, int64(2750), o.FinalAmount)
	assert.Equal(t, []string{"res-1", "res-2"}, o.ReservationIDs())
	assert.Equal(t, 1, o.Version)

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventOrderPlaced, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
	assert.Equal(t, 0, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Place_DuplicateNumber(t *testing.T) {
	service, _ := newTestOrderService()
	placeTestOrder(t, service, "ORD-1")

	_, err := service.Place(context.Background(), testParams("ORD-1"))

	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestService_Place_Validation(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()

	empty := testParams("ORD-1")
	empty.Items = nil
	_, err := service.Place(ctx, empty)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	noCity := testParams("ORD-1")
	noCity.ShippingAddress.City = " "
	_, err = service.Place(ctx, noCity)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	wrongFinal := testParams("ORD-1")
	wrongFinal.FinalAmount = 1
	_, err = service.Place(ctx, wrongFinal)
	assert.ErrorIs(t, err, ErrInconsistentAmount)

	wrongLine := testParams("ORD-1")
	wrongLine.Items[0].LineTotal = 1999
	_, err = service.Place(ctx, wrongLine)
	assert.ErrorIs(t, err, ErrInconsistentAmount)

	assert.Empty(t, eventStore.AppendCalls)
}

func TestShippingAddress_Validate(t *testing.T) {
	assert.NoError(t, testAddress().Validate())

	a := testAddress()
	a.Phone = ""
	a.Line1 = ""
	err := a.Validate()
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "line1, phone")

	a = testAddress()
	a.Email = "not-an-email"
	assert.ErrorIs(t, a.Validate(), ErrInvalidAddress)

	a = testAddress()
	a.Email = ""
	assert.NoError(t, a.Validate())
}

// ============================================
// Payment Transition Tests
// ============================================

func TestService_MarkPaid(t *testing.T) {
	service, _ := newTestOrderService()
	placeTestOrder(t, service, "ORD-1")

	o, err := service.MarkPaid(context.Background(), "ORD-1", "pay-1")

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "pay-1", o.PaymentID)
}

func TestService_MarkPaid_Twice(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")
	_, _ = service.MarkPaid(ctx, "ORD-1", "pay-1")

	_, err := service.MarkPaid(ctx, "ORD-1", "pay-1")

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestService_MarkPaymentFailed(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")

	o, err := service.MarkPaymentFailed(ctx, "ORD-1", "pay-1", "card declined")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Equal(t, "card declined", o.FailureReason)

	_, err = service.MarkPaid(ctx, "ORD-1", "pay-1")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestService_NotFound(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()

	_, err := service.MarkPaid(ctx, "ORD-404", "pay-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = service.Load(ctx, "ORD-404")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// ============================================
// Fulfilment Tests
// ============================================

func TestOrderLifecycle_HappyPath(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")

	_, err := service.MarkPaid(ctx, "ORD-1", "pay-1")
	require.NoError(t, err)
	o, err := service.Ship(ctx, "ORD-1", "TRK-1", "DHL")
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", o.TrackingID)
	assert.Equal(t, "DHL", o.CourierPartner)
	_, err = service.Deliver(ctx, "ORD-1")
	require.NoError(t, err)
	o, err = service.Return(ctx, "ORD-1", "wrong size")
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, o.Status)
	o, err = service.Refund(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, o.Status)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)

	assert.Equal(t, []string{
		EventOrderPlaced, EventOrderPaid, EventOrderShipped, EventOrderDelivered, EventOrderReturned, EventOrderRefunded,
	}, eventStore.EventTypes())
}

func TestService_Ship_RequiresConfirmed(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")

	_, err := service.Ship(ctx, "ORD-1", "TRK-1", "DHL")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = service.Ship(ctx, "ORD-1", "", "DHL")
	assert.ErrorIs(t, err, ErrMissingTracking)
}

func TestService_Refund_ConfirmedCancels(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")
	_, _ = service.MarkPaid(ctx, "ORD-1", "pay-1")

	o, err := service.Refund(ctx, "ORD-1")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
}

func TestService_Refund_RequiresPaid(t *testing.T) {
	service, _ := newTestOrderService()
	placeTestOrder(t, service, "ORD-1")

	_, err := service.Refund(context.Background(), "ORD-1")

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

// ============================================
// Transition Table Tests
// ============================================

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from   Status
		to     Status
		expect bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusReturned, true},
		{StatusCancelled, StatusConfirmed, false},
		{StatusReturned, StatusShipped, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			o := &Order{Status: tt.from}
			assert.Equal(t, tt.expect, o.CanTransitionTo(tt.to))
		})
	}
}

// ============================================
// Frozen Snapshot Tests
// ============================================

func TestOrder_ReplayKeepsFrozenPrices(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")

	events, err := eventStore.GetEvents(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	o, err := service.Load(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), o.Items[0].UnitPrice)
	assert.Equal(t, int64(2000), o.Items[0].LineTotal)
	assert.Equal(t, testAddress(), o.ShippingAddress)
}

func TestService_StaleWriterConflicts(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	placeTestOrder(t, service, "ORD-1")

	// A second process appends at the same version after our load.
	_, err := eventStore.Append(ctx, "ORD-1", AggregateType, EventOrderPaid, OrderPaid{OrderNumber: "ORD-1"}, 1)
	require.NoError(t, err)
	_, err = eventStore.Append(ctx, "ORD-1", AggregateType, EventOrderPaid, OrderPaid{OrderNumber: "ORD-1"}, 1)
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
}
