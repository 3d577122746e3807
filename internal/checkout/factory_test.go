package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/keylock"
	"github.com/example/ec-checkout/internal/pricing"
	"github.com/example/ec-checkout/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	factory    *Factory
	carts      *cart.Service
	orders     *order.Service
	ledger     *inventory.MemoryLedger
	catalog    *catalog.Memory
	coupons    *coupon.MemoryStore
	couponSvc  *coupon.Service
	engine     *pricing.Engine
	settler    *inventory.Settler
	eventStore *mocks.MockEventStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	es := mocks.NewMockEventStore()
	cat := catalog.NewMemory()
	cat.PutProduct(catalog.Product{ID: "prod-1", Name: "Tee", BasePrice: 1000, Active: true})
	cat.PutProduct(catalog.Product{ID: "prod-2", Name: "Cap", BasePrice: 500, Active: true})
	cat.PutVariant(catalog.Variant{ID: "V", ProductID: "prod-1", SKU: "TEE-M", Active: true})
	cat.PutVariant(catalog.Variant{ID: "W", ProductID: "prod-2", SKU: "CAP", Active: true})

	ledger := inventory.NewMemoryLedger()
	require.NoError(t, ledger.SetStock(ctx, "V", 5))
	require.NoError(t, ledger.SetStock(ctx, "W", 1))

	coupons := coupon.NewMemoryStore()
	coupons.Put(coupon.Coupon{Code: "TEN", Type: coupon.TypePercentage, Value: decimal.NewFromInt(10), Active: true})
	coupons.Put(coupon.Coupon{Code: "ONE", Type: coupon.TypeFixed, Value: decimal.NewFromInt(100), UsageLimit: 1, Active: true})

	locks := keylock.New()
	carts := cart.NewService(es, cat, locks, logger)
	orders := order.NewService(es, logger)
	couponSvc := coupon.NewService(coupons)
	engine := pricing.NewEngine(cat, couponSvc, settings.Static{FreeShippingThreshold: 5000, ShippingCost: 500})
	settler := inventory.NewSettler(ledger, 3, logger).WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	})

	return &fixture{
		factory:    NewFactory(carts, engine, ledger, settler, orders, couponSvc, locks, time.Hour, logger),
		carts:      carts,
		orders:     orders,
		ledger:     ledger,
		catalog:    cat,
		coupons:    coupons,
		couponSvc:  couponSvc,
		engine:     engine,
		settler:    settler,
		eventStore: es,
	}
}

// replica builds a second checkout sharing the fixture's stores but with
// its own locks, like another API instance would.
func (f *fixture) replica(carts Carts, pricer Pricer) *Factory {
	return NewFactory(carts, pricer, f.ledger, f.settler, f.orders, f.couponSvc, keylock.New(), time.Hour, zap.NewNop())
}

// gatedCarts holds every Get until all callers have read the cart.
type gatedCarts struct {
	*cart.Service
	gate *sync.WaitGroup
}

func (g *gatedCarts) Get(ctx context.Context, customerID string) (*cart.Cart, error) {
	c, err := g.Service.Get(ctx, customerID)
	g.gate.Done()
	g.gate.Wait()
	return c, err
}

// gatedPricer holds every Quote until all callers have been priced.
type gatedPricer struct {
	Pricer
	gate *sync.WaitGroup
}

func (g *gatedPricer) Quote(ctx context.Context, lines []pricing.Line, couponCode string) (*pricing.Quote, error) {
	q, err := g.Pricer.Quote(ctx, lines, couponCode)
	g.gate.Done()
	g.gate.Wait()
	return q, err
}

func (f *fixture) add(t *testing.T, customerID, variantID string, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), customerID, variantID, qty)
	require.NoError(t, err)
}

func (f *fixture) available(t *testing.T, variantID string) int {
	t.Helper()
	n, err := inventory.Available(context.Background(), f.ledger, variantID)
	require.NoError(t, err)
	return n
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

// ============================================
// Create Order Tests
// ============================================

func TestCreateOrder_TwoOfFive(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)

	o, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address()})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "ORD-"))
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, 3, f.available(t, "V"))

	require.Len(t, o.Items, 1)
	item := o.Items[0]
	assert.Equal(t, int64(1000), item.UnitPrice)
	assert.Equal(t, int64(2000), item.LineTotal)
	assert.Equal(t, "Tee", item.Name)
	assert.NotEmpty(t, item.ReservationID)

	r, err := f.ledger.GetReservation(context.Background(), item.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, r.Holder)
	assert.Equal(t, inventory.StateHeld, r.State)

	assert.Equal(t, int64(2000), o.TotalAmount)
	assert.Equal(t, int64(500), o.ShippingFee)
	assert.Equal(t, int64(2500), o.FinalAmount)

	c, _ := f.carts.Get(context.Background(), "cust-1")
	assert.True(t, c.IsEmpty())
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address()})

	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 5, f.available(t, "V"))
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 1)
	addr := address()
	addr.PostalCode = ""

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: addr})

	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, 5, f.available(t, "V"))
}

func TestCreateOrder_OutOfStockReleasesEarlierLines(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)
	f.add(t, "cust-1", "W", 2) // only one cap in stock

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address()})

	require.ErrorIs(t, err, ErrOutOfStock)
	var oos *OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "W", oos.VariantID)
	assert.Equal(t, "CAP", oos.SKU)
	assert.Equal(t, 2, oos.Requested)
	assert.Equal(t, 1, oos.Available)

	assert.Equal(t, 5, f.available(t, "V"))
	assert.Equal(t, 1, f.available(t, "W"))

	c, _ := f.carts.Get(context.Background(), "cust-1")
	assert.Len(t, c.Items, 2, "cart is kept when checkout fails")
}

func TestCreateOrder_ConcurrentCustomersCompeteForStock(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 3)
	f.add(t, "cust-2", "V", 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, customer := range []string{"cust-1", "cust-2"} {
		wg.Add(1)
		go func(i int, customer string) {
			defer wg.Done()
			_, errs[i] = f.factory.CreateOrder(context.Background(), customer, PlaceOrderInput{ShippingAddress: address()})
		}(i, customer)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrOutOfStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, f.available(t, "V"))
}

func TestCreateOrder_SingleFlightPerCustomer(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 1)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address()})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrEmptyCart)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, f.available(t, "V"))
}

func TestCreateOrder_PersistenceFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)
	f.eventStore.AppendErrFor[order.EventOrderPlaced] = errors.New("database unavailable")

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address()})

	require.Error(t, err)
	assert.Equal(t, 5, f.available(t, "V"))
	c, _ := f.carts.Get(context.Background(), "cust-1")
	assert.False(t, c.IsEmpty(), "cart survives a failed checkout")
}

func TestCreateOrder_PersistenceFailureGivesBackCouponUse(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)
	f.eventStore.AppendErrFor[order.EventOrderPlaced] = errors.New("database unavailable")

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address(), CouponCode: "ONE"})

	require.Error(t, err)
	c, _ := f.coupons.Get(context.Background(), "ONE")
	assert.Equal(t, 0, c.UsedCount)
}

func TestCreateOrder_SameCartFromTwoInstances(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)

	gate := &sync.WaitGroup{}
	gate.Add(2)
	instances := []*Factory{
		f.replica(&gatedCarts{Service: cart.NewService(f.eventStore, f.catalog, keylock.New(), zap.NewNop()), gate: gate}, f.engine),
		f.replica(&gatedCarts{Service: cart.NewService(f.eventStore, f.catalog, keylock.New(), zap.NewNop()), gate: gate}, f.engine),
	}

	var wg sync.WaitGroup
	placed := make([]*order.Order, 2)
	errs := make([]error, 2)
	for i, factory := range instances {
		wg.Add(1)
		go func(i int, factory *Factory) {
			defer wg.Done()
			placed[i], errs[i] = factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address(), CouponCode: "TEN"})
		}(i, factory)
	}
	wg.Wait()

	var winner *order.Order
	for i, err := range errs {
		if err == nil {
			winner = placed[i]
			continue
		}
		assert.ErrorIs(t, err, ErrCartChanged)
	}
	require.NotNil(t, winner, "one instance places the order")
	assert.False(t, errs[0] == nil && errs[1] == nil, "the cart is checked out once")

	assert.Equal(t, 3, f.available(t, "V"), "only the placed order holds stock")
	c, _ := f.coupons.Get(context.Background(), "TEN")
	assert.Equal(t, 1, c.UsedCount)

	loaded, err := f.orders.Load(context.Background(), winner.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, loaded.Status)
}

func TestCreateOrder_LastCouponUseGoesToOneCustomer(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 1)
	f.add(t, "cust-2", "V", 1)

	gate := &sync.WaitGroup{}
	gate.Add(2)
	factory := f.replica(f.carts, &gatedPricer{Pricer: f.engine, gate: gate})

	var wg sync.WaitGroup
	placed := make([]*order.Order, 2)
	errs := make([]error, 2)
	for i, customer := range []string{"cust-1", "cust-2"} {
		wg.Add(1)
		go func(i int, customer string) {
			defer wg.Done()
			placed[i], errs[i] = factory.CreateOrder(context.Background(), customer, PlaceOrderInput{ShippingAddress: address(), CouponCode: "ONE"})
		}(i, customer)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			assert.Equal(t, int64(100), placed[i].DiscountAmount)
			continue
		}
		assert.ErrorIs(t, err, coupon.ErrUsageLimitExceeded)
	}
	assert.Equal(t, 1, succeeded)

	c, _ := f.coupons.Get(context.Background(), "ONE")
	assert.Equal(t, 1, c.UsedCount)
	assert.Equal(t, 4, f.available(t, "V"), "the refused checkout releases its stock")
}

func TestCreateOrder_WithCoupon(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)

	o, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address(), CouponCode: "ten"})

	require.NoError(t, err)
	assert.Equal(t, "TEN", o.CouponCode)
	assert.Equal(t, int64(200), o.DiscountAmount)
	assert.Equal(t, int64(2000-200+500), o.FinalAmount)

	c, _ := f.coupons.Get(context.Background(), "TEN")
	assert.Equal(t, 1, c.UsedCount)
}

func TestCreateOrder_InvalidCouponKeepsStock(t *testing.T) {
	f := newFixture(t)
	f.add(t, "cust-1", "V", 2)

	_, err := f.factory.CreateOrder(context.Background(), "cust-1", PlaceOrderInput{ShippingAddress: address(), CouponCode: "NOPE"})

	assert.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	assert.Equal(t, 5, f.available(t, "V"))
}

func TestCreateOrder_PricesAreFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "cust-1", "V", 2)

	placed, err := f.factory.CreateOrder(ctx, "cust-1", PlaceOrderInput{ShippingAddress: address()})
	require.NoError(t, err)

	f.catalog.PutProduct(catalog.Product{ID: "prod-1", Name: "Tee", BasePrice: 9999, Active: true})

	loaded, err := f.orders.Load(ctx, placed.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), loaded.Items[0].UnitPrice)
	assert.Equal(t, int64(2500), loaded.FinalAmount)
}

func TestNewOrderNumber_UniqueAndOrdered(t *testing.T) {
	a := NewOrderNumber()
	b := NewOrderNumber()

	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
	assert.Len(t, a, len("ORD-")+26)
}
