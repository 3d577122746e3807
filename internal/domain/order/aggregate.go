package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/aggregate"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
)

const AggregateType = "Order"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound      = apperr.NotFound("ORDER_NOT_FOUND", "order not found")
	ErrEmptyOrder         = apperr.Validation("EMPTY_ORDER", "order must have at least one item")
	ErrInconsistentAmount = apperr.Validation("INCONSISTENT_AMOUNT", "order amounts do not add up")
	ErrDuplicateOrder     = apperr.Conflict("DUPLICATE_ORDER", "order number already exists")
	ErrInvalidStatus      = apperr.Conflict("INVALID_STATUS_TRANSITION", "invalid order status transition")
	ErrMissingTracking    = apperr.Validation("MISSING_TRACKING", "tracking id and courier are required")
)

// validTransitions defines allowed status transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {StatusReturned},
	StatusCancelled: {}, // terminal state
	StatusReturned:  {}, // terminal state
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

func (o *Order) transitionError(target Status) error {
	return fmt.Errorf("%w: order %s cannot go from %s to %s", ErrInvalidStatus, o.OrderNumber, o.Status, target)
}

type Order struct {
	OrderNumber     string          `json:"order_number"`
	CustomerID      string          `json:"customer_id"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     int64           `json:"total_amount"`
	DiscountAmount  int64           `json:"discount_amount"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	ShippingFee     int64           `json:"shipping_fee"`
	FinalAmount     int64           `json:"final_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentID       string          `json:"payment_id,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	TrackingID      string          `json:"tracking_id,omitempty"`
	CourierPartner  string          `json:"courier_partner,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
}

func (o *Order) GetID() string    { return o.OrderNumber }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// ReservationIDs lists the ledger holds backing the order's lines.
func (o *Order) ReservationIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ReservationID != "" {
			ids = append(ids, item.ReservationID)
		}
	}
	return ids
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.OrderNumber = data.OrderNumber
		o.CustomerID = data.CustomerID
		o.Items = data.Items
		o.TotalAmount = data.TotalAmount
		o.DiscountAmount = data.DiscountAmount
		o.CouponCode = data.CouponCode
		o.ShippingFee = data.ShippingFee
		o.FinalAmount = data.FinalAmount
		o.ShippingAddress = data.ShippingAddress
		o.Status = StatusPending
		o.PaymentStatus = PaymentPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventOrderPaid:
		var data OrderPaid
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusConfirmed
		o.PaymentStatus = PaymentPaid
		o.PaymentID = data.PaymentID
		o.UpdatedAt = data.PaidAt
	case EventPaymentFailed:
		var data OrderPaymentFailed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.PaymentStatus = PaymentFailed
		if data.PaymentID != "" {
			o.PaymentID = data.PaymentID
		}
		o.FailureReason = data.Reason
		o.UpdatedAt = data.FailedAt
	case EventOrderShipped:
		var data OrderShipped
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusShipped
		o.TrackingID = data.TrackingID
		o.CourierPartner = data.CourierPartner
		o.UpdatedAt = data.ShippedAt
	case EventOrderDelivered:
		var data OrderDelivered
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusDelivered
		o.UpdatedAt = data.DeliveredAt
	case EventOrderReturned:
		var data OrderReturned
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusReturned
		o.UpdatedAt = data.ReturnedAt
	case EventOrderRefunded:
		var data OrderRefunded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentStatus = PaymentRefunded
		if o.Status == StatusConfirmed {
			o.Status = StatusCancelled
		}
		o.UpdatedAt = data.RefundedAt
	}
	o.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, logger *zap.Logger) *Service {
	return &Service{eventStore: es, logger: logger.Named("order")}
}

// PlaceParams is everything the checkout froze for a new order.
type PlaceParams struct {
	OrderNumber     string
	CustomerID      string
	Items           []OrderItem
	TotalAmount     int64
	DiscountAmount  int64
	CouponCode      string
	ShippingFee     int64
	FinalAmount     int64
	ShippingAddress ShippingAddress
}

func (p PlaceParams) validate() error {
	if len(p.Items) == 0 {
		return ErrEmptyOrder
	}
	if err := p.ShippingAddress.Validate(); err != nil {
		return err
	}
	var total int64
	for _, item := range p.Items {
		if item.Quantity <= 0 || item.LineTotal != item.UnitPrice*int64(item.Quantity) {
			return fmt.Errorf("%w: line %s", ErrInconsistentAmount, item.VariantID)
		}
		total += item.LineTotal
	}
	final := p.TotalAmount - p.DiscountAmount + p.ShippingFee
	if final < 0 {
		final = 0
	}
	if total != p.TotalAmount || p.DiscountAmount > p.TotalAmount || p.FinalAmount != final {
		return ErrInconsistentAmount
	}
	return nil
}

// Load returns the current state of an order.
func (s *Service) Load(ctx context.Context, orderNumber string) (*Order, error) {
	o, found, err := aggregate.Load(ctx, s.eventStore, orderNumber, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNumber)
	}
	return o, nil
}

// Place records a new pending order. The first event is appended at
// version 0, so a reused order number fails instead of merging histories.
func (s *Service) Place(ctx context.Context, p PlaceParams) (*Order, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	o := &Order{OrderNumber: p.OrderNumber}
	event := OrderPlaced{
		OrderNumber:     p.OrderNumber,
		CustomerID:      p.CustomerID,
		Items:           p.Items,
		TotalAmount:     p.TotalAmount,
		DiscountAmount:  p.DiscountAmount,
		CouponCode:      p.CouponCode,
		ShippingFee:     p.ShippingFee,
		FinalAmount:     p.FinalAmount,
		ShippingAddress: p.ShippingAddress,
		PlacedAt:        time.Now().UTC(),
	}

	if _, err := aggregate.Append(ctx, s.eventStore, o, AggregateType, EventOrderPlaced, event); err != nil {
		if errors.Is(err, store.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, p.OrderNumber)
		}
		return nil, err
	}
	return o, nil
}

// MarkPaid confirms a pending order.
func (s *Service) MarkPaid(ctx context.Context, orderNumber, paymentID string) (*Order, error) {
	return s.transition(ctx, orderNumber, StatusConfirmed, func(o *Order) (string, any, error) {
		if o.PaymentStatus != PaymentPending {
			return "", nil, o.transitionError(StatusConfirmed)
		}
		return EventOrderPaid, OrderPaid{
			OrderNumber: orderNumber,
			PaymentID:   paymentID,
			PaidAt:      time.Now().UTC(),
		}, nil
	})
}

// MarkPaymentFailed cancels a pending order.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderNumber, paymentID, reason string) (*Order, error) {
	return s.transition(ctx, orderNumber, StatusCancelled, func(o *Order) (string, any, error) {
		if o.PaymentStatus != PaymentPending {
			return "", nil, o.transitionError(StatusCancelled)
		}
		return EventPaymentFailed, OrderPaymentFailed{
			OrderNumber: orderNumber,
			PaymentID:   paymentID,
			Reason:      reason,
			FailedAt:    time.Now().UTC(),
		}, nil
	})
}

func (s *Service) Ship(ctx context.Context, orderNumber, trackingID, courier string) (*Order, error) {
	if trackingID == "" || courier == "" {
		return nil, ErrMissingTracking
	}
	return s.transition(ctx, orderNumber, StatusShipped, func(o *Order) (string, any, error) {
		return EventOrderShipped, OrderShipped{
			OrderNumber:    orderNumber,
			TrackingID:     trackingID,
			CourierPartner: courier,
			ShippedAt:      time.Now().UTC(),
		}, nil
	})
}

func (s *Service) Deliver(ctx context.Context, orderNumber string) (*Order, error) {
	return s.transition(ctx, orderNumber, StatusDelivered, func(o *Order) (string, any, error) {
		return EventOrderDelivered, OrderDelivered{OrderNumber: orderNumber, DeliveredAt: time.Now().UTC()}, nil
	})
}

func (s *Service) Return(ctx context.Context, orderNumber, reason string) (*Order, error) {
	return s.transition(ctx, orderNumber, StatusReturned, func(o *Order) (string, any, error) {
		return EventOrderReturned, OrderReturned{OrderNumber: orderNumber, Reason: reason, ReturnedAt: time.Now().UTC()}, nil
	})
}

// Refund moves a paid order to Refunded. A confirmed order that never
// shipped is cancelled with it; a returned order keeps its status.
func (s *Service) Refund(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.Load(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPaid || (o.Status != StatusConfirmed && o.Status != StatusReturned) {
		return nil, fmt.Errorf("%w: order %s is %s/%s", ErrInvalidStatus, orderNumber, o.Status, o.PaymentStatus)
	}
	event := OrderRefunded{OrderNumber: orderNumber, Amount: o.FinalAmount, RefundedAt: time.Now().UTC()}
	if _, err := aggregate.Append(ctx, s.eventStore, o, AggregateType, EventOrderRefunded, event); err != nil {
		return nil, err
	}
	aggregate.Snapshot(ctx, s.eventStore, o, AggregateType, s.logger)
	return o, nil
}

// transition loads the order, checks the status move and appends the event
// decide returns, pinned to the loaded version.
func (s *Service) transition(ctx context.Context, orderNumber string, target Status, decide func(*Order) (string, any, error)) (*Order, error) {
	o, err := s.Load(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !o.CanTransitionTo(target) {
		return nil, o.transitionError(target)
	}

	eventType, data, err := decide(o)
	if err != nil {
		return nil, err
	}
	if _, err := aggregate.Append(ctx, s.eventStore, o, AggregateType, eventType, data); err != nil {
		return nil, err
	}
	aggregate.Snapshot(ctx, s.eventStore, o, AggregateType, s.logger)
	return o, nil
}
