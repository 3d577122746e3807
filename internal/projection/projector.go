package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

// Projector folds order events into OrderReadModel documents. Events at or
// below a document's version are skipped, so redelivery and replay are
// harmless.
type Projector struct {
	readStore store.ReadStoreInterface
	logger    *zap.Logger
}

func NewProjector(readStore store.ReadStoreInterface, logger *zap.Logger) *Projector {
	return &Projector{readStore: readStore, logger: logger.Named("projector")}
}

// HandleEvent decodes a published event and applies it. It matches the
// Kafka consumer's message handler signature.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	return p.Apply(ctx, event)
}

// Publish lets the projector sit behind an event store as an in-process
// publisher.
func (p *Projector) Publish(ctx context.Context, key string, event any) error {
	if e, ok := event.(store.Event); ok {
		return p.Apply(ctx, e)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.HandleEvent(ctx, []byte(key), data)
}

// Apply projects a single stored event.
func (p *Projector) Apply(ctx context.Context, event store.Event) error {
	p.logger.Debug("received event",
		zap.String("event_type", event.EventType),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("version", event.Version))

	if event.AggregateType != order.AggregateType {
		return nil
	}
	return p.handleOrderEvent(ctx, event)
}

// Replay rebuilds every order document from the event log.
func (p *Projector) Replay(ctx context.Context, es store.EventStoreInterface) (int, error) {
	events, err := es.GetAllEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read event log: %w", err)
	}
	applied := 0
	for _, event := range events {
		if event.AggregateType != order.AggregateType {
			continue
		}
		if err := p.handleOrderEvent(ctx, event); err != nil {
			return applied, fmt.Errorf("failed to project %s v%d: %w", event.AggregateID, event.Version, err)
		}
		applied++
	}
	p.logger.Info("replay finished", zap.Int("events", applied))
	return applied, nil
}

func (p *Projector) handleOrderEvent(ctx context.Context, event store.Event) error {
	if event.EventType == order.EventOrderPlaced {
		var e order.OrderPlaced
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		if existing, ok, err := p.readStore.Get(ctx, readmodel.CollectionOrders, e.OrderNumber); err != nil {
			return err
		} else if ok && existing.(*readmodel.OrderReadModel).Version >= event.Version {
			return nil
		}
		return p.readStore.Set(ctx, readmodel.CollectionOrders, e.OrderNumber, placedModel(e, event.Version))
	}

	mutate, err := orderMutation(event)
	if err != nil || mutate == nil {
		return err
	}

	found, err := p.readStore.Update(ctx, readmodel.CollectionOrders, event.AggregateID, func(current any) any {
		o := current.(*readmodel.OrderReadModel)
		if o.Version >= event.Version {
			return o
		}
		next := o.Clone()
		mutate(next)
		next.Version = event.Version
		return next
	})
	if err != nil {
		return err
	}
	if !found {
		p.logger.Warn("event for unknown order skipped",
			zap.String("order_number", event.AggregateID),
			zap.String("event_type", event.EventType))
	}
	return nil
}

// orderMutation decodes a lifecycle event into the change it makes to the
// document. Unknown event types yield nil.
func orderMutation(event store.Event) (func(*readmodel.OrderReadModel), error) {
	switch event.EventType {
	case order.EventOrderPaid:
		var e order.OrderPaid
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusConfirmed)
			o.PaymentStatus = string(order.PaymentPaid)
			o.PaymentID = e.PaymentID
			o.UpdatedAt = e.PaidAt
		}, nil

	case order.EventPaymentFailed:
		var e order.OrderPaymentFailed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusCancelled)
			o.PaymentStatus = string(order.PaymentFailed)
			if e.PaymentID != "" {
				o.PaymentID = e.PaymentID
			}
			o.FailureReason = e.Reason
			o.UpdatedAt = e.FailedAt
		}, nil

	case order.EventOrderShipped:
		var e order.OrderShipped
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusShipped)
			o.TrackingID = e.TrackingID
			o.CourierPartner = e.CourierPartner
			o.UpdatedAt = e.ShippedAt
		}, nil

	case order.EventOrderDelivered:
		var e order.OrderDelivered
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusDelivered)
			o.UpdatedAt = e.DeliveredAt
		}, nil

	case order.EventOrderReturned:
		var e order.OrderReturned
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.Status = string(order.StatusReturned)
			o.UpdatedAt = e.ReturnedAt
		}, nil

	case order.EventOrderRefunded:
		var e order.OrderRefunded
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return nil, err
		}
		return func(o *readmodel.OrderReadModel) {
			o.PaymentStatus = string(order.PaymentRefunded)
			if o.Status == string(order.StatusConfirmed) {
				o.Status = string(order.StatusCancelled)
			}
			o.RefundedAmount = e.Amount
			o.UpdatedAt = e.RefundedAt
		}, nil
	}
	return nil, nil
}

func placedModel(e order.OrderPlaced, version int) *readmodel.OrderReadModel {
	items := make([]readmodel.OrderItemReadModel, len(e.Items))
	for i, item := range e.Items {
		items[i] = readmodel.OrderItemReadModel{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			Size:      item.Size,
			Color:     item.Color,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}
	a := e.ShippingAddress
	return &readmodel.OrderReadModel{
		OrderNumber:    e.OrderNumber,
		CustomerID:     e.CustomerID,
		Items:          items,
		TotalAmount:    e.TotalAmount,
		DiscountAmount: e.DiscountAmount,
		CouponCode:     e.CouponCode,
		ShippingFee:    e.ShippingFee,
		FinalAmount:    e.FinalAmount,
		ShippingAddress: readmodel.AddressReadModel{
			FullName:   a.FullName,
			Phone:      a.Phone,
			Email:      a.Email,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		},
		Status:        string(order.StatusPending),
		PaymentStatus: string(order.PaymentPending),
		Version:       version,
		CreatedAt:     e.PlacedAt,
		UpdatedAt:     e.PlacedAt,
	}
}
