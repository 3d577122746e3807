package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/email"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/query"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

// ErrOrderNotProjected is returned while the order document has not caught
// up with the event; the consumer retries the message.
var ErrOrderNotProjected = errors.New("order not yet in read store")

// Handler mails the customer when payment settles an order either way.
type Handler struct {
	mailer    email.Mailer
	readStore store.ReadStoreInterface
	logger    *zap.Logger
}

func NewHandler(mailer email.Mailer, readStore store.ReadStoreInterface, logger *zap.Logger) *Handler {
	return &Handler{
		mailer:    mailer,
		readStore: readStore,
		logger:    logger.Named("notifier"),
	}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error("failed to unmarshal event", zap.Error(err))
		return err
	}
	return h.Apply(ctx, event)
}

func (h *Handler) Apply(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case order.EventOrderPaid:
		var e order.OrderPaid
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return h.orderConfirmed(ctx, e.OrderNumber)
	case order.EventPaymentFailed:
		var e order.OrderPaymentFailed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		return h.paymentFailed(ctx, e.OrderNumber, e.Reason)
	}
	return nil
}

func (h *Handler) orderConfirmed(ctx context.Context, orderNumber string) error {
	o, err := h.order(ctx, orderNumber)
	if err != nil || o == nil {
		return err
	}

	inv := query.BuildInvoice(o)
	lines := make([]email.Line, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = email.Line{Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: l.LineTotal}
	}
	body := email.BuildConfirmationBody(email.OrderSummary{
		OrderNumber:  o.OrderNumber,
		CustomerName: o.ShippingAddress.FullName,
		Lines:        lines,
		Subtotal:     inv.Subtotal,
		Discount:     inv.Discount,
		CouponCode:   inv.CouponCode,
		Shipping:     inv.Shipping,
		Total:        inv.Total,
	})
	return h.send(ctx, o, email.ConfirmationSubject(o.OrderNumber), body)
}

func (h *Handler) paymentFailed(ctx context.Context, orderNumber, reason string) error {
	o, err := h.order(ctx, orderNumber)
	if err != nil || o == nil {
		return err
	}
	body := email.BuildPaymentFailedBody(o.OrderNumber, o.ShippingAddress.FullName, reason)
	return h.send(ctx, o, email.PaymentFailedSubject(o.OrderNumber), body)
}

// order returns nil without error when there is nobody to mail.
func (h *Handler) order(ctx context.Context, orderNumber string) (*readmodel.OrderReadModel, error) {
	data, ok, err := h.readStore.Get(ctx, readmodel.CollectionOrders, orderNumber)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotProjected, orderNumber)
	}
	o, ok := data.(*readmodel.OrderReadModel)
	if !ok {
		return nil, fmt.Errorf("unexpected document type %T for order %s", data, orderNumber)
	}
	if o.ShippingAddress.Email == "" {
		h.logger.Info("no email address on order, skipping", zap.String("order_number", orderNumber))
		return nil, nil
	}
	return o, nil
}

func (h *Handler) send(ctx context.Context, o *readmodel.OrderReadModel, subject, body string) error {
	if err := h.mailer.Send(ctx, o.ShippingAddress.Email, subject, body); err != nil {
		h.logger.Error("failed to send email",
			zap.String("order_number", o.OrderNumber),
			zap.String("to", o.ShippingAddress.Email),
			zap.Error(err))
		return err
	}
	h.logger.Info("email sent", zap.String("order_number", o.OrderNumber), zap.String("subject", subject))
	return nil
}
