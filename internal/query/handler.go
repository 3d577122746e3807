package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

type Handler struct {
	readStore store.ReadStoreInterface
	logger    *zap.Logger
}

func NewHandler(readStore store.ReadStoreInterface, logger *zap.Logger) *Handler {
	return &Handler{readStore: readStore, logger: logger.Named("query")}
}

// GetOrder returns order.ErrOrderNotFound when the projector has not seen
// the order.
func (h *Handler) GetOrder(ctx context.Context, orderNumber string) (*readmodel.OrderReadModel, error) {
	data, ok, err := h.readStore.Get(ctx, readmodel.CollectionOrders, orderNumber)
	if err != nil {
		h.logger.Error("failed to get order", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, orderNumber)
	}
	return data.(*readmodel.OrderReadModel), nil
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (h *Handler) ListOrdersByCustomer(ctx context.Context, customerID string) ([]*readmodel.OrderReadModel, error) {
	return h.list(ctx, func(o *readmodel.OrderReadModel) bool { return o.CustomerID == customerID })
}

// ListAllOrders returns all orders (for admin use), optionally narrowed to a
// status.
func (h *Handler) ListAllOrders(ctx context.Context, status string) ([]*readmodel.OrderReadModel, error) {
	return h.list(ctx, func(o *readmodel.OrderReadModel) bool { return status == "" || o.Status == status })
}

// PendingOrdersBefore lists orders still awaiting payment that were placed
// before cutoff, oldest first.
func (h *Handler) PendingOrdersBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	orders, err := h.list(ctx, func(o *readmodel.OrderReadModel) bool {
		return o.PaymentStatus == string(order.PaymentPending) && o.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return nil, err
	}
	numbers := make([]string, len(orders))
	for i, o := range orders {
		numbers[len(orders)-1-i] = o.OrderNumber
	}
	return numbers, nil
}

// Invoice renders the order's frozen snapshot as an invoice.
func (h *Handler) Invoice(ctx context.Context, orderNumber string) (*readmodel.Invoice, error) {
	o, err := h.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return BuildInvoice(o), nil
}

func BuildInvoice(o *readmodel.OrderReadModel) *readmodel.Invoice {
	lines := make([]readmodel.InvoiceLine, len(o.Items))
	for i, item := range o.Items {
		desc := item.Name
		if variant := strings.TrimSpace(strings.Join([]string{item.Size, item.Color}, " ")); variant != "" {
			desc += " (" + variant + ")"
		}
		lines[i] = readmodel.InvoiceLine{
			Description: desc,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		}
	}
	return &readmodel.Invoice{
		InvoiceNumber: "INV-" + strings.TrimPrefix(o.OrderNumber, "ORD-"),
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		BillTo:        o.ShippingAddress,
		Lines:         lines,
		Subtotal:      o.TotalAmount,
		Discount:      o.DiscountAmount,
		CouponCode:    o.CouponCode,
		Shipping:      o.ShippingFee,
		Total:         o.FinalAmount,
		PaymentStatus: o.PaymentStatus,
		PaymentID:     o.PaymentID,
		IssuedAt:      o.CreatedAt,
	}
}

func (h *Handler) list(ctx context.Context, keep func(*readmodel.OrderReadModel) bool) ([]*readmodel.OrderReadModel, error) {
	items, err := h.readStore.GetAll(ctx, readmodel.CollectionOrders)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		return nil, err
	}
	orders := make([]*readmodel.OrderReadModel, 0, len(items))
	for _, item := range items {
		o := item.(*readmodel.OrderReadModel)
		if keep(o) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].OrderNumber > orders[j].OrderNumber
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}
