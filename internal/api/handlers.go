package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/example/ec-checkout/internal/api/middleware"
	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/command"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/example/ec-checkout/internal/query"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
	}
}

// Cart Handlers

func (h *Handlers) GetCart(c *gin.Context) {
	v, err := h.cmdHandler.GetCart(c.Request.Context(), middleware.CustomerID(c), c.Query("coupon"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) AddToCart(c *gin.Context) {
	var cmd command.AddToCart
	if !bind(c, &cmd) {
		return
	}
	cmd.CustomerID = middleware.CustomerID(c)

	v, err := h.cmdHandler.AddToCart(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) UpdateCartItem(c *gin.Context) {
	var cmd command.UpdateCartItem
	if !bind(c, &cmd) {
		return
	}
	cmd.CustomerID = middleware.CustomerID(c)
	cmd.VariantID = c.Param("variantId")

	v, err := h.cmdHandler.UpdateCartItem(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) RemoveFromCart(c *gin.Context) {
	v, err := h.cmdHandler.RemoveFromCart(c.Request.Context(), command.RemoveFromCart{
		CustomerID: middleware.CustomerID(c),
		VariantID:  c.Param("variantId"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) ClearCart(c *gin.Context) {
	v, err := h.cmdHandler.ClearCart(c.Request.Context(), middleware.CustomerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Order Handlers

func (h *Handlers) PlaceOrder(c *gin.Context) {
	var cmd command.PlaceOrder
	if err := c.ShouldBindJSON(&cmd); err != nil {
		// An incomplete address fails binding; report it like the domain does.
		respondError(c, apperr.Validation(order.ErrInvalidAddress.Code(), err.Error()))
		return
	}
	cmd.CustomerID = middleware.CustomerID(c)

	o, err := h.cmdHandler.PlaceOrder(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handlers) GetOrders(c *gin.Context) {
	orders, err := h.queryHandler.ListOrdersByCustomer(c.Request.Context(), middleware.CustomerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GetOrder returns 404 for orders of other customers; admins see all.
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.queryHandler.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !canSee(c, o.CustomerID) {
		respondError(c, order.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.queryHandler.Invoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !canSee(c, inv.CustomerID) {
		respondError(c, order.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// VerifyPayment is the gateway callback. It is authenticated by the payload
// signature, not by a customer token.
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var in payment.VerifyInput
	if !bind(c, &in) {
		return
	}

	o, err := h.cmdHandler.VerifyPayment(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handlers) ReportPaymentFailure(c *gin.Context) {
	var cmd command.ReportPaymentFailure
	if !bind(c, &cmd) {
		return
	}
	cmd.CustomerID = middleware.CustomerID(c)

	o, err := h.cmdHandler.ReportPaymentFailure(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_number":   o.OrderNumber,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"message":        "order cancelled, reserved stock released",
	})
}

// Admin Handlers

func (h *Handlers) GetAllOrders(c *gin.Context) {
	orders, err := h.queryHandler.ListAllOrders(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handlers) ShipOrder(c *gin.Context) {
	var cmd command.ShipOrder
	if !bind(c, &cmd) {
		return
	}
	cmd.OrderNumber = c.Param("id")
	h.respondOrder(c, func() (*order.Order, error) { return h.cmdHandler.ShipOrder(c.Request.Context(), cmd) })
}

func (h *Handlers) DeliverOrder(c *gin.Context) {
	h.respondOrder(c, func() (*order.Order, error) { return h.cmdHandler.DeliverOrder(c.Request.Context(), c.Param("id")) })
}

func (h *Handlers) ReturnOrder(c *gin.Context) {
	var cmd command.ReturnOrder
	// The body, and with it the reason, is optional; a body that is sent
	// must still be valid JSON.
	if err := c.ShouldBindJSON(&cmd); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperr.Validation("INVALID_REQUEST", err.Error()))
		return
	}
	cmd.OrderNumber = c.Param("id")
	h.respondOrder(c, func() (*order.Order, error) { return h.cmdHandler.ReturnOrder(c.Request.Context(), cmd) })
}

func (h *Handlers) RefundOrder(c *gin.Context) {
	h.respondOrder(c, func() (*order.Order, error) { return h.cmdHandler.RefundOrder(c.Request.Context(), c.Param("id")) })
}

func (h *Handlers) GetStock(c *gin.Context) {
	lvl, err := h.cmdHandler.StockLevel(c.Request.Context(), c.Param("variantId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"variant_id":      lvl.VariantID,
		"total_stock":     lvl.TotalStock,
		"reserved_stock":  lvl.ReservedStock,
		"available_stock": lvl.AvailableStock(),
	})
}

func (h *Handlers) SetStock(c *gin.Context) {
	var cmd command.SetStock
	if !bind(c, &cmd) {
		return
	}
	cmd.VariantID = c.Param("variantId")

	lvl, err := h.cmdHandler.SetStock(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"variant_id":      lvl.VariantID,
		"total_stock":     lvl.TotalStock,
		"reserved_stock":  lvl.ReservedStock,
		"available_stock": lvl.AvailableStock(),
	})
}

// Helper functions

func (h *Handlers) respondOrder(c *gin.Context, fn func() (*order.Order, error)) {
	o, err := fn()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperr.Validation("INVALID_REQUEST", err.Error()))
		return false
	}
	return true
}

func canSee(c *gin.Context, customerID string) bool {
	claims, ok := middleware.Claims(c)
	return ok && (claims.IsAdmin() || claims.CustomerID == customerID)
}

// respondError maps the error's kind to a status. Server side failures are
// attached to the context for the request logger and hidden from clients.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	body := gin.H{"code": apperr.CodeOf(err), "message": err.Error()}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		body["message"] = "internal server error"
	}

	var oos *checkout.OutOfStockError
	if errors.As(err, &oos) {
		body["details"] = gin.H{
			"variant_id": oos.VariantID,
			"sku":        oos.SKU,
			"name":       oos.Name,
			"requested":  oos.Requested,
			"available":  oos.Available,
		}
	}
	c.JSON(status, gin.H{"error": body})
}
