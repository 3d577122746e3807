package api

import (
	"net/http"

	"github.com/example/ec-checkout/internal/api/middleware"
	"github.com/example/ec-checkout/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(handlers *Handlers, jwtService *auth.JWTService, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gateway callback, authenticated by its signature
	r.POST("/orders/verify", handlers.VerifyPayment)

	authed := r.Group("/", middleware.Auth(jwtService))
	{
		authed.GET("/cart", handlers.GetCart)
		authed.DELETE("/cart", handlers.ClearCart)
		authed.POST("/cart/items", handlers.AddToCart)
		authed.PUT("/cart/items/:variantId", handlers.UpdateCartItem)
		authed.DELETE("/cart/items/:variantId", handlers.RemoveFromCart)

		authed.POST("/orders", handlers.PlaceOrder)
		authed.GET("/orders", handlers.GetOrders)
		authed.POST("/orders/failed", handlers.ReportPaymentFailure)
		authed.GET("/orders/:id", handlers.GetOrder)
		authed.GET("/orders/:id/invoice", handlers.GetInvoice)
	}

	admin := r.Group("/admin", middleware.Auth(jwtService), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/orders", handlers.GetAllOrders)
		admin.POST("/orders/:id/ship", handlers.ShipOrder)
		admin.POST("/orders/:id/deliver", handlers.DeliverOrder)
		admin.POST("/orders/:id/return", handlers.ReturnOrder)
		admin.POST("/orders/:id/refund", handlers.RefundOrder)
		admin.GET("/inventory/:variantId", handlers.GetStock)
		admin.PUT("/inventory/:variantId", handlers.SetStock)
	}

	return r
}
