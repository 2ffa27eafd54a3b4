package api

import (
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services groups the use cases exposed over HTTP
type Services struct {
	Cart      *service.CartService
	Checkout  *service.CheckoutService
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Inventory *service.InventoryService
}

// Handler contains HTTP handlers
type Handler struct {
	cart      *service.CartService
	checkout  *service.CheckoutService
	orders    *service.OrderService
	payments  *service.PaymentService
	inventory *service.InventoryService
	identity  *Identity
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, identity *Identity) *Handler {
	return &Handler{
		cart:      svc.Cart,
		checkout:  svc.Checkout,
		orders:    svc.Orders,
		payments:  svc.Payments,
		inventory: svc.Inventory,
		identity:  identity,
		logger:    util.Component("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// the gateway redirects the buyer's browser here without a token
	v1.GET("/payments/verify", h.verifyPayment)

	authed := v1.Group("")
	authed.Use(h.identity.Middleware())
	{
		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.PATCH("/cart/items/:id", h.updateCartItem)
		authed.DELETE("/cart/items/:id", h.removeCartItem)

		authed.POST("/checkout", h.createOrder)

		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)

		authed.POST("/payments/:order_id/start", h.startPayment)
	}

	admin := authed.Group("/admin")
	admin.Use(RequireRole(RoleAdmin))
	{
		admin.GET("/store-items", h.listStoreItems)
		admin.POST("/store-items", h.createStoreItem)
		admin.GET("/store-items/:id", h.getStoreItem)
		admin.PUT("/store-items/:id/stock", h.setStock)
		admin.PUT("/store-items/:id/price", h.setPrice)

		admin.DELETE("/:entity/:id", h.softDelete)
		admin.POST("/:entity/:id/restore", h.restore)
		admin.DELETE("/:entity/:id/purge", h.purge)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type addCartItemRequest struct {
	StoreItemID uuid.UUID `json:"store_item_id" binding:"required"`
	Quantity    int       `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.cart.GetCart(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !h.bind(c, &req) {
		return
	}

	view, err := h.cart.AddItem(c.Request.Context(), userID(c), req.StoreItemID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !h.bind(c, &req) {
		return
	}

	view, err := h.cart.UpdateQuantity(c.Request.Context(), userID(c), itemID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.cart.RemoveItem(c.Request.Context(), userID(c), itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// createOrder checks out the caller's cart
func (h *Handler) createOrder(c *gin.Context) {
	view, err := h.checkout.Checkout(c.Request.Context(), userID(c), c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.orders.Cancel(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) startPayment(c *gin.Context) {
	orderID, ok := h.pathID(c, "order_id")
	if !ok {
		return
	}

	res, err := h.payments.StartPayment(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":     res.OrderID,
		"authority":    res.Authority,
		"redirect_url": res.RedirectURL,
		"amount":       res.Amount,
	})
}

// verifyPayment is the gateway callback. A repeated callback for a paid
// order answers 409 with the stored reference id.
func (h *Handler) verifyPayment(c *gin.Context) {
	authority := c.Query("Authority")
	status := c.Query("Status")

	res, err := h.payments.VerifyPayment(c.Request.Context(), authority, status)
	if err != nil {
		if res != nil && apperr.Is(err, apperr.KindConflict) {
			appErr := apperr.As(err)
			c.JSON(appErr.HTTPStatus(), gin.H{
				"error":    appErr.Kind,
				"message":  appErr.Message,
				"order_id": res.OrderID,
				"status":   res.Status,
				"ref_id":   res.RefID,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": res.OrderID,
		"status":   res.Status,
		"outcome":  res.Outcome,
		"ref_id":   res.RefID,
		"code":     res.Code,
	})
}

// respondError writes err using its application error kind
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr := apperr.As(err)
	if appErr.Kind == apperr.KindInternal {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus(), appErr)
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.respondError(c, apperr.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
