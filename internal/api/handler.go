package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tableside/internal/models"
	"tableside/internal/payment"
	"tableside/internal/realtime"
	"tableside/internal/service"
	"tableside/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	hub           *realtime.Hub
	publisher     service.Publisher
	webhookSecret string
	rateLimitRPS  int
	rateBurst     int
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, hub *realtime.Hub, publisher service.Publisher, webhookSecret string, rateLimitRPS, rateBurst int) *Handler {
	return &Handler{
		orders:        orders,
		hub:           hub,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		rateLimitRPS:  rateLimitRPS,
		rateBurst:     rateBurst,
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

	router.POST("/webhooks/stripe", h.stripeWebhook)

	router.GET("/ws/orders/:id", h.wsOrder)
	router.GET("/ws/staff", h.wsStaff)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", rateLimitMiddleware(h.rateLimitRPS, h.rateBurst), h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/track/:ref", h.trackOrder)
		v1.PATCH("/orders/:id/status", h.updateStatus)
		v1.PATCH("/orders/:id/items/:itemId/fulfillment", h.setFulfillment)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

// createOrderItem is one requested line; price is a major-unit decimal.
type createOrderItem struct {
	MenuItemID int64           `json:"menuItemId" binding:"required"`
	Quantity   int             `json:"quantity" binding:"required"`
	Price      decimal.Decimal `json:"price"`
	Notes      string          `json:"notes"`
}

// createOrderRequest is the storefront's creation payload. Money arrives in
// major units and is converted to minor units here, at the boundary.
type createOrderRequest struct {
	CustomerName    string                  `json:"customerName"`
	CustomerEmail   string                  `json:"customerEmail"`
	CustomerPhone   string                  `json:"customerPhone"`
	DeliveryMethod  string                  `json:"deliveryMethod" binding:"required"`
	DeliveryAddress *models.DeliveryAddress `json:"deliveryAddress"`
	PaymentMethod   string                  `json:"paymentMethod" binding:"required"`
	Items           []createOrderItem       `json:"items" binding:"required"`
	Subtotal        decimal.Decimal         `json:"subtotal"`
	Tax             decimal.Decimal         `json:"tax"`
	DeliveryFee     decimal.Decimal         `json:"deliveryFee"`
	Total           decimal.Decimal         `json:"total"`
	Notes           string                  `json:"notes"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	items := make([]service.OrderItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.OrderItemRequest{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  toMinor(it.Price),
			Notes:      it.Notes,
		}
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		DeliveryMethod:  req.DeliveryMethod,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		Items:           items,
		Subtotal:        toMinor(req.Subtotal),
		Tax:             toMinor(req.Tax),
		DeliveryFee:     toMinor(req.DeliveryFee),
		Total:           toMinor(req.Total),
		Notes:           req.Notes,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":       true,
		"orderId":       resp.OrderID,
		"orderNumber":   resp.OrderNumber,
		"status":        resp.Status,
		"paymentStatus": resp.PaymentStatus,
		"etaMinutes":    resp.EstimatedMinutes,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid order ID")
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": detail})
}

func (h *Handler) trackOrder(c *gin.Context) {
	detail, err := h.orders.TrackOrder(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": detail})
}

func (h *Handler) listOrders(c *gin.Context) {
	var filter store.ListFilter
	filter.Status = c.Query("status")
	filter.PaymentStatus = c.Query("paymentStatus")
	filter.CustomerEmail = c.Query("customerEmail")
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	orders, err := h.orders.ListOrders(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orders": orders, "page": page})
}

type updateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	ActorID string `json:"actorId"`
	Notes   string `json:"notes"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.orders.TransitionStatus(c.Request.Context(), orderID, req.Status, req.ActorID, req.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

type fulfillmentRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) setFulfillment(c *gin.Context) {
	orderID, err1 := strconv.ParseInt(c.Param("id"), 10, 64)
	itemID, err2 := strconv.ParseInt(c.Param("itemId"), 10, 64)
	if err1 != nil || err2 != nil {
		respondError(c, http.StatusBadRequest, "Invalid order or item ID")
		return
	}

	var req fulfillmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.orders.SetItemFulfillment(c.Request.Context(), orderID, itemID, req.Status); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) wsOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid order ID")
		return
	}
	if err := h.hub.ServeOrder(c.Writer, c.Request, orderID); err != nil {
		respondError(c, http.StatusBadRequest, "Websocket upgrade failed")
	}
}

func (h *Handler) wsStaff(c *gin.Context) {
	if err := h.hub.ServeStaff(c.Writer, c.Request); err != nil {
		respondError(c, http.StatusBadRequest, "Websocket upgrade failed")
	}
}

func toMinor(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondServiceError maps domain errors onto the stable response envelope.
// Driver and gateway internals are never surfaced.
func respondServiceError(c *gin.Context, err error) {
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		respondError(c, http.StatusBadRequest, validation.Message)
		return
	}
	if errors.Is(err, store.ErrOrderNotFound) || errors.Is(err, store.ErrOrderItemNotFound) {
		respondError(c, http.StatusNotFound, "Order not found")
		return
	}
	var invalid *models.InvalidTransitionError
	if errors.As(err, &invalid) {
		respondError(c, http.StatusConflict, invalid.Error())
		return
	}
	var authErr *payment.AuthorizationError
	if errors.As(err, &authErr) {
		respondError(c, http.StatusPaymentRequired, "Payment was declined: "+authErr.Message)
		return
	}
	var timeoutErr *payment.TimeoutError
	if errors.As(err, &timeoutErr) {
		respondError(c, http.StatusGatewayTimeout, "Payment provider did not respond, please try again")
		return
	}
	respondError(c, http.StatusInternalServerError, "Something went wrong, please try again")
}
