package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/report"
	"rental-order-service/internal/service"
	"rental-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the order lifecycle exposed over HTTP
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderReference, error)
	MarkPending(ctx context.Context, orderID int64, token string) (*models.Order, error)
	Dispute(ctx context.Context, orderID int64, coupon *models.Coupon) (*models.Order, error)
	Refund(ctx context.Context, orderID int64) (*models.Order, error)
	IsExpired(ctx context.Context, orderID int64) (bool, error)
}

// CheckoutAPI is the PayPal checkout round trip
type CheckoutAPI interface {
	Begin(ctx context.Context, req *service.BeginCheckoutRequest) (*service.BeginCheckoutResponse, error)
	CompleteReturn(ctx context.Context, req *service.CompleteCheckoutRequest) (*models.Order, error)
}

// CallbackAPI applies gateway callbacks
type CallbackAPI interface {
	HandleCallback(ctx context.Context, cb *models.GatewayCallback) error
}

// ReportSource lists the rows of the order export
type ReportSource interface {
	ListReportRows(ctx context.Context, from, to time.Time) ([]models.ReportRow, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders    OrderAPI
	checkout  CheckoutAPI
	callbacks CallbackAPI
	reports   ReportSource
	probes    []Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, checkout CheckoutAPI, callbacks CallbackAPI, reports ReportSource, probes ...Pinger) *Handler {
	return &Handler{
		orders:    orders,
		checkout:  checkout,
		callbacks: callbacks,
		reports:   reports,
		probes:    probes,
		logger:    util.GetLogger(),
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
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pending", h.markPending)
		v1.POST("/orders/:id/dispute", h.disputeOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.GET("/orders/:id/expired", h.orderExpired)
		v1.GET("/reports/orders.csv", h.exportOrders)
		v1.POST("/paypal/checkout", h.beginCheckout)
		v1.POST("/callbacks", h.gatewayCallback)
	}

	// PayPal redirects the buyer back to these
	paypal := router.Group("/api/paypal")
	{
		paypal.GET("/return", h.paypalReturn)
		paypal.GET("/cancel", h.paypalCancel)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.probes {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, refs, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":      order,
		"references": refs,
	})
}

// markPendingRequest carries the token of a gateway round trip started elsewhere
type markPendingRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *Handler) markPending(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req markPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.MarkPending(c.Request.Context(), orderID, req.Token)
	if err != nil {
		h.writeError(c, "Failed to mark order pending", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) disputeOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.Dispute(c.Request.Context(), orderID, nil)
	if err != nil {
		h.writeError(c, "Failed to dispute order", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.Refund(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to refund order", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderExpired(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	expired, err := h.orders.IsExpired(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to check expiry", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"expired":  expired,
	})
}

// exportOrders streams orders created in [from, to) as CSV. Defaults to the last 30 days.
func (h *Handler) exportOrders(c *gin.Context) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date"})
			return
		}
		// the to date is inclusive
		to = to.AddDate(0, 0, 1)
	}

	rows, err := h.reports.ListReportRows(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, "Failed to export orders", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="orders.csv"`)
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if err := report.WriteOrdersCSV(c.Writer, rows); err != nil {
		h.logger.Error("Failed to write order export", zap.Error(err))
	}
}

func (h *Handler) beginCheckout(c *gin.Context) {
	var req service.BeginCheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.Begin(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to start checkout", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) paypalReturn(c *gin.Context) {
	refID, err := strconv.ParseInt(c.Query("ref_id"), 10, 64)
	if err != nil || c.Query("token") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token or ref_id"})
		return
	}

	kind := models.PurchaseKind(c.DefaultQuery("ref", string(models.PurchaseSingle)))
	order, err := h.checkout.CompleteReturn(c.Request.Context(), &service.CompleteCheckoutRequest{
		Token:   c.Query("token"),
		PayerID: c.Query("PayerID"),
		Item:    models.PurchasableItem{Kind: kind, ID: refID},
	})
	if err != nil {
		h.writeError(c, "Payment was not completed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":     order,
		"flash_key": order.FlashKey,
	})
}

func (h *Handler) paypalCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// gatewayCallback accepts provider callbacks posted directly instead of via Kafka
func (h *Handler) gatewayCallback(c *gin.Context) {
	var cb models.GatewayCallback

	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if cb.EventType == "" {
		cb.EventType = models.EventTypeGatewayCallback
	}

	if err := h.callbacks.HandleCallback(c.Request.Context(), &cb); err != nil {
		h.writeError(c, "Failed to apply callback", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return 0, false
	}
	return orderID, true
}

// writeError maps service errors to HTTP statuses
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrRefundNotPermitted),
		errors.Is(err, service.ErrCallbackInFlight):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidPrice),
		errors.Is(err, service.ErrCatalogResolution),
		errors.Is(err, service.ErrUnsupportedPaymentMethod),
		errors.Is(err, service.ErrUnknownCallback):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrGatewayCharge),
		errors.Is(err, service.ErrGatewayRefund):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
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
