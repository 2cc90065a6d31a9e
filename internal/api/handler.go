package api

import (
	"net/http"
	"strconv"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/magento"
	"flowoms/internal/models"
	"flowoms/internal/store"
	"flowoms/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	store   *store.Store
	magento *magento.Client
	tasks   *broker.TaskQueue
}

// NewHandler creates a new HTTP handler
func NewHandler(st *store.Store, mg *magento.Client, tasks *broker.TaskQueue) *Handler {
	return &Handler{
		store:   st,
		magento: mg,
		tasks:   tasks,
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
		v1.POST("/sync/run", h.runSync)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/connection/test", h.testConnection)
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
	if err := h.store.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type runSyncRequest struct {
	TenantID int64  `json:"tenant_id" binding:"required"`
	StoreID  int64  `json:"store_id" binding:"required"`
	Days     int    `json:"days"`
	PageSize int    `json:"page_size"`
	Page     int    `json:"page"`
	BatchID  string `json:"batch_id"`
}

// runSync enqueues one sync batch for a store
func (h *Handler) runSync(c *gin.Context) {
	var req runSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.Days <= 0 {
		req.Days = 7
	}
	if req.PageSize <= 0 {
		req.PageSize = 100
	}

	task := &models.SyncRequestedTask{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.TaskTypeSyncRequested,
			TenantID:  req.TenantID,
			Timestamp: time.Now(),
		},
		StoreID:  req.StoreID,
		Days:     req.Days,
		PageSize: req.PageSize,
		Page:     req.Page,
		BatchID:  req.BatchID,
	}

	if err := h.tasks.Enqueue(c.Request.Context(), strconv.FormatInt(req.StoreID, 10), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.EventID,
		"status":  "queued",
	})
}

// getOrder returns one order with its items, invoices, and shipments
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	ctx := c.Request.Context()
	order, err := h.store.GetOrderByID(ctx, h.store.DB(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load order",
			"details": err.Error(),
		})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Order not found",
		})
		return
	}

	items, err := h.store.GetOrderItems(ctx, h.store.DB(), order.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load items", "details": err.Error()})
		return
	}
	invoices, err := h.store.GetInvoicesForOrder(ctx, h.store.DB(), order.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load invoices", "details": err.Error()})
		return
	}
	shipments, err := h.store.GetShipmentsForOrder(ctx, h.store.DB(), order.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load shipments", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":     order,
		"items":     items,
		"invoices":  invoices,
		"shipments": shipments,
	})
}

// testConnection verifies Magento API access
func (h *Handler) testConnection(c *gin.Context) {
	storeConfig, err := h.magento.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected": true,
		"store":     storeConfig,
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
