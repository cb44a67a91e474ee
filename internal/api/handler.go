package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"catalog-sync/internal/models"
	"catalog-sync/internal/service"
	"catalog-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Operations allocates and reports synchronization operations
type Operations interface {
	AllocateOperation(ctx context.Context) (int64, error)
	GetOperationStatus(ctx context.Context, operationID int64) string
}

// CommandPublisher hands run commands to the workers
type CommandPublisher interface {
	PublishSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error
	PublishImagesSyncRequested(ctx context.Context, event *models.ImagesSyncRequestedEvent) error
}

// Pinger is a dependency checked by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	operations Operations
	commands   CommandPublisher
	deps       map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(operations Operations, commands CommandPublisher, deps map[string]Pinger) *Handler {
	return &Handler{
		operations: operations,
		commands:   commands,
		deps:       deps,
		logger:     util.GetLogger(),
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
		v1.GET("/operations/:id/status", h.getOperationStatus)
		v1.POST("/sync/prices", h.requestPriceSync)
		v1.POST("/sync/images", h.requestImagesSync)
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

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getOperationStatus returns the indented status snapshot of an operation, or null
func (h *Handler) getOperationStatus(c *gin.Context) {
	operationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid operation ID",
		})
		return
	}

	snapshot := h.operations.GetOperationStatus(c.Request.Context(), operationID)
	if snapshot == "" {
		c.Data(http.StatusNotFound, "application/json; charset=utf-8", []byte("null"))
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(snapshot))
}

// requestPriceSync allocates an operation and queues a price synchronization
func (h *Handler) requestPriceSync(c *gin.Context) {
	var req service.PriceSyncRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.ShopID == 0 && req.ShopName == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "shop_id or shop_name is required",
		})
		return
	}

	ctx := c.Request.Context()
	if req.OperationID == 0 {
		operationID, err := h.operations.AllocateOperation(ctx)
		if err != nil {
			h.logger.Error("Failed to allocate operation", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to allocate operation",
				"details": err.Error(),
			})
			return
		}
		req.OperationID = operationID
	}

	event := &models.SyncRequestedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeSyncRequested),
		OperationID: req.OperationID,
		FeedPath:    req.FeedPath,
		SourceID:    req.SourceID,
		ShopID:      req.ShopID,
		ShopName:    req.ShopName,
	}
	if err := h.commands.PublishSyncRequested(ctx, event); err != nil {
		h.logger.Error("Failed to publish SyncRequested command", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        "Failed to queue synchronization",
			"operation_id": req.OperationID,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"operation_id": req.OperationID,
		"event_id":     event.EventID,
	})
}

type imagesSyncRequest struct {
	FileName string `json:"file_name" binding:"required"`
}

// requestImagesSync queues an image bundle synchronization
func (h *Handler) requestImagesSync(c *gin.Context) {
	var req imagesSyncRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	event := &models.ImagesSyncRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypeImagesSyncRequested),
		FileName:  req.FileName,
	}
	if err := h.commands.PublishImagesSyncRequested(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to publish ImagesSyncRequested command", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to queue image synchronization",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"event_id": event.EventID,
	})
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
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
