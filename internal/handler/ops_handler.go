package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/notification"
	"github.com/fixlyapp/fixly/internal/ws"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OpsHandler exposes the operator surface: queue introspection, archived
// task retry, stalled delivery cleanup, and the health check
type OpsHandler struct {
	inspector *asynq.Inspector
	db        *gorm.DB
	rdb       *redis.Client
	hub       *ws.Hub
	svc       *notification.Service

	// how long a delivery may sit in PROCESSING before cleanup-stalled
	// considers it dead
	stalledGrace time.Duration
}

func NewOpsHandler(inspector *asynq.Inspector, db *gorm.DB, rdb *redis.Client, hub *ws.Hub, svc *notification.Service, queueCfg config.QueueConfig) *OpsHandler {
	return &OpsHandler{
		inspector:    inspector,
		db:           db,
		rdb:          rdb,
		hub:          hub,
		svc:          svc,
		stalledGrace: queueCfg.StalledGracePeriod,
	}
}

// Health godoc
// @Summary Service health
// @Description Aggregates Postgres, Redis, and queue connectivity
// @Tags Ops
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *OpsHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if sqlDB, err := h.db.DB(); err != nil {
		checks["database"] = "error: " + err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = "error: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = "error: " + err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if _, err := h.inspector.Queues(); err != nil {
		checks["queues"] = "error: " + err.Error()
		healthy = false
	} else {
		checks["queues"] = "ok"
	}

	status := http.StatusOK
	body := gin.H{
		"status":            "healthy",
		"checks":            checks,
		"local_connections": h.hub.LocalConnectionCount(),
	}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

// GetQueues godoc
// @Summary Delivery queue statistics
// @Tags Ops
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.QueueStats
// @Router /ops/queues [get]
func (h *OpsHandler) GetQueues(c *gin.Context) {
	names, err := h.inspector.Queues()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to list queues"})
		return
	}

	stats := make([]model.QueueStats, 0, len(names))
	for _, name := range names {
		info, err := h.inspector.GetQueueInfo(name)
		if err != nil {
			log.Printf("⚠️  Could not inspect queue %s: %v", name, err)
			continue
		}
		var errorRate float64
		if info.Processed > 0 {
			errorRate = float64(info.Failed) / float64(info.Processed)
		}
		stats = append(stats, model.QueueStats{
			Queue:     info.Queue,
			Waiting:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Failed:    info.Archived,
			Completed: info.Completed,
			Processed: info.Processed,
			Paused:    info.Paused,
			ErrorRate: errorRate,
		})
	}

	c.JSON(http.StatusOK, stats)
}

// RetryFailed godoc
// @Summary Re-run archived tasks of a queue
// @Description Moves up to N dead-lettered tasks back onto the queue
// @Tags Ops
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Queue name"
// @Param body body model.RetryFailedRequest false "Retry count"
// @Success 200 {object} map[string]int
// @Router /ops/queues/{name}/retry [post]
func (h *OpsHandler) RetryFailed(c *gin.Context) {
	queue := c.Param("name")

	var req model.RetryFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	count := req.Count
	if count <= 0 {
		count = 100
	}

	tasks, err := h.inspector.ListArchivedTasks(queue, asynq.PageSize(count))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to list archived tasks"})
		return
	}

	retried := 0
	for _, t := range tasks {
		if err := h.inspector.RunTask(queue, t.ID); err != nil {
			log.Printf("⚠️  Could not re-run archived task %s on %s: %v", t.ID, queue, err)
			continue
		}
		retried++
	}

	log.Printf("🔁 Re-ran %d archived task(s) on queue %s", retried, queue)
	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

// CleanupStalled godoc
// @Summary Force-fail stalled deliveries
// @Description Fails deliveries stuck in PROCESSING past the grace period
// @Tags Ops
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int
// @Router /ops/queues/cleanup-stalled [post]
func (h *OpsHandler) CleanupStalled(c *gin.Context) {
	affected, err := h.svc.CleanupStalled(c.Request.Context(), h.stalledGrace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to clean up stalled deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"failed": affected})
}
