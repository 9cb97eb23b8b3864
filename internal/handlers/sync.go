package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/realtime"
	"github.com/tkarlsen/mealcard/internal/services"
	appErrors "github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// SyncHandler exposes the reconciler over HTTP for manual runs and queue
// inspection.
type SyncHandler struct {
	sync  *services.SyncService
	audit *services.AuditService
	hub   *realtime.Hub
}

func NewSyncHandler(sync *services.SyncService, audit *services.AuditService, hub *realtime.Hub) *SyncHandler {
	return &SyncHandler{sync: sync, audit: audit, hub: hub}
}

// POST /api/sync/run
func (h *SyncHandler) Run(c *gin.Context) {
	report, err := h.sync.Run(requestContext(c))
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "sync.run",
		EntityType: "sync",
		Details: map[string]any{
			"synced":  report.Synced,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		},
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	h.hub.Broadcast(realtime.StreamSync, realtime.Message{Event: "sync_completed", Data: report})
	response.Success(c, http.StatusOK, report)
}

// GET /api/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	pending, err := h.sync.PendingCount(requestContext(c))
	if err != nil {
		serviceError(c, err)
		return
	}

	failed, err := h.sync.ListOperations(requestContext(c), models.SyncFailed)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"pending": pending,
		"failed":  len(failed),
	})
}

// GET /api/sync/operations?status=PENDING
func (h *SyncHandler) Operations(c *gin.Context) {
	status := models.SyncStatus(c.DefaultQuery("status", string(models.SyncPending)))
	switch status {
	case models.SyncPending, models.SyncSynced, models.SyncFailed:
	default:
		response.Error(c, appErrors.NewBadRequest("status must be PENDING, SYNCED, or FAILED"))
		return
	}

	ops, err := h.sync.ListOperations(requestContext(c), status)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ops)
}

// POST /api/sync/retry
func (h *SyncHandler) Retry(c *gin.Context) {
	count, err := h.sync.RetryFailed(requestContext(c))
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "sync.retry",
		EntityType: "sync",
		Details:    map[string]any{"requeued": count},
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, gin.H{"requeued": count})
}
