package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// Health returns a readiness payload including both database tiers and the
// offline queue depth.
func Health(db *gorm.DB, sync *services.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		dbStatus := "ok"

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(requestContext(c)) != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}

		pending, err := sync.PendingCount(requestContext(c))
		if err != nil {
			status = "degraded"
		}

		response.Success(c, http.StatusOK, gin.H{
			"status":             status,
			"database":           dbStatus,
			"pending_operations": pending,
		})
	}
}
