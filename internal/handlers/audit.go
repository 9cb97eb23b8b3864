package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// AuditHandler exposes the audit trail. Admin only.
type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	filters := services.AuditFilters{
		OperatorID: c.Query("operator_id"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = &t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.audit.List(requestContext(c), services.AuditListOptions{
		Page:     page,
		PageSize: pageSize,
		Filters:  filters,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, pageSize, total))
}
