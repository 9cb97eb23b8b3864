package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/services"
	appErrors "github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	reports *services.ReportService
}

func NewReportHandler(reports *services.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// GET /api/reports/daily?date=2026-08-23
func (h *ReportHandler) Daily(c *gin.Context) {
	day := time.Now()
	if date := c.Query("date"); date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	report, err := h.reports.Daily(requestContext(c), day)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// GET /api/reports/students/:id/statement?from=...&to=...
func (h *ReportHandler) Statement(c *gin.Context) {
	var from, to time.Time
	if value := c.Query("from"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("from must be RFC3339"))
			return
		}
		from = parsed
	}
	if value := c.Query("to"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("to must be RFC3339"))
			return
		}
		to = parsed
	}

	statement, err := h.reports.Statement(requestContext(c), c.Param("id"), from, to)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, statement)
}
