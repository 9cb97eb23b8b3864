package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// OperatorHandler manages dashboard accounts. Admin only.
type OperatorHandler struct {
	operators *services.OperatorService
	audit     *services.AuditService
}

func NewOperatorHandler(operators *services.OperatorService, audit *services.AuditService) *OperatorHandler {
	return &OperatorHandler{operators: operators, audit: audit}
}

type createOperatorRequest struct {
	Username string `json:"username" validate:"required,min=3"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=admin operator viewer"`
}

// POST /api/operators
func (h *OperatorHandler) Create(c *gin.Context) {
	var req createOperatorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	operator, err := h.operators.Create(requestContext(c), services.OperatorInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.OperatorRole(req.Role),
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "operator.create",
		EntityType: "operator",
		EntityID:   operator.ID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusCreated, operator)
}

// GET /api/operators
func (h *OperatorHandler) List(c *gin.Context) {
	operators, err := h.operators.List(requestContext(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, operators)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// PATCH /api/operators/:id/active
func (h *OperatorHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	id := c.Param("id")
	if err := h.operators.SetActive(requestContext(c), id, *req.IsActive); err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "operator.set_active",
		EntityType: "operator",
		EntityID:   id,
		Details:    map[string]any{"is_active": *req.IsActive},
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
