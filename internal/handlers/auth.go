package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/services"
	appErrors "github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// AuthHandler manages operator authentication.
type AuthHandler struct {
	operators *services.OperatorService
	audit     *services.AuditService
}

func NewAuthHandler(operators *services.OperatorService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{operators: operators, audit: audit}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.operators.Login(requestContext(c), req.Username, req.Password)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: &result.Operator.ID,
		Action:     "auth.login",
		EntityType: "operator",
		EntityID:   result.Operator.ID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, result)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	id := middleware.OperatorID(c)
	if id == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	operator, err := h.operators.Get(requestContext(c), *id)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, operator)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// POST /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	id := middleware.OperatorID(c)
	if id == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.operators.ChangePassword(requestContext(c), *id, req.CurrentPassword, req.NewPassword); err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"changed": true})
}
