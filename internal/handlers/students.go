package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// StudentHandler manages student records.
type StudentHandler struct {
	students *services.StudentService
	audit    *services.AuditService
}

func NewStudentHandler(students *services.StudentService, audit *services.AuditService) *StudentHandler {
	return &StudentHandler{students: students, audit: audit}
}

type studentRequest struct {
	StudentNumber       string           `json:"student_number" validate:"required"`
	FirstName           string           `json:"first_name" validate:"required"`
	LastName            string           `json:"last_name" validate:"required"`
	Grade               string           `json:"grade"`
	Email               string           `json:"email" validate:"omitempty,email"`
	ParentEmail         string           `json:"parent_email" validate:"omitempty,email"`
	ParentPhone         string           `json:"parent_phone"`
	LowBalanceThreshold *decimal.Decimal `json:"low_balance_threshold"`
}

// POST /api/students
func (h *StudentHandler) Create(c *gin.Context) {
	var req studentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	student, err := h.students.Create(requestContext(c), services.StudentInput{
		StudentNumber:       req.StudentNumber,
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Grade:               req.Grade,
		Email:               req.Email,
		ParentEmail:         req.ParentEmail,
		ParentPhone:         req.ParentPhone,
		LowBalanceThreshold: req.LowBalanceThreshold,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "student.create",
		EntityType: "student",
		EntityID:   student.ID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusCreated, student)
}

// GET /api/students
func (h *StudentHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	students, total, err := h.students.List(requestContext(c), services.StudentListOptions{
		Page:     page,
		PageSize: pageSize,
		Search:   c.Query("search"),
		Grade:    c.Query("grade"),
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, students, response.NewMeta(page, pageSize, total))
}

// GET /api/students/:id
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(requestContext(c), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, student)
}

type studentUpdateRequest struct {
	FirstName           string           `json:"first_name"`
	LastName            string           `json:"last_name"`
	Grade               string           `json:"grade"`
	Email               string           `json:"email" validate:"omitempty,email"`
	ParentEmail         string           `json:"parent_email" validate:"omitempty,email"`
	ParentPhone         string           `json:"parent_phone"`
	LowBalanceThreshold *decimal.Decimal `json:"low_balance_threshold"`
}

// PATCH /api/students/:id
func (h *StudentHandler) Update(c *gin.Context) {
	var req studentUpdateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	student, err := h.students.Update(requestContext(c), c.Param("id"), services.StudentInput{
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Grade:               req.Grade,
		Email:               req.Email,
		ParentEmail:         req.ParentEmail,
		ParentPhone:         req.ParentPhone,
		LowBalanceThreshold: req.LowBalanceThreshold,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, student)
}

// DELETE /api/students/:id
func (h *StudentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.students.Delete(requestContext(c), id); err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "student.delete",
		EntityType: "student",
		EntityID:   id,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/students/low-balance
func (h *StudentHandler) LowBalance(c *gin.Context) {
	students, err := h.students.LowBalanceStudents(requestContext(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, students)
}
