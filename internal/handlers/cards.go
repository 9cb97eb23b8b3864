package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/services"
	appErrors "github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// CardHandler exposes the card facade over HTTP.
type CardHandler struct {
	cards *services.CardService
	audit *services.AuditService
}

func NewCardHandler(cards *services.CardService, audit *services.AuditService) *CardHandler {
	return &CardHandler{cards: cards, audit: audit}
}

// POST /api/cards/scan
func (h *CardHandler) Scan(c *gin.Context) {
	timeout := time.Duration(parseIntQuery(c, "timeout", 0)) * time.Second

	uid, err := h.cards.Scan(requestContext(c), timeout)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"card_uid": uid})
}

// GET /api/cards/:uid/balance
func (h *CardHandler) Balance(c *gin.Context) {
	result, err := h.cards.Read(requestContext(c), c.Param("uid"))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

type registerCardRequest struct {
	CardUID        string          `json:"card_uid" validate:"required"`
	StudentID      *string         `json:"student_id" validate:"omitempty,uuid4"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	PIN            string          `json:"pin" validate:"omitempty,min=4,max=8"`
}

// POST /api/cards
func (h *CardHandler) Register(c *gin.Context) {
	var req registerCardRequest
	if !bindAndValidate(c, &req) {
		return
	}

	card, result, err := h.cards.Register(requestContext(c), services.RegisterInput{
		CardUID:   req.CardUID,
		StudentID: req.StudentID,
		Balance:   req.InitialBalance,
		PIN:       req.PIN,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "card.register",
		EntityType: "card",
		EntityID:   card.ID,
		Details: map[string]any{
			"card_uid":              card.CardUID,
			"initial_balance":       req.InitialBalance.StringFixed(2),
			"committed_to_hardware": result.CommittedToHardware,
		},
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	response.Success(c, http.StatusCreated, gin.H{
		"card":                  card,
		"committed_to_hardware": result.CommittedToHardware,
	})
}

// GET /api/cards/:uid
func (h *CardHandler) Get(c *gin.Context) {
	card, err := h.cards.Get(requestContext(c), c.Param("uid"))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, card)
}

// GET /api/cards
func (h *CardHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	cards, total, err := h.cards.List(requestContext(c), page, pageSize)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, cards, response.NewMeta(page, pageSize, total))
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended lost expired"`
}

// PATCH /api/cards/:uid/status
func (h *CardHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	card, err := h.cards.UpdateStatus(requestContext(c), c.Param("uid"), models.CardStatus(req.Status))
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     "card.update_status",
		EntityType: "card",
		EntityID:   card.ID,
		Details:    map[string]any{"status": req.Status},
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, card)
}

// GET /api/cards/:uid/qr
//
// Returns a PNG QR code that encodes the balance-check link for the card, so
// parents can pin it to the fridge.
func (h *CardHandler) QR(c *gin.Context) {
	uid := c.Param("uid")

	if _, err := h.cards.Get(requestContext(c), uid); err != nil {
		serviceError(c, err)
		return
	}

	size := parseIntQuery(c, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}

	png, err := qrcode.Encode(fmt.Sprintf("mealcard://cards/%s", uid), qrcode.Medium, size)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
