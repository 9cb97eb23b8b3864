package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tkarlsen/mealcard/internal/middleware"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/realtime"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// TransactionHandler exposes the point-of-sale operations.
type TransactionHandler struct {
	transactions *services.TransactionService
	audit        *services.AuditService
	hub          *realtime.Hub
}

func NewTransactionHandler(transactions *services.TransactionService, audit *services.AuditService, hub *realtime.Hub) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, audit: audit, hub: hub}
}

type loadFundsRequest struct {
	CardUID     string          `json:"card_uid" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description"`
}

// POST /api/transactions/load
func (h *TransactionHandler) LoadFunds(c *gin.Context) {
	var req loadFundsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	txn, result, err := h.transactions.LoadFunds(requestContext(c), services.LoadFundsInput{
		CardUID:     req.CardUID,
		Amount:      req.Amount,
		OperatorID:  middleware.OperatorID(c),
		Description: req.Description,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	h.record(c, "transaction.load_funds", txn, result)
	response.Success(c, http.StatusCreated, transactionPayload(txn, result))
}

type purchaseLineRequest struct {
	MenuItemID string `json:"menu_item_id" validate:"required,uuid4"`
	Quantity   int    `json:"quantity" validate:"required,min=1"`
}

type purchaseRequest struct {
	CardUID     string                `json:"card_uid" validate:"required"`
	Items       []purchaseLineRequest `json:"items" validate:"required,min=1,dive"`
	Description string                `json:"description"`
}

// POST /api/transactions/purchase
func (h *TransactionHandler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	lines := make([]services.PurchaseLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.PurchaseLine{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
		})
	}

	txn, result, err := h.transactions.Purchase(requestContext(c), services.PurchaseInput{
		CardUID:     req.CardUID,
		Lines:       lines,
		OperatorID:  middleware.OperatorID(c),
		Description: req.Description,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	h.record(c, "transaction.purchase", txn, result)
	response.Success(c, http.StatusCreated, transactionPayload(txn, result))
}

type refundRequest struct {
	CardUID     string          `json:"card_uid" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description"`
}

// POST /api/transactions/refund
func (h *TransactionHandler) Refund(c *gin.Context) {
	var req refundRequest
	if !bindAndValidate(c, &req) {
		return
	}

	txn, result, err := h.transactions.Refund(requestContext(c), services.RefundInput{
		CardUID:     req.CardUID,
		Amount:      req.Amount,
		OperatorID:  middleware.OperatorID(c),
		Description: req.Description,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	h.record(c, "transaction.refund", txn, result)
	response.Success(c, http.StatusCreated, transactionPayload(txn, result))
}

type adjustRequest struct {
	CardUID string          `json:"card_uid" validate:"required"`
	Amount  decimal.Decimal `json:"amount" validate:"required"`
	Reason  string          `json:"reason" validate:"required"`
}

// POST /api/transactions/adjust
func (h *TransactionHandler) Adjust(c *gin.Context) {
	var req adjustRequest
	if !bindAndValidate(c, &req) {
		return
	}

	txn, result, err := h.transactions.Adjust(requestContext(c), services.AdjustInput{
		CardUID:    req.CardUID,
		Amount:     req.Amount,
		OperatorID: middleware.OperatorID(c),
		Reason:     req.Reason,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	h.record(c, "transaction.adjust", txn, result)
	response.Success(c, http.StatusCreated, transactionPayload(txn, result))
}

// GET /api/transactions
func (h *TransactionHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	filters := services.TransactionFilters{
		CardUID:   c.Query("card_uid"),
		StudentID: c.Query("student_id"),
		Kind:      models.OperationKind(c.Query("kind")),
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
	if offline := c.Query("offline"); offline != "" {
		value := offline == "true" || offline == "1"
		filters.Offline = &value
	}

	results, total, err := h.transactions.List(requestContext(c), services.TransactionListOptions{
		Page:     page,
		PageSize: pageSize,
		Filters:  filters,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, results, response.NewMeta(page, pageSize, total))
}

// GET /api/transactions/:reference
func (h *TransactionHandler) Get(c *gin.Context) {
	txn, err := h.transactions.GetByReference(requestContext(c), c.Param("reference"))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, txn)
}

func (h *TransactionHandler) record(c *gin.Context, action string, txn *models.Transaction, result *services.WriteResult) {
	_ = h.audit.Log(requestContext(c), services.AuditEntry{
		OperatorID: middleware.OperatorID(c),
		Action:     action,
		EntityType: "transaction",
		EntityID:   txn.ID,
		Details: map[string]any{
			"reference":             txn.Reference,
			"amount":                txn.Amount.StringFixed(2),
			"committed_to_hardware": result.CommittedToHardware,
		},
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	h.hub.Broadcast(realtime.StreamTransactions, realtime.Message{
		Event: "transaction_created",
		Data:  transactionPayload(txn, result),
	})
}

func transactionPayload(txn *models.Transaction, result *services.WriteResult) gin.H {
	return gin.H{
		"transaction":           txn,
		"committed_to_hardware": result.CommittedToHardware,
	}
}
