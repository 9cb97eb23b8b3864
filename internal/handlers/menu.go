package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// MenuHandler manages the cafeteria menu.
type MenuHandler struct {
	menu *services.MenuService
}

func NewMenuHandler(menu *services.MenuService) *MenuHandler {
	return &MenuHandler{menu: menu}
}

type menuItemRequest struct {
	Name            string           `json:"name" validate:"required"`
	Description     string           `json:"description"`
	Category        string           `json:"category" validate:"omitempty,oneof=breakfast lunch snack drink"`
	Price           *decimal.Decimal `json:"price" validate:"required"`
	IsAvailable     *bool            `json:"is_available"`
	StockQuantity   *int             `json:"stock_quantity"`
	ImageURL        string           `json:"image_url"`
	NutritionalInfo datatypes.JSON   `json:"nutritional_info"`
}

// POST /api/menu
func (h *MenuHandler) Create(c *gin.Context) {
	var req menuItemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.menu.Create(requestContext(c), services.MenuItemInput{
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		Price:           req.Price,
		IsAvailable:     req.IsAvailable,
		StockQuantity:   req.StockQuantity,
		ImageURL:        req.ImageURL,
		NutritionalInfo: req.NutritionalInfo,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, item)
}

// GET /api/menu
func (h *MenuHandler) List(c *gin.Context) {
	items, err := h.menu.List(requestContext(c), services.MenuListOptions{
		Category:      c.Query("category"),
		OnlyAvailable: c.Query("available") == "true",
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// GET /api/menu/:id
func (h *MenuHandler) Get(c *gin.Context) {
	item, err := h.menu.Get(requestContext(c), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

type menuItemUpdateRequest struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Category        string           `json:"category" validate:"omitempty,oneof=breakfast lunch snack drink"`
	Price           *decimal.Decimal `json:"price"`
	IsAvailable     *bool            `json:"is_available"`
	StockQuantity   *int             `json:"stock_quantity"`
	ImageURL        string           `json:"image_url"`
	NutritionalInfo datatypes.JSON   `json:"nutritional_info"`
}

// PATCH /api/menu/:id
func (h *MenuHandler) Update(c *gin.Context) {
	var req menuItemUpdateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.menu.Update(requestContext(c), c.Param("id"), services.MenuItemInput{
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		Price:           req.Price,
		IsAvailable:     req.IsAvailable,
		StockQuantity:   req.StockQuantity,
		ImageURL:        req.ImageURL,
		NutritionalInfo: req.NutritionalInfo,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// DELETE /api/menu/:id
func (h *MenuHandler) Delete(c *gin.Context) {
	if err := h.menu.Delete(requestContext(c), c.Param("id")); err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type restockRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// POST /api/menu/:id/restock
func (h *MenuHandler) Restock(c *gin.Context) {
	var req restockRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.menu.Restock(requestContext(c), c.Param("id"), *req.Quantity)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}
