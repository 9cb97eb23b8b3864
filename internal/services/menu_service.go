package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
)

// MenuService manages the cafeteria menu.
type MenuService struct {
	db *gorm.DB
}

// NewMenuService constructs a MenuService.
func NewMenuService(db *gorm.DB) (*MenuService, error) {
	if db == nil {
		return nil, errors.New("menu service: db is required")
	}
	return &MenuService{db: db}, nil
}

// MenuItemInput carries the mutable fields of a menu item.
type MenuItemInput struct {
	Name            string
	Description     string
	Category        string
	Price           *decimal.Decimal
	IsAvailable     *bool
	StockQuantity   *int
	ImageURL        string
	NutritionalInfo datatypes.JSON
}

// Create adds a menu item.
func (s *MenuService) Create(ctx context.Context, input MenuItemInput) (*models.MenuItem, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("menu service: name is required")
	}
	if input.Price == nil || input.Price.IsNegative() {
		return nil, errors.New("menu service: a non-negative price is required")
	}

	item := models.MenuItem{
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		Category:        strings.TrimSpace(input.Category),
		Price:           *input.Price,
		IsAvailable:     true,
		StockQuantity:   input.StockQuantity,
		ImageURL:        strings.TrimSpace(input.ImageURL),
		NutritionalInfo: input.NutritionalInfo,
	}
	if input.IsAvailable != nil {
		item.IsAvailable = *input.IsAvailable
	}

	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, fmt.Errorf("menu service: create: %w", err)
	}
	return &item, nil
}

// Get returns a single menu item.
func (s *MenuService) Get(ctx context.Context, id string) (*models.MenuItem, error) {
	ctx = ensureContext(ctx)

	var item models.MenuItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("menu service: item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("menu service: get %s: %w", id, err)
	}
	return &item, nil
}

// MenuListOptions filters a menu listing.
type MenuListOptions struct {
	Category      string
	OnlyAvailable bool
}

// List returns menu items grouped by category order.
func (s *MenuService) List(ctx context.Context, opts MenuListOptions) ([]models.MenuItem, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.MenuItem{})
	if opts.Category != "" {
		query = query.Where("category = ?", opts.Category)
	}
	if opts.OnlyAvailable {
		query = query.Where("is_available = ?", true)
	}

	var items []models.MenuItem
	if err := query.Order("category ASC, name ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("menu service: list: %w", err)
	}
	return items, nil
}

// Update mutates a menu item. Nil fields are left unchanged.
func (s *MenuService) Update(ctx context.Context, id string, input MenuItemInput) (*models.MenuItem, error) {
	ctx = ensureContext(ctx)

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if v := strings.TrimSpace(input.Name); v != "" {
		updates["name"] = v
	}
	if v := strings.TrimSpace(input.Description); v != "" {
		updates["description"] = v
	}
	if v := strings.TrimSpace(input.Category); v != "" {
		updates["category"] = v
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, errors.New("menu service: price may not be negative")
		}
		updates["price"] = *input.Price
	}
	if input.IsAvailable != nil {
		updates["is_available"] = *input.IsAvailable
	}
	if input.StockQuantity != nil {
		updates["stock_quantity"] = *input.StockQuantity
	}
	if v := strings.TrimSpace(input.ImageURL); v != "" {
		updates["image_url"] = v
	}
	if input.NutritionalInfo != nil {
		updates["nutritional_info"] = input.NutritionalInfo
	}

	if len(updates) == 0 {
		return item, nil
	}
	if err := s.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("menu service: update %s: %w", id, err)
	}
	return item, nil
}

// Delete removes a menu item. Historical transaction lines keep their copy
// of the price, so deleting an item never rewrites past sales.
func (s *MenuService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.MenuItem{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("menu service: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("menu service: item %s not found", id)
	}
	return nil
}

// Restock sets the absolute stock quantity for a stock-tracked item.
func (s *MenuService) Restock(ctx context.Context, id string, quantity int) (*models.MenuItem, error) {
	ctx = ensureContext(ctx)

	if quantity < 0 {
		return nil, errors.New("menu service: stock quantity may not be negative")
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(item).Update("stock_quantity", quantity).Error; err != nil {
		return nil, fmt.Errorf("menu service: restock %s: %w", id, err)
	}
	item.StockQuantity = &quantity
	return item, nil
}
