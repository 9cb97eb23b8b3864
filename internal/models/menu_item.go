package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MenuItem describes something the cafeteria sells.
type MenuItem struct {
	BaseModel

	Name        string          `gorm:"not null" json:"name"`
	Description string          `json:"description"`
	Category    string          `gorm:"index" json:"category"` // breakfast, lunch, snack, drink
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	// No column default here: gorm would drop an explicit false on insert.
	// The menu service decides availability on create.
	IsAvailable bool `json:"is_available"`

	// StockQuantity is nil when the item is not stock-tracked.
	StockQuantity *int `json:"stock_quantity"`

	ImageURL        string         `json:"image_url"`
	NutritionalInfo datatypes.JSON `json:"nutritional_info,omitempty"`
}
