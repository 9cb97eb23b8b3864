package models

import "github.com/shopspring/decimal"

// Transaction is the bookkeeping record for every balance-changing operation.
// The web layer creates one per facade call; the Offline flag records whether
// the balance change reached the hardware at the time of sale.
type Transaction struct {
	BaseModel

	Reference  string  `gorm:"uniqueIndex;not null" json:"reference"`
	CardID     string  `gorm:"type:uuid;not null;index" json:"card_id"`
	Card       *Card   `json:"-"`
	StudentID  *string `gorm:"type:uuid;index" json:"student_id"`
	OperatorID *string `gorm:"type:uuid;index" json:"operator_id"`

	Kind          OperationKind   `gorm:"not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(10,2)" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(10,2)" json:"balance_after"`

	Description string `json:"description"`
	Offline     bool   `gorm:"default:false" json:"offline"`

	Items []TransactionItem `gorm:"foreignKey:TransactionID" json:"items,omitempty"`
}

// TransactionItem records one purchased menu item within a transaction.
type TransactionItem struct {
	BaseModel

	TransactionID string    `gorm:"type:uuid;not null;index" json:"transaction_id"`
	MenuItemID    string    `gorm:"type:uuid;not null;index" json:"menu_item_id"`
	MenuItem      *MenuItem `json:"menu_item,omitempty"`

	Quantity   int             `gorm:"default:1" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_price"`
}
