package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PendingOperation is a balance-changing operation accepted while the
// authoritative store was unreachable. It lives in the offline database and
// is retained until the reconciler marks it SYNCED. Operations for the same
// card must be replayed in creation order.
type PendingOperation struct {
	ID      string        `gorm:"primaryKey;type:uuid" json:"id"`
	CardUID string        `gorm:"not null;index:idx_pending_card_order,priority:1" json:"card_uid"`
	Kind    OperationKind `gorm:"not null" json:"kind"`

	Amount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`

	// StudentNumber captures the on-card binding carried by the offline
	// write, if any.
	StudentNumber string `json:"student_number,omitempty"`

	SyncStatus SyncStatus `gorm:"not null;default:PENDING;index" json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at"`

	CreatedAt time.Time `gorm:"not null;index:idx_pending_card_order,priority:2" json:"created_at"`
}

// BeforeCreate assigns an identifier before the row is persisted.
func (p *PendingOperation) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
