package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records operator actions for later review.
type AuditLog struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	OperatorID *string   `gorm:"type:uuid;index" json:"operator_id"`
	Operator   *Operator `json:"operator,omitempty"`

	Action     string         `gorm:"not null;index" json:"action"`
	EntityType string         `gorm:"index" json:"entity_type"` // card, student, menu_item, transaction
	EntityID   string         `json:"entity_id"`
	Details    datatypes.JSON `json:"details,omitempty"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an identifier; audit rows are append-only and never updated.
func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
