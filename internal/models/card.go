package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is the authoritative record for a physical NFC card. The balance held
// here is the source of truth whenever the hardware is unreachable and the
// reconciler replays queued operations against it.
type Card struct {
	BaseModel

	CardUID   string          `gorm:"uniqueIndex;not null" json:"card_uid"`
	StudentID *string         `gorm:"type:uuid;index" json:"student_id"`
	Student   *Student        `json:"student,omitempty"`
	Balance   decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"balance"`
	Status    CardStatus      `gorm:"not null;default:active" json:"status"`

	// Checksum mirrors the validation block written to the card so cached
	// reads can be verified without the hardware present.
	Checksum string `json:"-"`

	PINHash string `json:"-"`

	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// Usable reports whether the card may participate in transactions.
func (c *Card) Usable(now time.Time) bool {
	if c.Status != CardActive {
		return false
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return false
	}
	return true
}
