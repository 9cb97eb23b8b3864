package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedCard mirrors the last state observed on a physical card. It lives in
// the dedicated offline database and is written on every successful hardware
// interaction, so a read can still be served when the reader or the primary
// database is unreachable.
type CachedCard struct {
	CardUID string          `gorm:"primaryKey" json:"card_uid"`
	Balance decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance"`

	// StudentNumber is the binding as written on the card itself, not the
	// primary store's student UUID.
	StudentNumber string `json:"student_number"`

	Checksum string    `gorm:"not null" json:"-"`
	CachedAt time.Time `gorm:"not null" json:"cached_at"`
}

// Stale reports whether the mirror is older than the supplied TTL. Stale
// entries are still served (availability over freshness) but flagged so the
// dashboard can warn the operator.
func (c *CachedCard) Stale(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(c.CachedAt) > ttl
}
