package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tkarlsen/mealcard/internal/models"
)

// ErrNotCached is returned when no mirror exists for a card.
var ErrNotCached = errors.New("offline: card not cached")

// DefaultCacheTTL bounds how old a mirror can get before reads are flagged
// stale. Stale entries are still served.
const DefaultCacheTTL = 24 * time.Hour

// Cache is the durable local mirror of card state. Every successful hardware
// interaction overwrites the mirror (last-writer-wins, no merge); reads fall
// back to it when the reader or primary store is unreachable.
type Cache struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithCacheNow overrides the clock used for staleness checks, for tests.
func WithCacheNow(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache constructs a Cache over the offline database handle.
func NewCache(db *gorm.DB, ttl time.Duration, opts ...CacheOption) (*Cache, error) {
	if db == nil {
		return nil, errors.New("offline cache: db is required")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache := &Cache{db: db, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// Snapshot is a cached card record plus its derived staleness flag.
type Snapshot struct {
	models.CachedCard
	Stale bool
}

// Get returns the mirror for a card, or ErrNotCached.
func (c *Cache) Get(ctx context.Context, cardUID string) (*Snapshot, error) {
	var record models.CachedCard
	err := c.db.WithContext(ctx).First(&record, "card_uid = ?", cardUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("offline cache: get %s: %w", cardUID, err)
	}

	return &Snapshot{
		CachedCard: record,
		Stale:      record.Stale(c.ttl, c.now()),
	}, nil
}

// Put overwrites the mirror unconditionally. Each call is its own committed
// transaction, so the mirror is durable before Put returns.
func (c *Cache) Put(ctx context.Context, record models.CachedCard) error {
	if record.CardUID == "" {
		return errors.New("offline cache: card uid is required")
	}
	if record.CachedAt.IsZero() {
		record.CachedAt = c.now()
	}

	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("offline cache: put %s: %w", record.CardUID, err)
	}
	return nil
}
