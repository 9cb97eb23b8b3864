package offline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkarlsen/mealcard/internal/database/testutil"
	"github.com/tkarlsen/mealcard/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration, now func() time.Time) *Cache {
	t.Helper()

	opts := []CacheOption{}
	if now != nil {
		opts = append(opts, WithCacheNow(now))
	}

	cache, err := NewCache(testutil.MustOpenOfflineTestDB(t), ttl, opts...)
	require.NoError(t, err)
	return cache
}

func TestCacheGetMissing(t *testing.T) {
	cache := newTestCache(t, 0, nil)

	_, err := cache.Get(context.Background(), "04AABBCC")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestCachePutThenGet(t *testing.T) {
	cache := newTestCache(t, 0, nil)
	ctx := context.Background()

	record := models.CachedCard{
		CardUID:       "04AABBCC",
		Balance:       decimal.RequireFromString("12.50"),
		StudentNumber: "S10042",
		Checksum:      "deadbeef",
		CachedAt:      time.Now(),
	}
	require.NoError(t, cache.Put(ctx, record))

	snapshot, err := cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, record.Balance.Equal(snapshot.Balance))
	assert.Equal(t, "S10042", snapshot.StudentNumber)
	assert.Equal(t, "deadbeef", snapshot.Checksum)
	assert.False(t, snapshot.Stale)
}

func TestCachePutOverwrites(t *testing.T) {
	cache := newTestCache(t, 0, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, models.CachedCard{
		CardUID:  "04AABBCC",
		Balance:  decimal.RequireFromString("12.50"),
		Checksum: "aaaa1111",
	}))
	require.NoError(t, cache.Put(ctx, models.CachedCard{
		CardUID:  "04AABBCC",
		Balance:  decimal.RequireFromString("9.00"),
		Checksum: "bbbb2222",
	}))

	snapshot, err := cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, snapshot.Balance.Equal(decimal.RequireFromString("9.00")),
		"last writer wins, got %s", snapshot.Balance)
	assert.Equal(t, "bbbb2222", snapshot.Checksum)
}

func TestCacheStaleness(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	cache := newTestCache(t, time.Hour, func() time.Time { return current })
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, models.CachedCard{
		CardUID:  "04AABBCC",
		Balance:  decimal.RequireFromString("5.00"),
		Checksum: "aaaa1111",
	}))

	snapshot, err := cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.False(t, snapshot.Stale)

	// Stale entries are still served, just flagged.
	current = base.Add(2 * time.Hour)
	snapshot, err = cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, snapshot.Stale)
	assert.True(t, snapshot.Balance.Equal(decimal.RequireFromString("5.00")))
}

func TestCachePutRequiresUID(t *testing.T) {
	cache := newTestCache(t, 0, nil)
	assert.Error(t, cache.Put(context.Background(), models.CachedCard{}))
}
