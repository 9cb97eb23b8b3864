package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/database/testutil"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/offline"
	"github.com/tkarlsen/mealcard/internal/services"
)

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *gorm.DB, *offline.Queue) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	offdb := testutil.MustOpenOfflineTestDB(t)

	cache, err := offline.NewCache(offdb, 0)
	require.NoError(t, err)
	queue, err := offline.NewQueue(offdb)
	require.NoError(t, err)

	syncSvc, err := services.NewSyncService(services.SyncServiceConfig{
		DB:    db,
		Cache: cache,
		Queue: queue,
		Locks: services.NewCardLocks(),
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	return NewRunner(syncSvc, auditSvc, opts...), db, queue
}

func TestRunOnceDrainsQueue(t *testing.T) {
	runner, db, queue := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, &models.PendingOperation{
		CardUID: "04AABBCC",
		Kind:    models.OperationLoadFunds,
		Amount:  decimal.RequireFromString("10.00"),
	}))

	require.NoError(t, runner.RunOnce(ctx))

	var card models.Card
	require.NoError(t, db.First(&card, "card_uid = ?", "04AABBCC").Error)
	assert.True(t, card.Balance.Equal(decimal.RequireFromString("10.00")))

	pending, err := queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	runner, _, _ := newTestRunner(t)
	assert.NoError(t, runner.RunOnce(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	runner, _, _ := newTestRunner(t, WithSyncSchedule("@every 1h"))

	require.NoError(t, runner.Start())

	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}

func TestOptionsApply(t *testing.T) {
	runner := NewRunner(nil, nil,
		WithSyncSchedule("@every 30s"),
		WithSyncedRetention(48*time.Hour),
		WithAuditRetentionDays(30),
	)

	assert.Equal(t, "@every 30s", runner.syncSchedule)
	assert.Equal(t, 48*time.Hour, runner.syncedRetention)
	assert.Equal(t, 30, runner.auditRetentionDays)

	// Zero values keep defaults.
	runner = NewRunner(nil, nil, WithSyncSchedule(""), WithAuditRetentionDays(0))
	assert.Equal(t, defaultSyncSpec, runner.syncSchedule)
	assert.Equal(t, defaultAuditRetentionDays, runner.auditRetentionDays)
}
