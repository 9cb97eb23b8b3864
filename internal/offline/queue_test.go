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

func newTestQueue(t *testing.T, opts ...QueueOption) *Queue {
	t.Helper()

	queue, err := NewQueue(testutil.MustOpenOfflineTestDB(t), opts...)
	require.NoError(t, err)
	return queue
}

func enqueue(t *testing.T, q *Queue, cardUID string, kind models.OperationKind, amount string) *models.PendingOperation {
	t.Helper()

	op := &models.PendingOperation{
		CardUID: cardUID,
		Kind:    kind,
		Amount:  decimal.RequireFromString(amount),
	}
	require.NoError(t, q.Enqueue(context.Background(), op))
	return op
}

func TestEnqueueValidation(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	assert.Error(t, queue.Enqueue(ctx, nil))
	assert.Error(t, queue.Enqueue(ctx, &models.PendingOperation{Kind: models.OperationPurchase}))
	assert.Error(t, queue.Enqueue(ctx, &models.PendingOperation{CardUID: "04AA", Kind: "NONSENSE"}))
}

func TestEnqueueForcesPending(t *testing.T) {
	queue := newTestQueue(t)

	op := &models.PendingOperation{
		CardUID:    "04AA",
		Kind:       models.OperationLoadFunds,
		Amount:     decimal.RequireFromString("10.00"),
		SyncStatus: models.SyncSynced, // must be ignored
	}
	require.NoError(t, queue.Enqueue(context.Background(), op))
	assert.Equal(t, models.SyncPending, op.SyncStatus)
	assert.NotEmpty(t, op.ID)
}

func TestPeekBatchFIFO(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	queue := newTestQueue(t, WithQueueNow(func() time.Time { return current }))

	first := enqueue(t, queue, "04AA", models.OperationLoadFunds, "10.00")
	current = base.Add(time.Second)
	second := enqueue(t, queue, "04AA", models.OperationPurchase, "3.50")
	current = base.Add(2 * time.Second)
	third := enqueue(t, queue, "04BB", models.OperationLoadFunds, "5.00")

	batch, err := queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, first.ID, batch[0].ID)
	assert.Equal(t, second.ID, batch[1].ID)
	assert.Equal(t, third.ID, batch[2].ID)
}

func TestPeekBatchSkipsNonPending(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	synced := enqueue(t, queue, "04AA", models.OperationLoadFunds, "10.00")
	pending := enqueue(t, queue, "04AA", models.OperationPurchase, "3.50")
	require.NoError(t, queue.MarkSynced(ctx, synced.ID))

	batch, err := queue.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, pending.ID, batch[0].ID)
}

func TestMarkSyncedAndFailedTransitions(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	op := enqueue(t, queue, "04AA", models.OperationPurchase, "3.50")

	require.NoError(t, queue.MarkFailed(ctx, op.ID, "insufficient balance"))
	failed, err := queue.ListByStatus(ctx, models.SyncFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "insufficient balance", failed[0].SyncError)
	assert.Nil(t, failed[0].SyncedAt)

	require.NoError(t, queue.MarkSynced(ctx, op.ID))
	synced, err := queue.ListByStatus(ctx, models.SyncSynced)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Empty(t, synced[0].SyncError)
	require.NotNil(t, synced[0].SyncedAt)
}

func TestTransitionUnknownOperation(t *testing.T) {
	queue := newTestQueue(t)
	assert.Error(t, queue.MarkSynced(context.Background(), "no-such-id"))
}

func TestRetryFailed(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	op := enqueue(t, queue, "04AA", models.OperationPurchase, "3.50")
	require.NoError(t, queue.MarkFailed(ctx, op.ID, "sync conflict"))

	count, err := queue.RetryFailed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	pending, err := queue.ListByStatus(ctx, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].SyncError)
}

func TestCountPending(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	count, err := queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	enqueue(t, queue, "04AA", models.OperationLoadFunds, "10.00")
	enqueue(t, queue, "04BB", models.OperationLoadFunds, "5.00")

	count, err = queue.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestPurgeSynced(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	current := base
	queue := newTestQueue(t, WithQueueNow(func() time.Time { return current }))
	ctx := context.Background()

	old := enqueue(t, queue, "04AA", models.OperationLoadFunds, "10.00")
	require.NoError(t, queue.MarkSynced(ctx, old.ID)) // synced_at = base

	current = base.Add(8 * 24 * time.Hour)
	fresh := enqueue(t, queue, "04BB", models.OperationLoadFunds, "5.00")
	require.NoError(t, queue.MarkSynced(ctx, fresh.ID))

	purged, err := queue.PurgeSynced(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	remaining, err := queue.ListByStatus(ctx, models.SyncSynced)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)
}
