package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/pkg/metrics"
)

// Queue is the durable log of balance-changing operations accepted while the
// authoritative store was unreachable. Rows transition PENDING -> SYNCED or
// PENDING -> FAILED -> (retry) -> PENDING; only the reconciler mutates them
// after enqueue.
type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithQueueNow overrides the clock used for sync timestamps, for tests.
func WithQueueNow(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue constructs a Queue over the offline database handle.
func NewQueue(db *gorm.DB, opts ...QueueOption) (*Queue, error) {
	if db == nil {
		return nil, errors.New("offline queue: db is required")
	}

	queue := &Queue{db: db, now: time.Now}
	for _, opt := range opts {
		opt(queue)
	}
	return queue, nil
}

// Enqueue appends an operation in arrival order. The insert commits before
// return, so an acknowledged offline write survives a crash.
func (q *Queue) Enqueue(ctx context.Context, op *models.PendingOperation) error {
	if op == nil {
		return errors.New("offline queue: operation is required")
	}
	if op.CardUID == "" {
		return errors.New("offline queue: card uid is required")
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("offline queue: invalid operation kind %q", string(op.Kind))
	}

	op.SyncStatus = models.SyncPending
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}

	if err := q.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("offline queue: enqueue: %w", err)
	}

	q.publishDepth(ctx)
	return nil
}

// PeekBatch returns up to n PENDING operations in FIFO order. The offline
// store is always SQLite, so rowid breaks creation-time ties.
func (q *Queue) PeekBatch(ctx context.Context, n int) ([]models.PendingOperation, error) {
	if n <= 0 {
		n = 100
	}

	var ops []models.PendingOperation
	err := q.db.WithContext(ctx).
		Where("sync_status = ?", models.SyncPending).
		Order("created_at ASC, rowid ASC").
		Limit(n).
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("offline queue: peek batch: %w", err)
	}
	return ops, nil
}

// MarkSynced transitions an operation to its terminal SYNCED state.
func (q *Queue) MarkSynced(ctx context.Context, operationID string) error {
	now := q.now()
	return q.transition(ctx, operationID, map[string]any{
		"sync_status": models.SyncSynced,
		"sync_error":  "",
		"synced_at":   &now,
	})
}

// MarkFailed records a reconciliation failure with its reason.
func (q *Queue) MarkFailed(ctx context.Context, operationID, reason string) error {
	return q.transition(ctx, operationID, map[string]any{
		"sync_status": models.SyncFailed,
		"sync_error":  reason,
	})
}

// RetryFailed moves every FAILED operation back to PENDING so the next
// reconciler run picks it up again.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("sync_status = ?", models.SyncFailed).
		Updates(map[string]any{"sync_status": models.SyncPending, "sync_error": ""})
	if result.Error != nil {
		return 0, fmt.Errorf("offline queue: retry failed: %w", result.Error)
	}

	q.publishDepth(ctx)
	return result.RowsAffected, nil
}

// CountPending returns the number of operations awaiting reconciliation.
func (q *Queue) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("sync_status = ?", models.SyncPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("offline queue: count pending: %w", err)
	}
	return count, nil
}

// ListByStatus returns operations with the given status, oldest first.
func (q *Queue) ListByStatus(ctx context.Context, status models.SyncStatus) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	err := q.db.WithContext(ctx).
		Where("sync_status = ?", status).
		Order("created_at ASC, rowid ASC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("offline queue: list %s: %w", string(status), err)
	}
	return ops, nil
}

// PurgeSynced deletes SYNCED rows older than the retention window.
func (q *Queue) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := q.now().Add(-retention)
	result := q.db.WithContext(ctx).
		Where("sync_status = ? AND synced_at < ?", models.SyncSynced, cutoff).
		Delete(&models.PendingOperation{})
	if result.Error != nil {
		return 0, fmt.Errorf("offline queue: purge synced: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (q *Queue) transition(ctx context.Context, operationID string, updates map[string]any) error {
	if operationID == "" {
		return errors.New("offline queue: operation id is required")
	}

	result := q.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("id = ?", operationID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("offline queue: update %s: %w", operationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("offline queue: operation %s not found", operationID)
	}

	q.publishDepth(ctx)
	return nil
}

// publishDepth refreshes the queue-depth gauge; failures here never affect
// the calling operation.
func (q *Queue) publishDepth(ctx context.Context) {
	if count, err := q.CountPending(ctx); err == nil {
		metrics.PendingOperations.Set(float64(count))
	}
}
