package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/offline"
	"github.com/tkarlsen/mealcard/internal/reader"
	"github.com/tkarlsen/mealcard/pkg/logger"
	"github.com/tkarlsen/mealcard/pkg/metrics"
)

// DefaultSyncBatchSize caps how many pending operations a single
// reconciliation pass drains.
const DefaultSyncBatchSize = 100

// SyncService replays queued offline operations against the authoritative
// store. Operations replay per card in arrival order; the first failure for
// a card halts the rest of that card's batch so later deltas never apply on
// top of a rejected one.
type SyncService struct {
	db    *gorm.DB
	cache *offline.Cache
	queue *offline.Queue
	locks *CardLocks

	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

// SyncServiceConfig bundles the reconciler's dependencies.
type SyncServiceConfig struct {
	DB        *gorm.DB
	Cache     *offline.Cache
	Queue     *offline.Queue
	Locks     *CardLocks
	BatchSize int
	Clock     func() time.Time
}

// NewSyncService constructs the reconciler.
func NewSyncService(cfg SyncServiceConfig) (*SyncService, error) {
	if cfg.DB == nil {
		return nil, errors.New("sync service: db is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("sync service: offline cache is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("sync service: offline queue is required")
	}
	if cfg.Locks == nil {
		return nil, errors.New("sync service: card locks are required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSyncBatchSize
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &SyncService{
		db:        cfg.DB,
		cache:     cfg.Cache,
		queue:     cfg.Queue,
		locks:     cfg.Locks,
		batchSize: batchSize,
		now:       now,
		log:       logger.WithModule("sync"),
	}, nil
}

// SyncReport summarises one reconciliation pass.
type SyncReport struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Run performs one reconciliation pass over pending operations. Errors from
// individual operations are recorded on the operation and counted in the
// report; Run itself only errors when the queue or store is unusable.
func (s *SyncService) Run(ctx context.Context) (*SyncReport, error) {
	ctx = ensureContext(ctx)

	batch, err := s.queue.PeekBatch(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	if len(batch) == 0 {
		return report, nil
	}

	// Group per card, preserving arrival order within each group. Card order
	// across groups does not matter; order within a card does.
	order := make([]string, 0, len(batch))
	grouped := make(map[string][]models.PendingOperation, len(batch))
	for _, op := range batch {
		if _, ok := grouped[op.CardUID]; !ok {
			order = append(order, op.CardUID)
		}
		grouped[op.CardUID] = append(grouped[op.CardUID], op)
	}

	for _, cardUID := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.replayCard(ctx, cardUID, grouped[cardUID], report)
	}

	s.log.Info("reconciliation pass complete",
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// replayCard applies one card's queued operations in order under that card's
// lock. The first rejected operation is marked FAILED with the reason; the
// remainder stay PENDING and count as skipped.
func (s *SyncService) replayCard(ctx context.Context, cardUID string, ops []models.PendingOperation, report *SyncReport) {
	unlock := s.locks.Lock(cardUID)
	defer unlock()

	for i, op := range ops {
		if err := s.applyOperation(ctx, op); err != nil {
			metrics.SyncOperations.WithLabelValues("failed").Inc()
			report.Failed++
			report.Skipped += len(ops) - i - 1

			s.log.Warn("operation rejected during replay",
				zap.String("operation_id", op.ID),
				zap.String("card_uid", cardUID),
				zap.String("kind", string(op.Kind)),
				zap.Error(err))

			if markErr := s.queue.MarkFailed(ctx, op.ID, err.Error()); markErr != nil {
				s.log.Error("mark failed", zap.String("operation_id", op.ID), zap.Error(markErr))
			}
			return
		}

		metrics.SyncOperations.WithLabelValues("synced").Inc()
		report.Synced++

		if markErr := s.queue.MarkSynced(ctx, op.ID); markErr != nil {
			// The delta is applied but the queue row still says PENDING. Stop
			// this card now: a rerun would double-apply the next operation's
			// predecessor.
			s.log.Error("mark synced", zap.String("operation_id", op.ID), zap.Error(markErr))
			report.Skipped += len(ops) - i - 1
			return
		}
	}
}

// applyOperation replays one queued delta against the authoritative card
// record inside a transaction, then refreshes the offline mirror.
func (s *SyncService) applyOperation(ctx context.Context, op models.PendingOperation) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("%w: unknown operation kind %q", ErrSyncConflict, string(op.Kind))
	}

	var (
		synced        models.Card
		studentNumber string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.loadOrCreateCard(tx, op)
		if err != nil {
			return err
		}

		next, err := op.Kind.Apply(card.Balance, op.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyncConflict, err)
		}
		if next.IsNegative() {
			return fmt.Errorf("%w: %s of %s would drive balance %s negative",
				ErrSyncConflict, string(op.Kind), op.Amount.StringFixed(2), card.Balance.StringFixed(2))
		}

		studentNumber = s.resolveStudentNumber(tx, op, card)

		updates := map[string]any{
			"balance":  next,
			"checksum": reader.Checksum(next, studentNumber),
		}
		if err := tx.Model(card).Updates(updates).Error; err != nil {
			return fmt.Errorf("sync: update card %s: %w", op.CardUID, err)
		}

		card.Balance = next
		synced = *card
		return nil
	})
	if err != nil {
		return err
	}

	s.refreshMirror(ctx, synced, studentNumber)
	return nil
}

// resolveStudentNumber picks the on-card binding for checksum purposes: the
// number the offline write carried, falling back to the bound student's
// record.
func (s *SyncService) resolveStudentNumber(tx *gorm.DB, op models.PendingOperation, card *models.Card) string {
	if op.StudentNumber != "" {
		return op.StudentNumber
	}
	if card.StudentID == nil {
		return ""
	}

	var student models.Student
	if err := tx.First(&student, "id = ?", *card.StudentID).Error; err != nil {
		return ""
	}
	return student.StudentNumber
}

// loadOrCreateCard fetches the authoritative record, creating it when the
// card only ever existed offline.
func (s *SyncService) loadOrCreateCard(tx *gorm.DB, op models.PendingOperation) (*models.Card, error) {
	var card models.Card
	err := tx.First(&card, "card_uid = ?", op.CardUID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		card = models.Card{
			CardUID:  op.CardUID,
			Status:   models.CardActive,
			IssuedAt: s.now(),
		}
		if err := tx.Create(&card).Error; err != nil {
			return nil, fmt.Errorf("sync: create card %s: %w", op.CardUID, err)
		}
		return &card, nil
	case err != nil:
		return nil, fmt.Errorf("sync: load card %s: %w", op.CardUID, err)
	}
	return &card, nil
}

// refreshMirror aligns the offline snapshot with the reconciled balance.
// Best effort: the mirror self-heals on the next online read.
func (s *SyncService) refreshMirror(ctx context.Context, card models.Card, studentNumber string) {
	err := s.cache.Put(ctx, models.CachedCard{
		CardUID:       card.CardUID,
		Balance:       card.Balance,
		StudentNumber: studentNumber,
		Checksum:      reader.Checksum(card.Balance, studentNumber),
		CachedAt:      s.now(),
	})
	if err != nil {
		s.log.Error("mirror refresh failed", zap.String("card_uid", card.CardUID), zap.Error(err))
	}
}

// RetryFailed flips FAILED operations back to PENDING so the next pass
// replays them.
func (s *SyncService) RetryFailed(ctx context.Context) (int64, error) {
	return s.queue.RetryFailed(ensureContext(ctx))
}

// PendingCount reports the current queue depth.
func (s *SyncService) PendingCount(ctx context.Context) (int64, error) {
	return s.queue.CountPending(ensureContext(ctx))
}

// ListOperations exposes queued operations by status for the sync API.
func (s *SyncService) ListOperations(ctx context.Context, status models.SyncStatus) ([]models.PendingOperation, error) {
	return s.queue.ListByStatus(ensureContext(ctx), status)
}

// PurgeSynced drops synced operations older than the retention window.
func (s *SyncService) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	return s.queue.PurgeSynced(ensureContext(ctx), retention)
}
