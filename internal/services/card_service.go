package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/offline"
	"github.com/tkarlsen/mealcard/internal/reader"
	"github.com/tkarlsen/mealcard/pkg/crypto"
	"github.com/tkarlsen/mealcard/pkg/logger"
	"github.com/tkarlsen/mealcard/pkg/metrics"
)

// DefaultWaitTimeout bounds how long a scan waits for a card when the caller
// does not say otherwise.
const DefaultWaitTimeout = 30 * time.Second

// CardService is the read/write facade over the hardware adapter, the
// authoritative card store, and the offline fallback tier. Every balance
// mutation for a card happens under that card's lock, shared with the
// reconciler.
type CardService struct {
	db     *gorm.DB
	cache  *offline.Cache
	queue  *offline.Queue
	reader reader.Reader // nil when the till runs without a reader
	locks  *CardLocks

	waitTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger
}

// CardServiceConfig bundles the facade's dependencies.
type CardServiceConfig struct {
	DB          *gorm.DB
	Cache       *offline.Cache
	Queue       *offline.Queue
	Reader      reader.Reader
	Locks       *CardLocks
	WaitTimeout time.Duration
	Clock       func() time.Time
}

// NewCardService constructs the facade. The reader may be nil; every
// hardware interaction then takes the offline path.
func NewCardService(cfg CardServiceConfig) (*CardService, error) {
	if cfg.DB == nil {
		return nil, errors.New("card service: db is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("card service: offline cache is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("card service: offline queue is required")
	}
	if cfg.Locks == nil {
		return nil, errors.New("card service: card locks are required")
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &CardService{
		db:          cfg.DB,
		cache:       cfg.Cache,
		queue:       cfg.Queue,
		reader:      cfg.Reader,
		locks:       cfg.Locks,
		waitTimeout: waitTimeout,
		now:         now,
		log:         logger.WithModule("cards"),
	}, nil
}

// ReadResult is what the web layer receives from a facade read. The student
// number is the binding as written on the card, not the primary store's
// student UUID.
type ReadResult struct {
	CardUID       string          `json:"card_uid"`
	Balance       decimal.Decimal `json:"balance"`
	StudentNumber string          `json:"student_number,omitempty"`
	FromCache     bool            `json:"from_cache"`
	Stale         bool            `json:"stale"`
}

// WriteRequest describes a balance-changing facade write. Kind and Amount
// describe the delta so the operation can be queued verbatim when the
// hardware is unreachable; Balance is the resulting value written to the
// card and the mirror.
type WriteRequest struct {
	CardUID       string
	Balance       decimal.Decimal
	StudentNumber string
	Kind          models.OperationKind
	Amount        decimal.Decimal
}

// WriteResult reports whether the write reached the physical card.
type WriteResult struct {
	CommittedToHardware bool `json:"committed_to_hardware"`
}

// Scan waits for a card on the reader and returns its UID. A zero timeout
// uses the configured default. There is no offline fallback for a scan: it
// needs a physical card by definition.
func (s *CardService) Scan(ctx context.Context, timeout time.Duration) (string, error) {
	ctx = ensureContext(ctx)

	if s.reader == nil {
		return "", reader.ErrUnavailable
	}
	if timeout <= 0 {
		timeout = s.waitTimeout
	}

	uid, err := s.reader.WaitForCard(ctx, timeout)
	if err != nil {
		metrics.ReaderOperations.WithLabelValues("wait", "error").Inc()
		return "", err
	}

	metrics.ReaderOperations.WithLabelValues("wait", "success").Inc()
	return uid, nil
}

// Read returns a card's balance and student binding. It prefers the physical
// card; when the hardware is unreachable it serves the offline mirror with
// from_cache=true. A checksum mismatch on a hardware read is corruption and
// is surfaced, never papered over with cached data.
func (s *CardService) Read(ctx context.Context, cardUID string) (*ReadResult, error) {
	ctx = ensureContext(ctx)
	if cardUID == "" {
		return nil, errors.New("card service: card uid is required")
	}

	unlock := s.locks.Lock(cardUID)
	defer unlock()

	return s.readLocked(ctx, cardUID)
}

// readLocked does the hardware-first read. Callers hold the card's lock.
func (s *CardService) readLocked(ctx context.Context, cardUID string) (*ReadResult, error) {
	if s.reader == nil {
		return s.readFromCache(ctx, cardUID)
	}

	data, err := reader.ReadCard(ctx, s.reader, cardUID)
	switch {
	case err == nil:
		metrics.ReaderOperations.WithLabelValues("read", "success").Inc()
		s.mirror(ctx, cardUID, data.Balance, data.StudentID)
		s.refreshAuthoritative(ctx, cardUID, data)
		return &ReadResult{
			CardUID:       cardUID,
			Balance:       data.Balance,
			StudentNumber: data.StudentID,
		}, nil

	case errors.Is(err, reader.ErrIntegrity):
		metrics.ReaderOperations.WithLabelValues("read", "integrity").Inc()
		return nil, err

	default:
		metrics.ReaderOperations.WithLabelValues("read", "error").Inc()
		s.log.Warn("hardware read failed, serving offline mirror",
			zap.String("card_uid", cardUID), zap.Error(err))
		return s.readFromCache(ctx, cardUID)
	}
}

// Write applies a balance change. The hardware is attempted first; on any
// adapter failure the write is accepted into the offline tier (mirror
// updated, operation queued) and acknowledged with committed_to_hardware
// false. The caller always gets an acknowledgement unless its input is
// invalid.
func (s *CardService) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	ctx = ensureContext(ctx)

	if req.CardUID == "" {
		return nil, errors.New("card service: card uid is required")
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("card service: invalid operation kind %q", string(req.Kind))
	}
	if req.Balance.IsNegative() {
		return nil, fmt.Errorf("card service: balance may not go negative (got %s)", req.Balance.StringFixed(2))
	}

	unlock := s.locks.Lock(req.CardUID)
	defer unlock()

	return s.writeLocked(ctx, req)
}

// writeLocked does the hardware-first write. Callers hold the card's lock and
// have validated the request.
func (s *CardService) writeLocked(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if s.reader != nil {
		data := reader.CardData{Balance: req.Balance, StudentID: req.StudentNumber}
		err := reader.WriteCard(ctx, s.reader, req.CardUID, data)
		if err == nil {
			metrics.ReaderOperations.WithLabelValues("write", "success").Inc()
			s.mirror(ctx, req.CardUID, req.Balance, req.StudentNumber)
			if err := s.commitAuthoritative(ctx, req); err != nil {
				return nil, err
			}
			return &WriteResult{CommittedToHardware: true}, nil
		}

		metrics.ReaderOperations.WithLabelValues("write", "error").Inc()
		s.log.Warn("hardware write failed, queueing offline",
			zap.String("card_uid", req.CardUID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
	}

	return s.writeOffline(ctx, req)
}

// DeltaRequest describes one balance-changing operation applied as a single
// read-modify-write cycle.
type DeltaRequest struct {
	CardUID string
	Kind    models.OperationKind
	Amount  decimal.Decimal
}

// DeltaResult reports the balance movement and whether it reached the card.
type DeltaResult struct {
	Before        decimal.Decimal
	After         decimal.Decimal
	StudentNumber string
	FromCache     bool
	Stale         bool
	WriteResult
}

// ApplyDelta resolves the current balance, applies the operation, and writes
// the result, all under one acquisition of the card's lock. Concurrent
// operations on the same card serialise here instead of overwriting each
// other's absolute balance.
func (s *CardService) ApplyDelta(ctx context.Context, req DeltaRequest) (*DeltaResult, error) {
	ctx = ensureContext(ctx)

	if req.CardUID == "" {
		return nil, errors.New("card service: card uid is required")
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("card service: invalid operation kind %q", string(req.Kind))
	}

	unlock := s.locks.Lock(req.CardUID)
	defer unlock()

	current, err := s.readLocked(ctx, req.CardUID)
	if err != nil {
		return nil, err
	}

	next, err := req.Kind.Apply(current.Balance, req.Amount)
	if err != nil {
		return nil, err
	}
	if next.IsNegative() {
		if req.Kind == models.OperationPurchase {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("card service: balance would go negative (%s)", next.StringFixed(2))
	}

	result, err := s.writeLocked(ctx, WriteRequest{
		CardUID:       req.CardUID,
		Balance:       next,
		StudentNumber: current.StudentNumber,
		Kind:          req.Kind,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, err
	}

	return &DeltaResult{
		Before:        current.Balance,
		After:         next,
		StudentNumber: current.StudentNumber,
		FromCache:     current.FromCache,
		Stale:         current.Stale,
		WriteResult:   *result,
	}, nil
}

// VerifyPIN checks a candidate PIN against the card's stored hash.
func (s *CardService) VerifyPIN(ctx context.Context, cardUID, pin string) (bool, error) {
	ctx = ensureContext(ctx)

	card, err := s.findCard(ctx, cardUID)
	if err != nil {
		return false, err
	}
	return crypto.VerifyPIN(card.PINHash, pin), nil
}

// RegisterInput describes a new card registration. StudentID, when set,
// references a student record in the primary store.
type RegisterInput struct {
	CardUID   string
	StudentID *string
	Balance   decimal.Decimal
	PIN       string
}

// Register creates the authoritative card record and writes the initial
// state to the physical card when possible.
func (s *CardService) Register(ctx context.Context, input RegisterInput) (*models.Card, *WriteResult, error) {
	ctx = ensureContext(ctx)

	if input.CardUID == "" {
		return nil, nil, errors.New("card service: card uid is required")
	}
	if input.Balance.IsNegative() {
		return nil, nil, errors.New("card service: initial balance may not be negative")
	}

	studentNumber := ""
	if id := trimPtr(input.StudentID); id != nil {
		var student models.Student
		if err := s.db.WithContext(ctx).First(&student, "id = ?", *id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("card service: student %s not found", *id)
			}
			return nil, nil, fmt.Errorf("card service: load student: %w", err)
		}
		studentNumber = student.StudentNumber
	}

	card := models.Card{
		CardUID:   input.CardUID,
		StudentID: trimPtr(input.StudentID),
		Balance:   input.Balance,
		Status:    models.CardActive,
		Checksum:  reader.Checksum(input.Balance, studentNumber),
		IssuedAt:  s.now(),
	}

	if input.PIN != "" {
		hash, err := crypto.HashPIN(input.PIN)
		if err != nil {
			return nil, nil, fmt.Errorf("card service: hash pin: %w", err)
		}
		card.PINHash = hash
	}

	if err := s.db.WithContext(ctx).Create(&card).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, nil, fmt.Errorf("card service: card %s already registered", input.CardUID)
		}
		return nil, nil, fmt.Errorf("card service: create card: %w", err)
	}

	result, err := s.Write(ctx, WriteRequest{
		CardUID:       input.CardUID,
		Balance:       input.Balance,
		StudentNumber: studentNumber,
		Kind:          models.OperationLoadFunds,
		Amount:        input.Balance,
	})
	if err != nil {
		return nil, nil, err
	}

	return &card, result, nil
}

// Get returns the authoritative card record with its student preloaded.
func (s *CardService) Get(ctx context.Context, cardUID string) (*models.Card, error) {
	ctx = ensureContext(ctx)

	var card models.Card
	err := s.db.WithContext(ctx).Preload("Student").First(&card, "card_uid = ?", cardUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("card service: get %s: %w", cardUID, err)
	}
	return &card, nil
}

// List returns cards page by page, newest first.
func (s *CardService) List(ctx context.Context, page, pageSize int) ([]models.Card, int64, error) {
	ctx = ensureContext(ctx)

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	var (
		cards []models.Card
		total int64
	)

	query := s.db.WithContext(ctx).Model(&models.Card{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("card service: count: %w", err)
	}

	err := query.
		Preload("Student").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&cards).Error
	if err != nil {
		return nil, 0, fmt.Errorf("card service: list: %w", err)
	}

	return cards, total, nil
}

// UpdateStatus transitions a card between lifecycle states.
func (s *CardService) UpdateStatus(ctx context.Context, cardUID string, status models.CardStatus) (*models.Card, error) {
	ctx = ensureContext(ctx)

	card, err := s.findCard(ctx, cardUID)
	if err != nil {
		return nil, err
	}

	card.Status = status
	if err := s.db.WithContext(ctx).Model(card).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("card service: update status: %w", err)
	}
	return card, nil
}

func (s *CardService) readFromCache(ctx context.Context, cardUID string) (*ReadResult, error) {
	snapshot, err := s.cache.Get(ctx, cardUID)
	if errors.Is(err, offline.ErrNotCached) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}

	// A cached read is only trusted when its stored checksum still matches
	// the balance and binding it claims.
	if snapshot.Checksum != reader.Checksum(snapshot.Balance, snapshot.StudentNumber) {
		return nil, reader.ErrIntegrity
	}

	metrics.CacheFallbacks.WithLabelValues("read").Inc()
	return &ReadResult{
		CardUID:       cardUID,
		Balance:       snapshot.Balance,
		StudentNumber: snapshot.StudentNumber,
		FromCache:     true,
		Stale:         snapshot.Stale,
	}, nil
}

func (s *CardService) writeOffline(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	// Mirror first: a crash between the two leaves a cached balance without
	// a queued delta, which the next reconciled hardware read corrects.
	if err := s.cache.Put(ctx, models.CachedCard{
		CardUID:       req.CardUID,
		Balance:       req.Balance,
		StudentNumber: req.StudentNumber,
		Checksum:      reader.Checksum(req.Balance, req.StudentNumber),
		CachedAt:      s.now(),
	}); err != nil {
		return nil, err
	}

	op := models.PendingOperation{
		CardUID:       req.CardUID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		StudentNumber: req.StudentNumber,
		CreatedAt:     s.now(),
	}
	if err := s.queue.Enqueue(ctx, &op); err != nil {
		return nil, err
	}

	metrics.CacheFallbacks.WithLabelValues("write").Inc()
	return &WriteResult{CommittedToHardware: false}, nil
}

// mirror best-effort updates the offline cache after a successful hardware
// interaction. Mirror failures are logged, not surfaced: the authoritative
// path already succeeded.
func (s *CardService) mirror(ctx context.Context, cardUID string, balance decimal.Decimal, studentNumber string) {
	err := s.cache.Put(ctx, models.CachedCard{
		CardUID:       cardUID,
		Balance:       balance,
		StudentNumber: studentNumber,
		Checksum:      reader.Checksum(balance, studentNumber),
		CachedAt:      s.now(),
	})
	if err != nil {
		s.log.Error("offline mirror update failed", zap.String("card_uid", cardUID), zap.Error(err))
	}
}

// refreshAuthoritative syncs the primary card record after a hardware read.
// Missing records are left alone; they are created by the first write.
func (s *CardService) refreshAuthoritative(ctx context.Context, cardUID string, data reader.CardData) {
	now := s.now()
	err := s.db.WithContext(ctx).
		Model(&models.Card{}).
		Where("card_uid = ?", cardUID).
		Updates(map[string]any{
			"balance":      data.Balance,
			"checksum":     reader.Checksum(data.Balance, data.StudentID),
			"last_used_at": &now,
		}).Error
	if err != nil {
		s.log.Error("authoritative refresh failed", zap.String("card_uid", cardUID), zap.Error(err))
	}
}

// commitAuthoritative persists a hardware-committed write to the primary
// store, creating the card record on first write. The student UUID binding
// is managed by Register and the student service, never here.
func (s *CardService) commitAuthoritative(ctx context.Context, req WriteRequest) error {
	now := s.now()
	checksum := reader.Checksum(req.Balance, req.StudentNumber)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		err := tx.First(&card, "card_uid = ?", req.CardUID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			card = models.Card{
				CardUID:    req.CardUID,
				Balance:    req.Balance,
				Status:     models.CardActive,
				Checksum:   checksum,
				IssuedAt:   now,
				LastUsedAt: &now,
			}
			return tx.Create(&card).Error
		case err != nil:
			return fmt.Errorf("card service: load card: %w", err)
		}

		return tx.Model(&card).Updates(map[string]any{
			"balance":      req.Balance,
			"checksum":     checksum,
			"last_used_at": &now,
		}).Error
	})
}

func (s *CardService) findCard(ctx context.Context, cardUID string) (*models.Card, error) {
	var card models.Card
	err := s.db.WithContext(ctx).First(&card, "card_uid = ?", cardUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("card service: find %s: %w", cardUID, err)
	}
	return &card, nil
}
