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
	"github.com/tkarlsen/mealcard/pkg/logger"
)

// TransactionService orchestrates point-of-sale operations: it moves the
// balance through the card facade and records the bookkeeping row in the
// primary store. The Offline flag on a transaction mirrors whether the
// facade reached the hardware at the time of sale.
type TransactionService struct {
	db    *gorm.DB
	cards *CardService
	now   func() time.Time
	log   *zap.Logger
}

// NewTransactionService constructs the service over the primary store and
// the card facade.
func NewTransactionService(db *gorm.DB, cards *CardService, opts ...TransactionOption) (*TransactionService, error) {
	if db == nil {
		return nil, errors.New("transaction service: db is required")
	}
	if cards == nil {
		return nil, errors.New("transaction service: card service is required")
	}

	svc := &TransactionService{
		db:    db,
		cards: cards,
		now:   time.Now,
		log:   logger.WithModule("transactions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TransactionOption customises a TransactionService.
type TransactionOption func(*TransactionService)

// WithTransactionNow overrides the clock, for tests.
func WithTransactionNow(now func() time.Time) TransactionOption {
	return func(s *TransactionService) {
		if now != nil {
			s.now = now
		}
	}
}

// LoadFundsInput describes a top-up at the till or from the dashboard.
type LoadFundsInput struct {
	CardUID     string
	Amount      decimal.Decimal
	OperatorID  *string
	Description string
}

// LoadFunds credits a card.
func (s *TransactionService) LoadFunds(ctx context.Context, input LoadFundsInput) (*models.Transaction, *WriteResult, error) {
	ctx = ensureContext(ctx)

	if !input.Amount.IsPositive() {
		return nil, nil, errors.New("transaction service: load amount must be positive")
	}
	return s.applyDelta(ctx, deltaInput{
		CardUID:     input.CardUID,
		Kind:        models.OperationLoadFunds,
		Amount:      input.Amount,
		OperatorID:  input.OperatorID,
		Description: orDefault(input.Description, "Funds loaded"),
	})
}

// PurchaseLine is one menu item within a purchase.
type PurchaseLine struct {
	MenuItemID string
	Quantity   int
}

// PurchaseInput describes a cafeteria sale.
type PurchaseInput struct {
	CardUID     string
	Lines       []PurchaseLine
	OperatorID  *string
	Description string
}

// Purchase debits a card for a basket of menu items, decrementing stock for
// stock-tracked items. The whole sale is rejected when the balance cannot
// cover the total or any line is unavailable.
func (s *TransactionService) Purchase(ctx context.Context, input PurchaseInput) (*models.Transaction, *WriteResult, error) {
	ctx = ensureContext(ctx)

	if len(input.Lines) == 0 {
		return nil, nil, errors.New("transaction service: purchase needs at least one item")
	}

	items, total, err := s.priceBasket(ctx, input.Lines)
	if err != nil {
		return nil, nil, err
	}

	txn, result, err := s.applyDelta(ctx, deltaInput{
		CardUID:     input.CardUID,
		Kind:        models.OperationPurchase,
		Amount:      total,
		OperatorID:  input.OperatorID,
		Description: orDefault(input.Description, "Cafeteria purchase"),
		Items:       items,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.decrementStock(ctx, input.Lines); err != nil {
		// The sale already went through; stock drift is an inventory problem,
		// not a reason to claw back a meal.
		s.log.Error("stock decrement failed", zap.String("reference", txn.Reference), zap.Error(err))
	}

	return txn, result, nil
}

// RefundInput describes a credit issued back to a card.
type RefundInput struct {
	CardUID     string
	Amount      decimal.Decimal
	OperatorID  *string
	Description string
}

// Refund credits a card outside of the load-funds flow.
func (s *TransactionService) Refund(ctx context.Context, input RefundInput) (*models.Transaction, *WriteResult, error) {
	ctx = ensureContext(ctx)

	if !input.Amount.IsPositive() {
		return nil, nil, errors.New("transaction service: refund amount must be positive")
	}
	return s.applyDelta(ctx, deltaInput{
		CardUID:     input.CardUID,
		Kind:        models.OperationRefund,
		Amount:      input.Amount,
		OperatorID:  input.OperatorID,
		Description: orDefault(input.Description, "Refund"),
	})
}

// AdjustInput describes a signed manual correction.
type AdjustInput struct {
	CardUID    string
	Amount     decimal.Decimal
	OperatorID *string
	Reason     string
}

// Adjust applies a signed correction to a card balance. The reason is
// mandatory; adjustments are the audit trail's favourite row.
func (s *TransactionService) Adjust(ctx context.Context, input AdjustInput) (*models.Transaction, *WriteResult, error) {
	ctx = ensureContext(ctx)

	if input.Amount.IsZero() {
		return nil, nil, errors.New("transaction service: adjustment amount must be non-zero")
	}
	if input.Reason == "" {
		return nil, nil, errors.New("transaction service: adjustment reason is required")
	}
	return s.applyDelta(ctx, deltaInput{
		CardUID:     input.CardUID,
		Kind:        models.OperationAdjustment,
		Amount:      input.Amount,
		OperatorID:  input.OperatorID,
		Description: input.Reason,
	})
}

// TransactionFilters narrows a transaction listing.
type TransactionFilters struct {
	CardUID   string
	StudentID string
	Kind      models.OperationKind
	Since     *time.Time
	Until     *time.Time
	Offline   *bool
}

// TransactionListOptions controls pagination and filtering.
type TransactionListOptions struct {
	Page     int
	PageSize int
	Filters  TransactionFilters
}

// List returns transactions newest first.
func (s *TransactionService) List(ctx context.Context, opts TransactionListOptions) ([]models.Transaction, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Transaction{})
	query, err := s.applyFilters(ctx, query, opts.Filters)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("transaction service: count: %w", err)
	}

	var results []models.Transaction
	err = query.
		Preload("Items").
		Preload("Items.MenuItem").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("transaction service: list: %w", err)
	}

	return results, total, nil
}

// GetByReference looks up a single transaction by its human-readable reference.
func (s *TransactionService) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	ctx = ensureContext(ctx)

	var txn models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.MenuItem").
		First(&txn, "reference = ?", reference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("transaction service: %s not found", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction service: get %s: %w", reference, err)
	}
	return &txn, nil
}

type deltaInput struct {
	CardUID     string
	Kind        models.OperationKind
	Amount      decimal.Decimal
	OperatorID  *string
	Description string
	Items       []models.TransactionItem
}

// applyDelta is the shared path behind every operation: validate the card,
// run the balance movement through the facade's single-lock cycle, then
// persist the bookkeeping row.
func (s *TransactionService) applyDelta(ctx context.Context, input deltaInput) (*models.Transaction, *WriteResult, error) {
	card, err := s.cards.Get(ctx, input.CardUID)
	if err != nil && !errors.Is(err, ErrCardNotFound) {
		return nil, nil, err
	}
	if card != nil && !card.Usable(s.now()) {
		return nil, nil, ErrCardInactive
	}

	delta, err := s.cards.ApplyDelta(ctx, DeltaRequest{
		CardUID: input.CardUID,
		Kind:    input.Kind,
		Amount:  input.Amount,
	})
	if err != nil {
		return nil, nil, err
	}

	txn := models.Transaction{
		Reference:     newReference(),
		Kind:          input.Kind,
		Amount:        input.Amount,
		BalanceBefore: delta.Before,
		BalanceAfter:  delta.After,
		Description:   input.Description,
		Offline:       !delta.CommittedToHardware,
		OperatorID:    trimPtr(input.OperatorID),
		Items:         input.Items,
	}
	result := &WriteResult{CommittedToHardware: delta.CommittedToHardware}

	if card == nil {
		// Offline-only card: the authoritative record does not exist yet, so
		// there is nothing to reference. The queued operation carries the
		// delta; the bookkeeping row appears once the reconciler creates the
		// card.
		s.log.Warn("skipping transaction record for unregistered card",
			zap.String("card_uid", input.CardUID),
			zap.String("kind", string(input.Kind)))
		return &txn, result, nil
	}

	txn.CardID = card.ID
	txn.StudentID = card.StudentID
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		// The balance change is already committed to the card and the mirror.
		// Erroring out now would make the operator retry and double-charge, so
		// the lost ledger row is logged and the sale stands.
		s.log.Error("transaction record failed",
			zap.String("reference", txn.Reference),
			zap.String("card_uid", input.CardUID),
			zap.Error(err))
	}

	return &txn, result, nil
}

// priceBasket resolves menu items and computes line and basket totals.
func (s *TransactionService) priceBasket(ctx context.Context, lines []PurchaseLine) ([]models.TransactionItem, decimal.Decimal, error) {
	items := make([]models.TransactionItem, 0, len(lines))
	total := decimal.Zero

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, decimal.Zero, errors.New("transaction service: line quantity must be positive")
		}

		var item models.MenuItem
		err := s.db.WithContext(ctx).First(&item, "id = ?", line.MenuItemID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, decimal.Zero, fmt.Errorf("transaction service: menu item %s not found", line.MenuItemID)
		}
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("transaction service: load menu item: %w", err)
		}

		if !item.IsAvailable {
			return nil, decimal.Zero, fmt.Errorf("transaction service: %s is not available", item.Name)
		}
		if item.StockQuantity != nil && *item.StockQuantity < line.Quantity {
			return nil, decimal.Zero, fmt.Errorf("transaction service: insufficient stock for %s", item.Name)
		}

		lineTotal := item.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, models.TransactionItem{
			MenuItemID: item.ID,
			Quantity:   line.Quantity,
			UnitPrice:  item.Price,
			TotalPrice: lineTotal,
		})
		total = total.Add(lineTotal)
	}

	return items, total, nil
}

// decrementStock reduces stock counts for stock-tracked lines.
func (s *TransactionService) decrementStock(ctx context.Context, lines []PurchaseLine) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			err := tx.Model(&models.MenuItem{}).
				Where("id = ? AND stock_quantity IS NOT NULL", line.MenuItemID).
				Update("stock_quantity", gorm.Expr("stock_quantity - ?", line.Quantity)).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TransactionService) applyFilters(ctx context.Context, query *gorm.DB, filters TransactionFilters) (*gorm.DB, error) {
	if filters.CardUID != "" {
		var card models.Card
		err := s.db.WithContext(ctx).Select("id").First(&card, "card_uid = ?", filters.CardUID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("transaction service: resolve card: %w", err)
		}
		query = query.Where("card_id = ?", card.ID)
	}
	if filters.StudentID != "" {
		query = query.Where("student_id = ?", filters.StudentID)
	}
	if filters.Kind != "" {
		query = query.Where("kind = ?", filters.Kind)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	if filters.Offline != nil {
		query = query.Where("offline = ?", *filters.Offline)
	}
	return query, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
