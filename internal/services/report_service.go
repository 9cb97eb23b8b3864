package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
)

// ReportService aggregates transaction history for the dashboard.
type ReportService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB, opts ...ReportOption) (*ReportService, error) {
	if db == nil {
		return nil, errors.New("report service: db is required")
	}

	svc := &ReportService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ReportOption customises a ReportService.
type ReportOption func(*ReportService)

// WithReportNow overrides the clock, for tests.
func WithReportNow(now func() time.Time) ReportOption {
	return func(s *ReportService) {
		if now != nil {
			s.now = now
		}
	}
}

// DailyReport summarises one day of till activity.
type DailyReport struct {
	Date             string          `json:"date"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalLoaded      decimal.Decimal `json:"total_loaded"`
	TotalRefunded    decimal.Decimal `json:"total_refunded"`
	TransactionCount int64           `json:"transaction_count"`
	OfflineCount     int64           `json:"offline_count"`
	ByKind           map[string]struct {
		Count int64           `json:"count"`
		Total decimal.Decimal `json:"total"`
	} `json:"by_kind"`
	TopItems []ItemSales `json:"top_items"`
}

// ItemSales is one menu item's sales within a reporting window.
type ItemSales struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int64           `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
}

// Daily builds the report for the calendar day containing the given time,
// in the server's local zone.
func (s *ReportService) Daily(ctx context.Context, day time.Time) (*DailyReport, error) {
	ctx = ensureContext(ctx)

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	report := &DailyReport{
		Date:          start.Format("2006-01-02"),
		TotalSales:    decimal.Zero,
		TotalLoaded:   decimal.Zero,
		TotalRefunded: decimal.Zero,
		ByKind: map[string]struct {
			Count int64           `json:"count"`
			Total decimal.Decimal `json:"total"`
		}{},
	}

	var rows []struct {
		Kind    models.OperationKind
		Count   int64
		Total   decimal.Decimal
		Offline int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("kind, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total, COALESCE(SUM(CASE WHEN offline THEN 1 ELSE 0 END), 0) AS offline").
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("report service: daily aggregate: %w", err)
	}

	for _, row := range rows {
		report.TransactionCount += row.Count
		report.OfflineCount += row.Offline
		report.ByKind[string(row.Kind)] = struct {
			Count int64           `json:"count"`
			Total decimal.Decimal `json:"total"`
		}{Count: row.Count, Total: row.Total}

		switch row.Kind {
		case models.OperationPurchase:
			report.TotalSales = report.TotalSales.Add(row.Total)
		case models.OperationLoadFunds:
			report.TotalLoaded = report.TotalLoaded.Add(row.Total)
		case models.OperationRefund:
			report.TotalRefunded = report.TotalRefunded.Add(row.Total)
		}
	}

	topItems, err := s.topItems(ctx, start, end, 10)
	if err != nil {
		return nil, err
	}
	report.TopItems = topItems

	return report, nil
}

// StudentStatement is a per-student spending summary over a window.
type StudentStatement struct {
	StudentID    string               `json:"student_id"`
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	TotalSpent   decimal.Decimal      `json:"total_spent"`
	TotalLoaded  decimal.Decimal      `json:"total_loaded"`
	Transactions []models.Transaction `json:"transactions"`
}

// Statement builds a student's transaction statement for the window.
func (s *ReportService) Statement(ctx context.Context, studentID string, from, to time.Time) (*StudentStatement, error) {
	ctx = ensureContext(ctx)

	if studentID == "" {
		return nil, errors.New("report service: student id is required")
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}

	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.MenuItem").
		Where("student_id = ? AND created_at >= ? AND created_at <= ?", studentID, from, to).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("report service: statement: %w", err)
	}

	statement := &StudentStatement{
		StudentID:    studentID,
		From:         from,
		To:           to,
		TotalSpent:   decimal.Zero,
		TotalLoaded:  decimal.Zero,
		Transactions: txns,
	}
	for _, txn := range txns {
		switch txn.Kind {
		case models.OperationPurchase:
			statement.TotalSpent = statement.TotalSpent.Add(txn.Amount)
		case models.OperationLoadFunds, models.OperationRefund:
			statement.TotalLoaded = statement.TotalLoaded.Add(txn.Amount)
		}
	}

	return statement, nil
}

func (s *ReportService) topItems(ctx context.Context, start, end time.Time, limit int) ([]ItemSales, error) {
	var items []ItemSales
	err := s.db.WithContext(ctx).
		Model(&models.TransactionItem{}).
		Select("transaction_items.menu_item_id, menu_items.name, COALESCE(SUM(transaction_items.quantity), 0) AS quantity, COALESCE(SUM(transaction_items.total_price), 0) AS total").
		Joins("JOIN menu_items ON menu_items.id = transaction_items.menu_item_id").
		Joins("JOIN transactions ON transactions.id = transaction_items.transaction_id").
		Where("transactions.created_at >= ? AND transactions.created_at < ?", start, end).
		Group("transaction_items.menu_item_id, menu_items.name").
		Order("quantity DESC").
		Limit(limit).
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("report service: top items: %w", err)
	}
	return items, nil
}
