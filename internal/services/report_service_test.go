package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkarlsen/mealcard/internal/models"
)

type reportFixture struct {
	*txnFixture
	reports *ReportService
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()

	txns := newTxnFixture(t, nil)
	reports, err := NewReportService(txns.db)
	require.NoError(t, err)
	return &reportFixture{txnFixture: txns, reports: reports}
}

func TestDailyReport(t *testing.T) {
	fix := newReportFixture(t)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "0.00")
	soup := fix.addMenuItem(t, "Tomato soup", "3.50", nil)
	bread := fix.addMenuItem(t, "Bread roll", "1.25", nil)

	_, _, err := fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04AABBCC", Amount: decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)

	_, _, err = fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines: []PurchaseLine{
			{MenuItemID: soup.ID, Quantity: 2},
			{MenuItemID: bread.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	_, _, err = fix.svc.Refund(ctx, RefundInput{
		CardUID: "04AABBCC", Amount: decimal.RequireFromString("1.25"),
	})
	require.NoError(t, err)

	report, err := fix.reports.Daily(ctx, time.Now())
	require.NoError(t, err)

	assert.EqualValues(t, 3, report.TransactionCount)
	assert.EqualValues(t, 3, report.OfflineCount, "every sale ran without a reader")
	assert.True(t, report.TotalLoaded.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, report.TotalSales.Equal(decimal.RequireFromString("8.25")))
	assert.True(t, report.TotalRefunded.Equal(decimal.RequireFromString("1.25")))

	require.Contains(t, report.ByKind, string(models.OperationPurchase))
	assert.EqualValues(t, 1, report.ByKind[string(models.OperationPurchase)].Count)

	require.NotEmpty(t, report.TopItems)
	assert.Equal(t, "Tomato soup", report.TopItems[0].Name)
	assert.EqualValues(t, 2, report.TopItems[0].Quantity)
}

func TestDailyReportEmptyDay(t *testing.T) {
	fix := newReportFixture(t)

	report, err := fix.reports.Daily(context.Background(), time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Zero(t, report.TransactionCount)
	assert.True(t, report.TotalSales.IsZero())
	assert.Empty(t, report.TopItems)
}

func TestStudentStatement(t *testing.T) {
	fix := newReportFixture(t)
	ctx := context.Background()

	student := models.Student{StudentNumber: "S10042", FirstName: "Nora", LastName: "Berg"}
	require.NoError(t, fix.db.Create(&student).Error)

	_, _, err := fix.cardFixture.svc.Register(ctx, RegisterInput{
		CardUID:   "04AABBCC",
		StudentID: &student.ID,
		Balance:   decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)

	soup := fix.addMenuItem(t, "Tomato soup", "3.50", nil)
	_, _, err = fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines:   []PurchaseLine{{MenuItemID: soup.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	statement, err := fix.reports.Statement(ctx, student.ID, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.True(t, statement.TotalSpent.Equal(decimal.RequireFromString("3.50")))
	assert.NotEmpty(t, statement.Transactions)

	_, err = fix.reports.Statement(ctx, "", time.Time{}, time.Time{})
	assert.Error(t, err)
}
