package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkarlsen/mealcard/internal/models"
)

type txnFixture struct {
	*cardFixture
	svc *TransactionService
}

func newTxnFixture(t *testing.T, hw *fakeReader) *txnFixture {
	t.Helper()

	cards := newCardFixture(t, hw)
	svc, err := NewTransactionService(cards.db, cards.svc)
	require.NoError(t, err)

	return &txnFixture{cardFixture: cards, svc: svc}
}

func (f *txnFixture) registerCard(t *testing.T, cardUID, balance string) {
	t.Helper()

	_, _, err := f.cardFixture.svc.Register(context.Background(), RegisterInput{
		CardUID: cardUID,
		Balance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
}

func (f *txnFixture) addMenuItem(t *testing.T, name, price string, stock *int) *models.MenuItem {
	t.Helper()

	item := models.MenuItem{
		Name:          name,
		Category:      "lunch",
		Price:         decimal.RequireFromString(price),
		IsAvailable:   true,
		StockQuantity: stock,
	}
	require.NoError(t, f.db.Create(&item).Error)
	return &item
}

func TestLoadFunds(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "5.00")

	txn, result, err := fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationLoadFunds, txn.Kind)
	assert.True(t, txn.BalanceBefore.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, txn.BalanceAfter.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, txn.Offline, "no reader attached")
	assert.False(t, result.CommittedToHardware)
	assert.NotEmpty(t, txn.Reference)

	read, err := fix.cardFixture.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("25.00")))
}

func TestLoadFundsStandsWhenLedgerWriteFails(t *testing.T) {
	hw := newFakeReader()
	fix := newTxnFixture(t, hw)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "5.00")

	// Knock the ledger table out from under the service. The balance change
	// commits before the bookkeeping row, so the call must still succeed;
	// erroring here would make the operator retry and double-charge.
	require.NoError(t, fix.db.Migrator().DropTable(&models.Transaction{}))

	txn, result, err := fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)
	assert.True(t, result.CommittedToHardware)
	assert.NotEmpty(t, txn.Reference)

	read, err := fix.cardFixture.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("25.00")))
}

func TestLoadFundsRejectsNonPositiveAmount(t *testing.T) {
	fix := newTxnFixture(t, nil)

	_, _, err := fix.svc.LoadFunds(context.Background(), LoadFundsInput{
		CardUID: "04AABBCC",
		Amount:  decimal.Zero,
	})
	assert.Error(t, err)
}

func TestPurchase(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "20.00")
	stock := 10
	soup := fix.addMenuItem(t, "Tomato soup", "3.50", &stock)
	bread := fix.addMenuItem(t, "Bread roll", "1.25", nil)

	txn, _, err := fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines: []PurchaseLine{
			{MenuItemID: soup.ID, Quantity: 2},
			{MenuItemID: bread.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationPurchase, txn.Kind)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("8.25")))
	assert.True(t, txn.BalanceAfter.Equal(decimal.RequireFromString("11.75")))
	require.Len(t, txn.Items, 2)

	// Stock-tracked lines are decremented; untracked ones are untouched.
	var reloaded models.MenuItem
	require.NoError(t, fix.db.First(&reloaded, "id = ?", soup.ID).Error)
	require.NotNil(t, reloaded.StockQuantity)
	assert.Equal(t, 8, *reloaded.StockQuantity)
}

func TestPurchaseInsufficientBalance(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "2.00")
	soup := fix.addMenuItem(t, "Tomato soup", "3.50", nil)

	_, _, err := fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines:   []PurchaseLine{{MenuItemID: soup.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The rejected sale leaves no bookkeeping row behind.
	var count int64
	require.NoError(t, fix.db.Model(&models.Transaction{}).
		Where("kind = ?", models.OperationPurchase).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPurchaseUnavailableItem(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "20.00")
	soup := fix.addMenuItem(t, "Tomato soup", "3.50", nil)
	require.NoError(t, fix.db.Model(soup).Update("is_available", false).Error)

	_, _, err := fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines:   []PurchaseLine{{MenuItemID: soup.ID, Quantity: 1}},
	})
	assert.ErrorContains(t, err, "not available")
}

func TestPurchaseInsufficientStock(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "20.00")
	stock := 1
	soup := fix.addMenuItem(t, "Tomato soup", "3.50", &stock)

	_, _, err := fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines:   []PurchaseLine{{MenuItemID: soup.ID, Quantity: 2}},
	})
	assert.ErrorContains(t, err, "insufficient stock")
}

func TestPurchaseInactiveCard(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "20.00")
	_, err := fix.cardFixture.svc.UpdateStatus(ctx, "04AABBCC", models.CardSuspended)
	require.NoError(t, err)

	soup := fix.addMenuItem(t, "Tomato soup", "3.50", nil)
	_, _, err = fix.svc.Purchase(ctx, PurchaseInput{
		CardUID: "04AABBCC",
		Lines:   []PurchaseLine{{MenuItemID: soup.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrCardInactive)
}

func TestRefund(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "5.00")

	txn, _, err := fix.svc.Refund(ctx, RefundInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("3.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationRefund, txn.Kind)
	assert.True(t, txn.BalanceAfter.Equal(decimal.RequireFromString("8.50")))
}

func TestAdjustValidation(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	_, _, err := fix.svc.Adjust(ctx, AdjustInput{
		CardUID: "04AABBCC",
		Amount:  decimal.Zero,
		Reason:  "test",
	})
	assert.Error(t, err, "zero amount")

	_, _, err = fix.svc.Adjust(ctx, AdjustInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("1.00"),
	})
	assert.Error(t, err, "missing reason")
}

func TestAdjustNegativeCorrection(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "10.00")

	txn, _, err := fix.svc.Adjust(ctx, AdjustInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("-4.00"),
		Reason:  "duplicate load correction",
	})
	require.NoError(t, err)
	assert.True(t, txn.BalanceAfter.Equal(decimal.RequireFromString("6.00")))

	// A correction past zero is rejected.
	_, _, err = fix.svc.Adjust(ctx, AdjustInput{
		CardUID: "04AABBCC",
		Amount:  decimal.RequireFromString("-10.00"),
		Reason:  "too deep",
	})
	assert.Error(t, err)
}

func TestTransactionListFilters(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "0.00")
	fix.registerCard(t, "04DDEEFF", "0.00")

	_, _, err := fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04AABBCC", Amount: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	_, _, err = fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04DDEEFF", Amount: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	_, _, err = fix.svc.Refund(ctx, RefundInput{
		CardUID: "04AABBCC", Amount: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	all, total, err := fix.svc.List(ctx, TransactionListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	byCard, total, err := fix.svc.List(ctx, TransactionListOptions{
		Filters: TransactionFilters{CardUID: "04AABBCC"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, byCard, 2)

	byKind, total, err := fix.svc.List(ctx, TransactionListOptions{
		Filters: TransactionFilters{Kind: models.OperationRefund},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, byKind, 1)

	_, _, err = fix.svc.List(ctx, TransactionListOptions{
		Filters: TransactionFilters{CardUID: "04NOPE"},
	})
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestGetByReference(t *testing.T) {
	fix := newTxnFixture(t, nil)
	ctx := context.Background()

	fix.registerCard(t, "04AABBCC", "0.00")
	txn, _, err := fix.svc.LoadFunds(ctx, LoadFundsInput{
		CardUID: "04AABBCC", Amount: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	found, err := fix.svc.GetByReference(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, found.ID)

	_, err = fix.svc.GetByReference(ctx, "TXN-NOPE")
	assert.Error(t, err)
}
