package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OperationKind classifies balance-changing operations.
type OperationKind string

const (
	OperationLoadFunds  OperationKind = "LOAD_FUNDS"
	OperationPurchase   OperationKind = "PURCHASE"
	OperationRefund     OperationKind = "REFUND"
	OperationAdjustment OperationKind = "ADJUSTMENT"
)

// Valid reports whether the kind is one of the closed set.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationLoadFunds, OperationPurchase, OperationRefund, OperationAdjustment:
		return true
	}
	return false
}

// Apply computes the balance after applying an operation of this kind.
// LOAD_FUNDS and REFUND credit the card, PURCHASE debits it, ADJUSTMENT
// carries its own sign in the amount.
func (k OperationKind) Apply(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	switch k {
	case OperationLoadFunds, OperationRefund:
		return balance.Add(amount), nil
	case OperationPurchase:
		return balance.Sub(amount), nil
	case OperationAdjustment:
		return balance.Add(amount), nil
	default:
		return balance, fmt.Errorf("unknown operation kind %q", string(k))
	}
}

// SyncStatus tracks the reconciliation state of a queued offline operation.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// CardStatus describes the lifecycle state of a physical card.
type CardStatus string

const (
	CardActive    CardStatus = "active"
	CardSuspended CardStatus = "suspended"
	CardLost      CardStatus = "lost"
	CardExpired   CardStatus = "expired"
)

// OperatorRole controls dashboard permissions.
type OperatorRole string

const (
	RoleAdmin    OperatorRole = "admin"
	RoleOperator OperatorRole = "operator"
	RoleViewer   OperatorRole = "viewer"
)
