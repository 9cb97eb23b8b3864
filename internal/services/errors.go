package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Domain errors surfaced by the card facade and the reconciler. Handlers map
// them onto API error codes.
var (
	// ErrCardNotFound means no authoritative or cached record exists.
	ErrCardNotFound = errors.New("card not found")

	// ErrCardInactive means the card is suspended, lost, or expired.
	ErrCardInactive = errors.New("card is not active")

	// ErrInsufficientBalance rejects a purchase larger than the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSyncConflict rejects a reconciled operation that the authoritative
	// store cannot accept, e.g. a replay that would drive the balance
	// negative. The operation is marked FAILED and later operations for the
	// same card are held.
	ErrSyncConflict = errors.New("sync conflict")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
