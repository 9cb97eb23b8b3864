package reader

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Mifare Classic data layout used by the cafeteria cards.
const (
	BalanceBlock  = 4 // obfuscated balance, "%.2f" padded to 16 bytes
	StudentBlock  = 5 // plain UTF-8 student number, NUL padded
	ChecksumBlock = 6 // first 8 hex chars of md5("balance:student")

	BlockSize = 16
)

// Sentinel errors surfaced by adapter implementations. The facade matches
// these with errors.Is to decide between failing and falling back offline.
var (
	// ErrUnavailable means no reader is attached or the PC/SC daemon is
	// unreachable. Triggers the offline fallback.
	ErrUnavailable = errors.New("reader: hardware unavailable")

	// ErrTimedOut means no card was presented before the caller's deadline.
	// Surfaced to the caller; there is nothing sensible to fall back to.
	ErrTimedOut = errors.New("reader: no card presented before timeout")

	// ErrIntegrity means on-card data failed checksum validation. Treated as
	// corruption and never silently served from cache.
	ErrIntegrity = errors.New("reader: card data failed checksum validation")

	// ErrWrongCard means a different card than expected was presented.
	ErrWrongCard = errors.New("reader: presented card does not match")
)

// Reader abstracts the physical NFC reader. Implementations may block on
// card presence up to the supplied timeout but must honour context
// cancellation; any other failure mode maps onto the sentinel errors above.
type Reader interface {
	// Connect attaches to the first available reader.
	Connect(ctx context.Context) error

	// WaitForCard blocks until a card is presented and returns its UID in
	// upper-case hex, or ErrTimedOut.
	WaitForCard(ctx context.Context, timeout time.Duration) (string, error)

	// ReadBlock returns the 16 raw bytes of the given block.
	ReadBlock(ctx context.Context, cardUID string, block int) ([]byte, error)

	// WriteBlock writes 16 bytes to the given block.
	WriteBlock(ctx context.Context, cardUID string, block int, data []byte) error

	// Close releases the reader connection.
	Close() error
}

// CardData is the decoded content of a card's data blocks.
type CardData struct {
	Balance   decimal.Decimal
	StudentID string
}

// ReadCard reads and decodes the three data blocks, validating the checksum
// before trusting the result.
func ReadCard(ctx context.Context, r Reader, cardUID string) (CardData, error) {
	raw, err := r.ReadBlock(ctx, cardUID, BalanceBlock)
	if err != nil {
		return CardData{}, err
	}
	balance, err := DecodeBalance(raw)
	if err != nil {
		return CardData{}, err
	}

	raw, err = r.ReadBlock(ctx, cardUID, StudentBlock)
	if err != nil {
		return CardData{}, err
	}
	studentID := DecodeStudentID(raw)

	raw, err = r.ReadBlock(ctx, cardUID, ChecksumBlock)
	if err != nil {
		return CardData{}, err
	}

	if DecodeChecksum(raw) != Checksum(balance, studentID) {
		return CardData{}, ErrIntegrity
	}

	return CardData{Balance: balance, StudentID: studentID}, nil
}

// WriteCard encodes and writes the three data blocks, checksum last so a
// torn write is detectable on the next read.
func WriteCard(ctx context.Context, r Reader, cardUID string, data CardData) error {
	if err := r.WriteBlock(ctx, cardUID, BalanceBlock, EncodeBalance(data.Balance)); err != nil {
		return err
	}
	if err := r.WriteBlock(ctx, cardUID, StudentBlock, EncodeStudentID(data.StudentID)); err != nil {
		return err
	}
	return r.WriteBlock(ctx, cardUID, ChecksumBlock, EncodeChecksum(Checksum(data.Balance, data.StudentID)))
}
