package reader

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// xorKey is the obfuscation byte applied to the balance block. This is not a
// security-grade cipher; it only keeps the balance from being casually read
// with a phone. See DESIGN.md for the open question on a stronger on-card
// scheme.
const xorKey = 0xA5

// EncodeBalance renders the balance as a fixed two-decimal string, NUL pads
// it to a full block, and obfuscates it.
func EncodeBalance(balance decimal.Decimal) []byte {
	block := padBlock([]byte(balance.StringFixed(2)))
	for i := range block {
		block[i] ^= xorKey
	}
	return block
}

// DecodeBalance reverses EncodeBalance. A block that does not decode to a
// parseable decimal is card corruption, so the error wraps ErrIntegrity;
// callers must surface it instead of serving cached data.
func DecodeBalance(block []byte) (decimal.Decimal, error) {
	if len(block) < BlockSize {
		return decimal.Zero, fmt.Errorf("%w: balance block too short: %d bytes", ErrIntegrity, len(block))
	}

	plain := make([]byte, BlockSize)
	for i := range plain {
		plain[i] = block[i] ^ xorKey
	}

	trimmed := string(bytes.TrimRight(plain, "\x00"))
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse balance %q: %v", ErrIntegrity, trimmed, err)
	}
	return value, nil
}

// EncodeStudentID writes the student number as plain UTF-8, truncated to one
// block and NUL padded.
func EncodeStudentID(studentID string) []byte {
	return padBlock([]byte(studentID))
}

// DecodeStudentID strips the NUL padding from a student block.
func DecodeStudentID(block []byte) string {
	return string(bytes.TrimRight(block, "\x00"))
}

// Checksum derives the validation digest stored in the checksum block: the
// first 8 hex characters of md5 over "balance:student".
func Checksum(balance decimal.Decimal, studentID string) string {
	sum := md5.Sum([]byte(balance.StringFixed(2) + ":" + studentID))
	return hex.EncodeToString(sum[:])[:8]
}

// EncodeChecksum pads the digest to a full block.
func EncodeChecksum(checksum string) []byte {
	return padBlock([]byte(checksum))
}

// DecodeChecksum strips the NUL padding from a checksum block.
func DecodeChecksum(block []byte) string {
	return string(bytes.TrimRight(block, "\x00"))
}

func padBlock(data []byte) []byte {
	block := make([]byte, BlockSize)
	copy(block, data)
	return block
}
