package reader

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRoundTrip(t *testing.T) {
	cases := []string{"0.00", "12.50", "7.05", "999.99", "0.01"}

	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			balance := decimal.RequireFromString(raw)

			block := EncodeBalance(balance)
			require.Len(t, block, BlockSize)

			decoded, err := DecodeBalance(block)
			require.NoError(t, err)
			assert.True(t, balance.Equal(decoded), "expected %s, got %s", balance, decoded)
		})
	}
}

func TestEncodeBalanceObfuscates(t *testing.T) {
	block := EncodeBalance(decimal.RequireFromString("12.50"))
	assert.NotContains(t, string(block), "12.50")
}

func TestDecodeBalanceRejectsGarbage(t *testing.T) {
	_, err := DecodeBalance([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrIntegrity, "short block must not decode")

	garbage := make([]byte, BlockSize)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	_, err = DecodeBalance(garbage)
	assert.ErrorIs(t, err, ErrIntegrity, "non-numeric content must not decode to a zero balance")
}

func TestStudentIDRoundTrip(t *testing.T) {
	block := EncodeStudentID("S12345")
	require.Len(t, block, BlockSize)
	assert.Equal(t, "S12345", DecodeStudentID(block))

	// Empty binding is a valid state for unassigned cards.
	assert.Equal(t, "", DecodeStudentID(EncodeStudentID("")))
}

func TestEncodeStudentIDTruncatesToBlock(t *testing.T) {
	long := "S123456789012345678"
	block := EncodeStudentID(long)
	require.Len(t, block, BlockSize)
	assert.Equal(t, long[:BlockSize], DecodeStudentID(block))
}

func TestChecksumStability(t *testing.T) {
	balance := decimal.RequireFromString("42.00")

	first := Checksum(balance, "S12345")
	second := Checksum(balance, "S12345")
	require.Equal(t, first, second)
	require.Len(t, first, 8)

	// Any change to either input must change the digest.
	assert.NotEqual(t, first, Checksum(decimal.RequireFromString("42.01"), "S12345"))
	assert.NotEqual(t, first, Checksum(balance, "S12346"))
}

func TestChecksumNormalisesScale(t *testing.T) {
	// 5 and 5.00 are the same money; the digest must agree.
	assert.Equal(t,
		Checksum(decimal.RequireFromString("5"), "S1"),
		Checksum(decimal.RequireFromString("5.00"), "S1"))
}
