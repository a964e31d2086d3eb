// utils/usdc.go
package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// All persisted amounts are integer micro-USDC (the token's smallest unit,
// 6 decimals). Decimal parsing happens only at the API edge; comparisons and
// arithmetic never touch floating point.
const (
	USDCDecimals      = 6
	MicrosPerUSDC     = 1_000_000
	FeeBasisPoints    = 300
	BasisPointDivisor = 10_000
	// CirclePrecisionMicros is the provider's minimum transfer precision
	// (2 decimal places) expressed in micro-USDC.
	CirclePrecisionMicros = 10_000
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseUSDC converts a decimal string like "300.01" into micro-USDC.
// Amounts must be positive and carry at most 6 decimal places.
func ParseUSDC(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if d.Exponent() < -USDCDecimals {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, USDCDecimals)
	}

	micros := d.Shift(USDCDecimals)
	if !micros.IsInteger() || !micros.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}

	value := micros.IntPart()
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return value, nil
}

// FormatUSDC renders micro-USDC with full 6-decimal precision, e.g. "1030.000000".
func FormatUSDC(micros int64) string {
	return decimal.New(micros, -USDCDecimals).StringFixed(USDCDecimals)
}

// FormatUSD2 renders micro-USDC at the provider's 2-decimal precision. The
// value must already be floored with FloorToCirclePrecision.
func FormatUSD2(micros int64) string {
	return decimal.New(micros, -USDCDecimals).StringFixed(2)
}

// FloorToCirclePrecision drops sub-cent precision so the booked ledger amount
// never exceeds what the provider can actually transfer.
func FloorToCirclePrecision(micros int64) int64 {
	return micros / CirclePrecisionMicros * CirclePrecisionMicros
}

// EscrowAmount computes prize + fee at 300 basis points, exactly, in integer
// micro-USDC. Split into quotient and remainder so the multiply cannot
// overflow for any representable prize.
func EscrowAmount(prizeMicros int64) int64 {
	q := prizeMicros / BasisPointDivisor
	r := prizeMicros % BasisPointDivisor
	fee := q*FeeBasisPoints + r*FeeBasisPoints/BasisPointDivisor
	return prizeMicros + fee
}
