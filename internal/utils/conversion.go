/*
This file contains common utility functions for converting between whole-unit
decimal amounts and base-unit integer amounts, with explicit rounding direction.
All rounding in the engine must go through these helpers so that dust always
accrues to the protocol.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
)

// pow10 returns 10^precision as a LegacyDec.
func pow10(precision int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

// WholeToBase converts a whole-unit decimal amount to base units at the given
// precision, rounding in the requested direction.
func WholeToBase(amount sdkmath.LegacyDec, precision int, mode types.RoundingMode) (sdkmath.Int, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	scaled := amount.Mul(pow10(precision))
	if mode == types.RoundCeil {
		return scaled.Ceil().TruncateInt(), nil
	}
	return scaled.TruncateInt(), nil
}

// BaseToWhole converts a base-unit integer amount to a whole-unit decimal at
// the given precision. The conversion is exact.
func BaseToWhole(amount sdkmath.Int, precision int) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}

	return sdkmath.LegacyNewDecFromInt(amount).Quo(pow10(precision)), nil
}

// MinDec returns the smaller of two decimals.
func MinDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.LT(b) {
		return a
	}
	return b
}

// MaxDec returns the larger of two decimals.
func MaxDec(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.GT(b) {
		return a
	}
	return b
}

// MinInt returns the smaller of two integers.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
