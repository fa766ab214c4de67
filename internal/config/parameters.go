package config

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidParameters = errors.New("protocol parameters are invalid")
)

// DefaultProtocolParams are the governance defaults applied when no parameter
// version exists in the database yet.
var DefaultProtocolParams = types.ProtocolParams{
	WarmupPeriod: 15 * time.Minute,

	TradingDelay:       0,
	DutchAuctionLength: 30 * time.Minute,
	BatchAuctionLength: 15 * time.Minute,
	BackingBuffer:      sdkmath.LegacyMustNewDecFromStr("0.0001"), // 1 bp cushion kept untraded
	MaxTradeSlippage:   sdkmath.LegacyMustNewDecFromStr("0.01"),
	MinTradeVolume:     sdkmath.LegacyMustNewDecFromStr("100"),       // USD
	MaxTradeVolume:     sdkmath.LegacyMustNewDecFromStr("1000000"),   // USD

	IssuanceThrottle: types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(sdkmath.NewInt(1_000_000_000_000_000_000)),
		PctRate: sdkmath.LegacyMustNewDecFromStr("0.05"),
	},
	RedemptionThrottle: types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(sdkmath.NewInt(1_000_000_000_000_000_000)),
		PctRate: sdkmath.LegacyMustNewDecFromStr("0.05"),
	},
	RechargePeriod: time.Hour,
}

// ValidateProtocolParams rejects parameter sets that could wedge the engine.
func ValidateProtocolParams(p types.ProtocolParams) error {
	if p.WarmupPeriod < 0 || p.TradingDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidParameters)
	}
	if p.DutchAuctionLength <= 0 || p.BatchAuctionLength <= 0 {
		return fmt.Errorf("%w: auction lengths must be positive", ErrInvalidParameters)
	}
	if p.BackingBuffer.IsNil() || p.BackingBuffer.IsNegative() {
		return fmt.Errorf("%w: backing buffer must be non-negative", ErrInvalidParameters)
	}
	if p.MaxTradeSlippage.IsNil() || p.MaxTradeSlippage.IsNegative() || p.MaxTradeSlippage.GTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: max trade slippage must be in [0, 1)", ErrInvalidParameters)
	}
	if p.MinTradeVolume.IsNil() || p.MinTradeVolume.IsNegative() {
		return fmt.Errorf("%w: min trade volume must be non-negative", ErrInvalidParameters)
	}
	if p.MaxTradeVolume.IsNil() || p.MaxTradeVolume.IsNegative() {
		return fmt.Errorf("%w: max trade volume must be non-negative", ErrInvalidParameters)
	}
	if p.MaxTradeVolume.IsPositive() && p.MaxTradeVolume.LT(p.MinTradeVolume) {
		return fmt.Errorf("%w: max trade volume below min trade volume", ErrInvalidParameters)
	}
	if p.RechargePeriod <= 0 {
		return fmt.Errorf("%w: recharge period must be positive", ErrInvalidParameters)
	}
	for _, tp := range []types.ThrottleParams{p.IssuanceThrottle, p.RedemptionThrottle} {
		if tp.AmtRate.IsNil() || tp.AmtRate.IsNegative() {
			return fmt.Errorf("%w: throttle amtRate must be non-negative", ErrInvalidParameters)
		}
		if tp.PctRate.IsNil() || tp.PctRate.IsNegative() || tp.PctRate.GT(sdkmath.LegacyOneDec()) {
			return fmt.Errorf("%w: throttle pctRate must be in [0, 1]", ErrInvalidParameters)
		}
	}
	return nil
}
