/*

This file contains the collateral status state machine. Every collateral kind
moves SOUND -> IFFY -> DISABLED: IFFY is reversible while the default delay has
not elapsed, DISABLED is terminal. A stale oracle makes an asset unpriced
(issuance and trading halt for it) without declaring default; only peg
deviation or a reference-ratio drop does that.

*/

package collateral

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnpriced      = errors.New("collateral is unpriced")
	ErrInvalidConfig = errors.New("collateral config is invalid")
)

// Collateral is one backing asset wrapped with its own health tracking.
// Refresh is pull-based, callable by anyone, and idempotent within a cycle.
type Collateral interface {
	ID() types.AssetID
	TargetUnit() types.TargetUnit
	Decimals() int

	// Refresh re-evaluates status from oracle data. It never returns an error:
	// oracle failures degrade to unpriced, not to a fault.
	Refresh(now time.Time)

	// Status resolves the state machine at the given instant; an IFFY asset
	// whose default delay has elapsed reads as DISABLED even before the next
	// Refresh call.
	Status(now time.Time) types.CollateralStatus

	// Price returns USD per whole token, or ErrUnpriced when both the feed and
	// the saved price band are stale beyond the price timeout.
	Price(now time.Time) (sdkmath.LegacyDec, error)

	// RefPerTok is the exposed reference units redeemable per token. It is a
	// high-water mark net of the revenue-hiding buffer, so it never decreases
	// while the asset is not defaulted.
	RefPerTok() sdkmath.LegacyDec

	// TargetPerRef is the fixed target units per reference unit.
	TargetPerRef() sdkmath.LegacyDec

	Snapshot() types.CollateralSnapshot
}

// base carries the state shared by all collateral kinds.
type base struct {
	cfg  types.CollateralConfig
	feed oracle.PriceFeed

	status       types.CollateralStatus
	whenDefault  *time.Time
	targetPerRef sdkmath.LegacyDec

	savedPrice   sdkmath.LegacyDec
	savedPriceAt time.Time
}

func validateConfig(cfg types.CollateralConfig) error {
	if cfg.Asset == "" {
		return fmt.Errorf("%w: asset id is empty", ErrInvalidConfig)
	}
	if cfg.TargetUnit == "" {
		return fmt.Errorf("%w: target unit is empty", ErrInvalidConfig)
	}
	if cfg.Decimals < 0 || cfg.Decimals > 18 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidConfig, cfg.Decimals)
	}
	if cfg.OracleTimeout <= 0 || cfg.PriceTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if cfg.PriceTimeout < cfg.OracleTimeout {
		return fmt.Errorf("%w: price timeout shorter than oracle timeout", ErrInvalidConfig)
	}
	if cfg.OracleError.IsNil() || cfg.OracleError.IsNegative() {
		return fmt.Errorf("%w: oracle error must be non-negative", ErrInvalidConfig)
	}
	if cfg.DefaultThreshold.IsNil() || cfg.DefaultThreshold.IsNegative() {
		return fmt.Errorf("%w: default threshold must be non-negative", ErrInvalidConfig)
	}
	if cfg.RevenueHiding.IsNil() || cfg.RevenueHiding.IsNegative() || cfg.RevenueHiding.GTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: revenue hiding must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

func newBase(cfg types.CollateralConfig, feed oracle.PriceFeed) base {
	return base{
		cfg:          cfg,
		feed:         feed,
		status:       types.StatusSound,
		targetPerRef: sdkmath.LegacyOneDec(),
		savedPrice:   sdkmath.LegacyZeroDec(),
	}
}

func (b *base) ID() types.AssetID              { return b.cfg.Asset }
func (b *base) TargetUnit() types.TargetUnit   { return b.cfg.TargetUnit }
func (b *base) Decimals() int                  { return b.cfg.Decimals }
func (b *base) TargetPerRef() sdkmath.LegacyDec { return b.targetPerRef }

// Status resolves IFFY auto-confirmation against the clock.
func (b *base) Status(now time.Time) types.CollateralStatus {
	if b.status == types.StatusIffy && b.whenDefault != nil && !now.Before(*b.whenDefault) {
		b.status = types.StatusDisabled
	}
	return b.status
}

// Price returns the last known good price while it is within the price
// timeout, ErrUnpriced otherwise.
func (b *base) Price(now time.Time) (sdkmath.LegacyDec, error) {
	if b.savedPriceAt.IsZero() || now.Sub(b.savedPriceAt) > b.cfg.PriceTimeout {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrUnpriced, b.cfg.Asset)
	}
	return b.savedPrice, nil
}

// markDisabled is the terminal transition; once taken it is never undone.
func (b *base) markDisabled(now time.Time) {
	if b.status == types.StatusDisabled {
		return
	}
	b.status = types.StatusDisabled
	at := now
	b.whenDefault = &at
}

// observePrice pulls the feed and updates the saved price band. Returns the
// current observation and whether the feed was fresh.
func (b *base) observePrice(now time.Time) (sdkmath.LegacyDec, bool) {
	obs, err := b.feed.Price(b.cfg.Asset)
	if err != nil || now.Sub(obs.Timestamp) > b.cfg.OracleTimeout {
		return sdkmath.LegacyZeroDec(), false
	}
	b.savedPrice = obs.Value
	b.savedPriceAt = obs.Timestamp
	return obs.Value, true
}

// targetUnitPrice is the USD price of one target unit. Target units priced by
// the same feed (e.g. "BTC") are looked up by name; absent units are treated
// as USD-pegged.
func (b *base) targetUnitPrice(now time.Time) sdkmath.LegacyDec {
	obs, err := b.feed.Price(types.AssetID(b.cfg.TargetUnit))
	if err != nil || now.Sub(obs.Timestamp) > b.cfg.OracleTimeout {
		return sdkmath.LegacyOneDec()
	}
	return obs.Value
}

// checkPeg runs the soft-default rule against a fresh price, given the current
// refPerTok. Peg deviation beyond the threshold (widened by the oracle error on
// both sides) moves the asset to IFFY; clearing before the delay expires
// returns it to SOUND.
func (b *base) checkPeg(now time.Time, price, refPerTok sdkmath.LegacyDec) {
	if b.cfg.DefaultThreshold.IsZero() {
		return // hard-default-only collateral
	}
	if refPerTok.IsZero() {
		return
	}

	expected := refPerTok.Mul(b.targetPerRef).Mul(b.targetUnitPrice(now))
	if expected.IsZero() {
		return
	}
	peg := price.Quo(expected)
	delta := peg.Sub(sdkmath.LegacyOneDec()).Abs()
	threshold := b.cfg.DefaultThreshold.Add(b.cfg.OracleError)

	if delta.GT(threshold) {
		if b.whenDefault == nil {
			at := now.Add(b.cfg.DelayUntilDefault)
			b.whenDefault = &at
		}
		if !now.Before(*b.whenDefault) {
			b.status = types.StatusDisabled
			return
		}
		b.status = types.StatusIffy
		return
	}

	// Back inside the band before the delay expired.
	b.whenDefault = nil
	b.status = types.StatusSound
}
