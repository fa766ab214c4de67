package collateral

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/types"

	"github.com/rs/zerolog"
)

// Fiat is a collateral whose reference unit is the token itself: refPerTok is
// always exactly one, so there is no hard-default path, only peg monitoring.
type Fiat struct {
	base
	log zerolog.Logger
}

// NewFiat wraps a stable token as collateral.
func NewFiat(cfg types.CollateralConfig, feed oracle.PriceFeed) (*Fiat, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Fiat{
		base: newBase(cfg, feed),
		log:  logger.GetForComponent("collateral").With().Str("asset", string(cfg.Asset)).Logger(),
	}, nil
}

// RefPerTok is the identity rate for fiat collateral.
func (f *Fiat) RefPerTok() sdkmath.LegacyDec {
	return sdkmath.LegacyOneDec()
}

// Refresh re-evaluates the peg. A stale feed leaves status untouched: the
// asset becomes unpriced, not defaulted.
func (f *Fiat) Refresh(now time.Time) {
	if f.Status(now) == types.StatusDisabled {
		return
	}

	price, fresh := f.observePrice(now)
	if !fresh {
		return
	}

	before := f.status
	f.checkPeg(now, price, f.RefPerTok())
	if f.status != before {
		f.log.Warn().
			Str("from", before.String()).
			Str("to", f.status.String()).
			Str("price", price.String()).
			Msg("Collateral status changed")
	}
}

// Snapshot returns the persistable view of this collateral.
func (f *Fiat) Snapshot() types.CollateralSnapshot {
	return types.CollateralSnapshot{
		Config:           f.cfg,
		Status:           f.status,
		WhenDefault:      f.whenDefault,
		ExposedRefPerTok: f.RefPerTok(),
		SavedPrice:       f.savedPrice,
		SavedPriceAt:     f.savedPriceAt,
	}
}

// RestoreFiat rebuilds a fiat collateral from a persisted snapshot.
func RestoreFiat(snap types.CollateralSnapshot, feed oracle.PriceFeed) (*Fiat, error) {
	f, err := NewFiat(snap.Config, feed)
	if err != nil {
		return nil, err
	}
	f.status = snap.Status
	f.whenDefault = snap.WhenDefault
	f.savedPrice = snap.SavedPrice
	f.savedPriceAt = snap.SavedPriceAt
	return f, nil
}
