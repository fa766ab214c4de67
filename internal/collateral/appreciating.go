package collateral

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/types"

	"github.com/rs/zerolog"
)

// Appreciating wraps an interest-bearing token whose reference-per-token rate
// comes from a ratio feed (e.g. a lending wrapper redeemable for a growing
// amount of underlying). The exposed rate is a high-water mark net of the
// revenue-hiding buffer: observed appreciation is only partially exposed, so a
// small transient dip in the raw ratio cannot trigger a default, while a drop
// below the exposed mark is a hard default and disables the asset immediately.
type Appreciating struct {
	base
	log    zerolog.Logger
	ratios oracle.RatioFeed

	exposedRefPerTok sdkmath.LegacyDec
}

// NewAppreciating wraps an interest-bearing token as collateral.
func NewAppreciating(cfg types.CollateralConfig, feed oracle.PriceFeed, ratios oracle.RatioFeed) (*Appreciating, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Appreciating{
		base:             newBase(cfg, feed),
		log:              logger.GetForComponent("collateral").With().Str("asset", string(cfg.Asset)).Logger(),
		ratios:           ratios,
		exposedRefPerTok: sdkmath.LegacyZeroDec(),
	}, nil
}

// RefPerTok returns the exposed high-water mark. Monotonically non-decreasing
// while the asset is not defaulted.
func (a *Appreciating) RefPerTok() sdkmath.LegacyDec {
	return a.exposedRefPerTok
}

// Refresh re-evaluates the ratio and the peg. Ratio decrease below the exposed
// mark is never reversible, so a hard default skips the IFFY delay entirely.
func (a *Appreciating) Refresh(now time.Time) {
	if a.Status(now) == types.StatusDisabled {
		return
	}

	raw, err := a.ratios.RefPerTok(a.cfg.Asset)
	if err != nil {
		// No ratio reading: keep the current exposed mark, nothing to update.
		a.log.Debug().Err(err).Msg("Ratio feed unavailable during refresh")
	} else {
		if raw.LT(a.exposedRefPerTok) {
			a.log.Error().
				Str("raw", raw.String()).
				Str("exposed", a.exposedRefPerTok.String()).
				Msg("Reference ratio fell below high-water mark, hard default")
			a.markDisabled(now)
			return
		}
		hidden := raw.Mul(sdkmath.LegacyOneDec().Sub(a.cfg.RevenueHiding))
		if hidden.GT(a.exposedRefPerTok) {
			a.exposedRefPerTok = hidden
		}
	}

	price, fresh := a.observePrice(now)
	if !fresh {
		return
	}

	before := a.status
	a.checkPeg(now, price, a.exposedRefPerTok)
	if a.status != before {
		a.log.Warn().
			Str("from", before.String()).
			Str("to", a.status.String()).
			Str("price", price.String()).
			Msg("Collateral status changed")
	}
}

// Snapshot returns the persistable view of this collateral.
func (a *Appreciating) Snapshot() types.CollateralSnapshot {
	return types.CollateralSnapshot{
		Config:            a.cfg,
		Status:            a.status,
		WhenDefault:       a.whenDefault,
		ExposedRefPerTok:  a.exposedRefPerTok,
		SavedPrice:        a.savedPrice,
		SavedPriceAt:      a.savedPriceAt,
		AppreciatingRatio: true,
	}
}

// RestoreAppreciating rebuilds an appreciating collateral from a persisted snapshot.
func RestoreAppreciating(snap types.CollateralSnapshot, feed oracle.PriceFeed, ratios oracle.RatioFeed) (*Appreciating, error) {
	a, err := NewAppreciating(snap.Config, feed, ratios)
	if err != nil {
		return nil, err
	}
	a.status = snap.Status
	a.whenDefault = snap.WhenDefault
	a.savedPrice = snap.SavedPrice
	a.savedPriceAt = snap.SavedPriceAt
	if !snap.ExposedRefPerTok.IsNil() {
		a.exposedRefPerTok = snap.ExposedRefPerTok
	}
	return a, nil
}
