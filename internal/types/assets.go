/*

This file contains the core asset and collateral types shared across the engine.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// AssetID identifies a backing token in the registry and the ledger (e.g. "USDP", "aUSD").
type AssetID string

// TargetUnit is the unit of account a collateral is expected to track (e.g. "USD", "BTC").
type TargetUnit string

// AccountID identifies an account on the ledger.
type AccountID string

// CollateralStatus is the health state of a collateral asset.
// The ordering matters: a basket's status is the worst status among its constituents.
type CollateralStatus int

const (
	StatusSound CollateralStatus = iota
	StatusIffy
	StatusDisabled
)

func (s CollateralStatus) String() string {
	switch s {
	case StatusSound:
		return "SOUND"
	case StatusIffy:
		return "IFFY"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Worse returns the worse of two statuses.
func (s CollateralStatus) Worse(other CollateralStatus) CollateralStatus {
	if other > s {
		return other
	}
	return s
}

// CollateralConfig holds the registration-time parameters of one collateral asset.
type CollateralConfig struct {
	Asset      AssetID    `json:"asset"`
	TargetUnit TargetUnit `json:"target_unit"`
	Decimals   int        `json:"decimals"` // base-unit precision of the backing token

	PriceTimeout  time.Duration `json:"price_timeout"`  // how long a saved price remains usable
	OracleTimeout time.Duration `json:"oracle_timeout"` // staleness bound on the oracle feed

	OracleError      sdkmath.LegacyDec `json:"oracle_error"`      // fractional, e.g. 0.01
	DefaultThreshold sdkmath.LegacyDec `json:"default_threshold"` // peg deviation triggering IFFY; zero disables the soft-default check

	DelayUntilDefault time.Duration     `json:"delay_until_default"` // IFFY confirmation window
	RevenueHiding     sdkmath.LegacyDec `json:"revenue_hiding"`      // fraction of refPerTok gains withheld from the exposed high-water mark
}

// CollateralSnapshot is the persisted view of one registered collateral.
type CollateralSnapshot struct {
	Config             CollateralConfig  `json:"config"`
	Status             CollateralStatus  `json:"status"`
	WhenDefault        *time.Time        `json:"when_default,omitempty"`
	ExposedRefPerTok   sdkmath.LegacyDec `json:"exposed_ref_per_tok"`
	SavedPrice         sdkmath.LegacyDec `json:"saved_price"`
	SavedPriceAt       time.Time         `json:"saved_price_at"`
	AppreciatingRatio  bool              `json:"appreciating_ratio"` // true when refPerTok comes from a ratio feed
}
