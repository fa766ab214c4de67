/*

This file contains the versioned basket types. Baskets are never mutated in place:
every composition change appends a new basket under a strictly increasing nonce so
historical redemption against an old nonce stays a pure lookup.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PrimeEntry is one governance-declared target weight in the prime basket.
type PrimeEntry struct {
	Asset      AssetID           `json:"asset"`
	TargetUnit TargetUnit        `json:"target_unit"`
	TargetAmt  sdkmath.LegacyDec `json:"target_amt"` // target units per basket unit
}

// BackupConfig is the fallback candidate list for one target unit.
// DiversityFactor is the minimum number of SOUND candidates that must be blended
// into a replacement; with fewer available the whole basket is disabled.
type BackupConfig struct {
	TargetUnit      TargetUnit `json:"target_unit"`
	DiversityFactor int        `json:"diversity_factor"`
	Candidates      []AssetID  `json:"candidates"` // ordered by preference
}

// Basket is one immutable basket version. RefAmts are reference units per basket
// unit; the token quantity owed at quote time is refAmt / refPerTok, so
// appreciating collateral requires fewer tokens over time.
type Basket struct {
	Nonce     uint64                        `json:"nonce"`
	Assets    []AssetID                     `json:"assets"` // deterministic order
	RefAmts   map[AssetID]sdkmath.LegacyDec `json:"ref_amts"`
	Disabled  bool                          `json:"disabled"`
	CreatedAt time.Time                     `json:"created_at"`
}

// Empty reports whether the basket has no constituents.
func (b Basket) Empty() bool {
	return len(b.Assets) == 0
}

// Quote is a concrete list of per-collateral base-unit amounts owed for some
// quantity of basket units.
type Quote struct {
	Assets     []AssetID               `json:"assets"`
	Quantities map[AssetID]sdkmath.Int `json:"quantities"` // base units
}

// RoundingMode selects which way fractional base units are resolved.
// Issuance rounds against the issuer, redemption rounds against the redeemer,
// so rounding dust always accrues to the protocol.
type RoundingMode int

const (
	RoundCeil RoundingMode = iota
	RoundFloor
)
