package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ThrottleParams bounds how fast supply can change through one side
// (issuance or redemption). The effective hourly limit is
// max(AmtRate, PctRate * totalSupply), recomputed at use time.
type ThrottleParams struct {
	AmtRate sdkmath.Int       `json:"amt_rate"` // base units per recharge period
	PctRate sdkmath.LegacyDec `json:"pct_rate"` // fraction of total supply per recharge period
}

// ProtocolParams is the governance parameter set for the engine. One active
// version lives in the database at a time; updates are saved as new versions.
type ProtocolParams struct {
	// Basket
	WarmupPeriod time.Duration `json:"warmup_period"` // delay after a SOUND regain before issuance/trading

	// Trading
	TradingDelay       time.Duration     `json:"trading_delay"`        // pause after a basket switch before rebalancing
	DutchAuctionLength time.Duration     `json:"dutch_auction_length"`
	BatchAuctionLength time.Duration     `json:"batch_auction_length"`
	BackingBuffer      sdkmath.LegacyDec `json:"backing_buffer"`     // over-collateralization cushion kept untraded
	MaxTradeSlippage   sdkmath.LegacyDec `json:"max_trade_slippage"` // worst-case price concession
	MinTradeVolume     sdkmath.LegacyDec `json:"min_trade_volume"`   // USD value below which imbalances are dust
	MaxTradeVolume     sdkmath.LegacyDec `json:"max_trade_volume"`   // USD value cap per trade chunk

	// Supply throttles
	IssuanceThrottle   ThrottleParams `json:"issuance_throttle"`
	RedemptionThrottle ThrottleParams `json:"redemption_throttle"`
	RechargePeriod     time.Duration  `json:"recharge_period"` // full-refill period for both throttles
}
