package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// TradeKind selects the auction mechanism used for a rebalancing trade.
type TradeKind string

const (
	TradeKindDutch TradeKind = "DUTCH_AUCTION" // continuously decaying single-bidder price
	TradeKindBatch TradeKind = "BATCH_AUCTION" // sealed-bid, cleared by an external auction house
)

// TradeStatus is the lifecycle state of a trade. A trade is immutable once
// opened and is settled exactly once.
type TradeStatus string

const (
	TradeNotStarted TradeStatus = "NOT_STARTED"
	TradeOpen       TradeStatus = "OPEN"
	TradeClosed     TradeStatus = "CLOSED"
)

// TradeReceipt records the outcome of one settled trade for auditing.
type TradeReceipt struct {
	ReceiptID    int64       `json:"receipt_id,omitempty"` // auto-incremented by DB
	TradeID      string      `json:"trade_id"`
	Kind         TradeKind   `json:"kind"`
	Sell         AssetID     `json:"sell"`
	Buy          AssetID     `json:"buy"`
	SellAmount   sdkmath.Int `json:"sell_amount"` // base units committed at open
	SoldAmount   sdkmath.Int `json:"sold_amount"`
	BoughtAmount sdkmath.Int `json:"bought_amount"`
	Bidder       AccountID   `json:"bidder,omitempty"`
	OpenedAt     time.Time   `json:"opened_at"`
	SettledAt    time.Time   `json:"settled_at"`
}

// CycleSnapshot captures the engine state after one keeper cycle.
type CycleSnapshot struct {
	SnapshotID    int64             `json:"snapshot_id,omitempty"`
	CycleNumber   int               `json:"cycle_number"`
	Timestamp     time.Time         `json:"timestamp"`
	BasketNonce   uint64            `json:"basket_nonce"`
	BasketStatus  string            `json:"basket_status"`
	TotalSupply   sdkmath.Int       `json:"total_supply"`
	BasketsNeeded sdkmath.LegacyDec `json:"baskets_needed"`
	BasketsHeld   sdkmath.LegacyDec `json:"baskets_held"`
	TradesOpen    int               `json:"trades_open"`
	Action        string            `json:"action"` // what this cycle did, for the dashboard
}
