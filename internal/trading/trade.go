/*

This file defines the trade abstraction shared by both auction kinds. A trade
is immutable once opened: the sell lot is escrowed in its own ledger account at
open time, so the committed amount cannot be double-counted no matter how long
settlement is delayed, and it is settled exactly once.

*/

package trading

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidTrade   = errors.New("trade parameters are invalid")
	ErrTradeNotOpen   = errors.New("trade is not open")
	ErrTradeNotEnded  = errors.New("trade cannot settle yet")
	ErrAlreadySettled = errors.New("trade already settled")
	ErrBidTooLate     = errors.New("auction window has closed")
	ErrBidTooSmall    = errors.New("bid below minimum buy amount")
)

// Trade is a single asset-for-asset exchange.
type Trade interface {
	ID() string
	Kind() types.TradeKind
	Sell() types.AssetID
	Buy() types.AssetID
	SellAmount() sdkmath.Int // base units committed at open
	Status() types.TradeStatus
	EndTime() time.Time

	// CanSettle reports whether Settle would succeed at the given instant:
	// either the lot has been filled or the auction window has closed.
	CanSettle(now time.Time) bool

	// Settle closes the trade, moving proceeds and any unsold lot to the
	// given account. Returns the sold and bought base-unit amounts; an
	// unfilled trade settles with zero proceeds and the full lot returned.
	Settle(now time.Time, to types.AccountID) (sold, bought sdkmath.Int, err error)
}

// EscrowAccount derives the per-trade ledger account holding the sell lot.
// Dutch bidders grant their buy-token allowance to this account.
func EscrowAccount(tradeID string) types.AccountID {
	return types.AccountID("trade:" + tradeID)
}
