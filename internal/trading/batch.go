/*

This file contains the sealed-bid batch trade: the lot and a worst-case
minimum buy amount are published to an external auction house for a fixed
duration, and settlement reads back whatever bid the house selected (at or
above the minimum), or zero if none cleared.

*/

package trading

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/types"
)

// AuctionHouse is the external matcher for sealed-bid batch trades. The house
// takes delivery of the sell lot at submission and owes either the winning bid
// proceeds or the unsold lot at settlement.
type AuctionHouse interface {
	Account() types.AccountID
	Submit(sell, buy types.AssetID, sellAmount, minBuy sdkmath.Int, duration time.Duration) (string, error)
	Result(auctionID string) (filled bool, bought sdkmath.Int, err error)
}

// Batch is the sealed-bid batch trade.
type Batch struct {
	log   zerolog.Logger
	led   ledger.Ledger
	house AuctionHouse

	id        string
	auctionID string

	sell, buy  types.AssetID
	sellAmount sdkmath.Int
	minBuy     sdkmath.Int

	endTime time.Time
	status  types.TradeStatus
}

// NewBatch opens a sealed-bid batch trade: the lot moves from the given
// account into per-trade escrow and on to the auction house.
func NewBatch(led ledger.Ledger, house AuctionHouse, from types.AccountID, sell, buy types.AssetID,
	sellAmount, minBuy sdkmath.Int, now time.Time, length time.Duration) (*Batch, error) {
	if sellAmount.IsNil() || !sellAmount.IsPositive() {
		return nil, fmt.Errorf("%w: sell amount must be positive", ErrInvalidTrade)
	}
	if minBuy.IsNil() || minBuy.IsNegative() {
		return nil, fmt.Errorf("%w: min buy must be non-negative", ErrInvalidTrade)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: auction length must be positive", ErrInvalidTrade)
	}

	b := &Batch{
		led:        led,
		house:      house,
		id:         uuid.New().String(),
		sell:       sell,
		buy:        buy,
		sellAmount: sellAmount,
		minBuy:     minBuy,
		endTime:    now.Add(length),
		status:     types.TradeOpen,
	}
	b.log = logger.GetForComponent("batch_trade").With().Str("trade", b.id).Logger()

	if err := led.Transfer(sell, from, b.house.Account(), sellAmount); err != nil {
		return nil, err
	}
	auctionID, err := house.Submit(sell, buy, sellAmount, minBuy, length)
	if err != nil {
		// Hand the lot back; the house rejected the auction.
		if rerr := led.Transfer(sell, b.house.Account(), from, sellAmount); rerr != nil {
			b.log.Error().Err(rerr).Msg("Failed to return lot after rejected submission")
		}
		return nil, err
	}
	b.auctionID = auctionID

	b.log.Info().
		Str("auction", auctionID).
		Str("sell", string(sell)).
		Str("buy", string(buy)).
		Str("sellAmount", sellAmount.String()).
		Str("minBuy", minBuy.String()).
		Time("endTime", b.endTime).
		Msg("Batch trade submitted")
	return b, nil
}

func (b *Batch) ID() string                { return b.id }
func (b *Batch) AuctionID() string         { return b.auctionID }
func (b *Batch) Kind() types.TradeKind     { return types.TradeKindBatch }
func (b *Batch) Sell() types.AssetID       { return b.sell }
func (b *Batch) Buy() types.AssetID        { return b.buy }
func (b *Batch) SellAmount() sdkmath.Int   { return b.sellAmount }
func (b *Batch) Status() types.TradeStatus { return b.status }
func (b *Batch) EndTime() time.Time        { return b.endTime }

// CanSettle: batch trades settle strictly after the auction window.
func (b *Batch) CanSettle(now time.Time) bool {
	return b.status == types.TradeOpen && !now.Before(b.endTime)
}

// Settle reads the house result and moves either the proceeds or the unsold
// lot to the given account.
func (b *Batch) Settle(now time.Time, to types.AccountID) (sdkmath.Int, sdkmath.Int, error) {
	if b.status == types.TradeClosed {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), ErrAlreadySettled
	}
	if !b.CanSettle(now) {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), ErrTradeNotEnded
	}

	filled, bought, err := b.house.Result(b.auctionID)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}

	sold := sdkmath.ZeroInt()
	if filled {
		if bought.LT(b.minBuy) {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(),
				fmt.Errorf("%w: house cleared %s below minimum %s", ErrBidTooSmall, bought, b.minBuy)
		}
		sold = b.sellAmount
		if err := b.led.Transfer(b.buy, b.house.Account(), to, bought); err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	} else {
		bought = sdkmath.ZeroInt()
		if err := b.led.Transfer(b.sell, b.house.Account(), to, b.sellAmount); err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}

	b.status = types.TradeClosed
	b.log.Info().
		Bool("filled", filled).
		Str("sold", sold.String()).
		Str("bought", bought.String()).
		Msg("Batch trade settled")
	return sold, bought, nil
}
