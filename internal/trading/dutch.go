/*

This file contains the decaying-price trade: a single auction window in which
the quoted price falls piecewise from a punitive opening multiple of the
best-case price down to the worst-case bound. Any bidder may fill the entire
lot at the instantaneous price; a lot unfilled at the end of the window
settles with zero proceeds and the sell amount goes back to the caller.

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
	"github.com/reservoir-labs/bme/internal/utils"
)

// Price curve shape. The opening multiple exists to punish bidding into a
// basket that is about to be repriced; almost all fills land in the long
// middle ramp between best and worst price.
var (
	dutchOpeningMultiplier = sdkmath.LegacyNewDec(1000)
	dutchOvertureEnd       = sdkmath.LegacyMustNewDecFromStr("0.20") // fraction of the window
	dutchRampEnd           = sdkmath.LegacyMustNewDecFromStr("0.95")
)

// Dutch is the decaying-price single-bidder trade.
type Dutch struct {
	log zerolog.Logger
	led ledger.Ledger

	id         string
	sell, buy  types.AssetID
	sellDec    int
	buyDec     int
	sellAmount sdkmath.Int

	bestPrice  sdkmath.LegacyDec // buy per sell, whole units
	worstPrice sdkmath.LegacyDec

	startTime time.Time
	endTime   time.Time

	status types.TradeStatus
	bidder types.AccountID
	bought sdkmath.Int
	filled bool
}

// NewDutch opens a decaying-price trade, escrowing the sell lot from the
// given account. Pricing is fixed at open time.
func NewDutch(led ledger.Ledger, from types.AccountID, sell, buy types.AssetID, sellDec, buyDec int,
	sellAmount sdkmath.Int, bestPrice, worstPrice sdkmath.LegacyDec, now time.Time, length time.Duration) (*Dutch, error) {
	if sellAmount.IsNil() || !sellAmount.IsPositive() {
		return nil, fmt.Errorf("%w: sell amount must be positive", ErrInvalidTrade)
	}
	if bestPrice.IsNil() || worstPrice.IsNil() || !worstPrice.IsPositive() || bestPrice.LT(worstPrice) {
		return nil, fmt.Errorf("%w: price bounds must satisfy best >= worst > 0", ErrInvalidTrade)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: auction length must be positive", ErrInvalidTrade)
	}

	d := &Dutch{
		led:        led,
		id:         uuid.New().String(),
		sell:       sell,
		buy:        buy,
		sellDec:    sellDec,
		buyDec:     buyDec,
		sellAmount: sellAmount,
		bestPrice:  bestPrice,
		worstPrice: worstPrice,
		startTime:  now,
		endTime:    now.Add(length),
		status:     types.TradeOpen,
		bought:     sdkmath.ZeroInt(),
	}
	d.log = logger.GetForComponent("dutch_trade").With().Str("trade", d.id).Logger()

	if err := led.Transfer(sell, from, EscrowAccount(d.id), sellAmount); err != nil {
		return nil, err
	}
	d.log.Info().
		Str("sell", string(sell)).
		Str("buy", string(buy)).
		Str("sellAmount", sellAmount.String()).
		Str("bestPrice", bestPrice.String()).
		Str("worstPrice", worstPrice.String()).
		Time("endTime", d.endTime).
		Msg("Dutch trade opened")
	return d, nil
}

func (d *Dutch) ID() string                 { return d.id }
func (d *Dutch) Kind() types.TradeKind      { return types.TradeKindDutch }
func (d *Dutch) Sell() types.AssetID        { return d.sell }
func (d *Dutch) Buy() types.AssetID         { return d.buy }
func (d *Dutch) SellAmount() sdkmath.Int    { return d.sellAmount }
func (d *Dutch) Status() types.TradeStatus  { return d.status }
func (d *Dutch) EndTime() time.Time         { return d.endTime }
func (d *Dutch) Bidder() types.AccountID    { return d.bidder }

// Price quotes the instantaneous buy-per-sell price: a steep descent from
// openingMultiplier * best down to best over the overture, a linear ramp from
// best to worst through the bulk of the window, then flat at worst.
func (d *Dutch) Price(now time.Time) sdkmath.LegacyDec {
	total := d.endTime.Sub(d.startTime)
	elapsed := now.Sub(d.startTime)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	frac := sdkmath.LegacyNewDec(elapsed.Nanoseconds()).Quo(sdkmath.LegacyNewDec(total.Nanoseconds()))

	one := sdkmath.LegacyOneDec()
	switch {
	case frac.LT(dutchOvertureEnd):
		// multiplier decays linearly from the opening multiple to 1
		progress := frac.Quo(dutchOvertureEnd)
		mult := one.Add(dutchOpeningMultiplier.Sub(one).Mul(one.Sub(progress)))
		return d.bestPrice.Mul(mult)
	case frac.LT(dutchRampEnd):
		progress := frac.Sub(dutchOvertureEnd).Quo(dutchRampEnd.Sub(dutchOvertureEnd))
		return d.bestPrice.Sub(d.bestPrice.Sub(d.worstPrice).Mul(progress))
	default:
		return d.worstPrice
	}
}

// Bid fills the entire lot at the current price. The bidder pays the quoted
// buy amount into escrow (allowance to the escrow account required) and takes
// delivery of the full sell amount immediately.
func (d *Dutch) Bid(now time.Time, bidder types.AccountID) (sdkmath.Int, error) {
	if d.status != types.TradeOpen {
		return sdkmath.ZeroInt(), ErrTradeNotOpen
	}
	if d.filled {
		return sdkmath.ZeroInt(), ErrAlreadySettled
	}
	if now.Before(d.startTime) || !now.Before(d.endTime) {
		return sdkmath.ZeroInt(), ErrBidTooLate
	}

	price := d.Price(now)
	sellWhole, err := utils.BaseToWhole(d.sellAmount, d.sellDec)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	buyAmount, err := utils.WholeToBase(sellWhole.Mul(price), d.buyDec, types.RoundCeil)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	escrow := EscrowAccount(d.id)
	if err := d.led.TransferFrom(d.buy, escrow, bidder, escrow, buyAmount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := d.led.Transfer(d.sell, escrow, bidder, d.sellAmount); err != nil {
		return sdkmath.ZeroInt(), err
	}

	d.filled = true
	d.bidder = bidder
	d.bought = buyAmount
	d.log.Info().
		Str("bidder", string(bidder)).
		Str("price", price.String()).
		Str("buyAmount", buyAmount.String()).
		Msg("Dutch trade filled")
	return buyAmount, nil
}

// CanSettle reports whether the lot has been filled or the window has closed.
func (d *Dutch) CanSettle(now time.Time) bool {
	return d.status == types.TradeOpen && (d.filled || !now.Before(d.endTime))
}

// Settle closes the trade, moving proceeds (and the unsold lot, if nothing
// filled) to the given account.
func (d *Dutch) Settle(now time.Time, to types.AccountID) (sdkmath.Int, sdkmath.Int, error) {
	if d.status == types.TradeClosed {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), ErrAlreadySettled
	}
	if !d.CanSettle(now) {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), ErrTradeNotEnded
	}

	escrow := EscrowAccount(d.id)
	sold := sdkmath.ZeroInt()
	if d.filled {
		sold = d.sellAmount
		if d.bought.IsPositive() {
			if err := d.led.Transfer(d.buy, escrow, to, d.bought); err != nil {
				return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
			}
		}
	} else {
		// Zero proceeds: return the full lot for the next round.
		if err := d.led.Transfer(d.sell, escrow, to, d.sellAmount); err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}

	d.status = types.TradeClosed
	d.log.Info().
		Bool("filled", d.filled).
		Str("sold", sold.String()).
		Str("bought", d.bought.String()).
		Msg("Dutch trade settled")
	return sold, d.bought, nil
}
