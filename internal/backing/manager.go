/*

This file contains the backing manager: it measures the gap between what the
backing account holds and what the current basket says it owes, and works the
gap off one trade at a time. Trading is strictly serialized per sell asset;
when no surplus collateral can cover a deficit it seizes backstop capital, and
when that too is exhausted it applies a haircut so the system degrades in
value instead of deadlocking.

*/

package backing

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/rtoken"
	"github.com/reservoir-labs/bme/internal/stakepool"
	"github.com/reservoir-labs/bme/internal/trading"
	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrTradeAlreadyOpen = errors.New("trade already open")
	ErrNoOpenTrade      = errors.New("no open trade for sell asset")
	ErrBasketNotReady   = errors.New("basket is not ready for rebalancing")
	ErrUnsupportedKind  = errors.New("unsupported trade kind")
	ErrNoAuctionHouse   = errors.New("no auction house configured for batch trades")
)

// imbalance is one asset's surplus or deficit measured for a rebalancing round.
type imbalance struct {
	asset    types.AssetID
	qtyWhole sdkmath.LegacyDec // whole tokens beyond/below need
	value    sdkmath.LegacyDec // USD
	price    sdkmath.LegacyDec // USD per whole token
	decimals int
}

// Manager orchestrates recollateralization.
type Manager struct {
	log zerolog.Logger

	led     ledger.Ledger
	reg     *registry.Registry
	handler *basket.Handler
	token   *rtoken.Token
	pool    stakepool.Pool
	house   trading.AuctionHouse // may be nil when only dutch trades are used

	params  types.ProtocolParams
	account types.AccountID

	trades   map[types.AssetID]trading.Trade
	receipts []types.TradeReceipt
}

// NewManager creates a backing manager over the given collaborators.
func NewManager(led ledger.Ledger, reg *registry.Registry, handler *basket.Handler, token *rtoken.Token,
	pool stakepool.Pool, house trading.AuctionHouse, params types.ProtocolParams, account types.AccountID) *Manager {
	return &Manager{
		log:     logger.GetForComponent("backing_manager"),
		led:     led,
		reg:     reg,
		handler: handler,
		token:   token,
		pool:    pool,
		house:   house,
		params:  params,
		account: account,
		trades:  make(map[types.AssetID]trading.Trade),
	}
}

// Account returns the ledger account holding the backing.
func (m *Manager) Account() types.AccountID { return m.account }

// SetParams swaps in updated governance parameters.
func (m *Manager) SetParams(p types.ProtocolParams) { m.params = p }

// TradesOpen returns the number of open trades.
func (m *Manager) TradesOpen() int { return len(m.trades) }

// OpenTrades returns the currently open trades.
func (m *Manager) OpenTrades() []trading.Trade {
	out := make([]trading.Trade, 0, len(m.trades))
	for _, asset := range m.reg.List() {
		if t, ok := m.trades[asset]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Receipts returns settled trade receipts, newest last.
func (m *Manager) Receipts() []types.TradeReceipt {
	out := make([]types.TradeReceipt, len(m.receipts))
	copy(out, m.receipts)
	return out
}

func (m *Manager) balance(asset types.AssetID) sdkmath.Int {
	return m.led.BalanceOf(asset, m.account)
}

// FullyCollateralized reports whether holdings cover basketsNeeded at the
// current basket's ratios.
func (m *Manager) FullyCollateralized(now time.Time) bool {
	return m.handler.FullyCollateralized(now, m.balance, m.token.BasketsNeeded())
}

// measure computes per-asset surpluses and deficits in USD terms, net of the
// backing buffer on the sell side and the dust floor on both. Unpriced assets
// are skipped entirely: they can be neither sold nor bought.
func (m *Manager) measure(now time.Time) (surpluses, deficits []imbalance) {
	b := m.handler.Current()
	needed := m.token.BasketsNeeded()
	one := sdkmath.LegacyOneDec()

	for _, asset := range m.reg.List() {
		c, err := m.reg.Get(asset)
		if err != nil {
			continue
		}
		price, err := c.Price(now)
		if err != nil || price.IsZero() {
			continue
		}
		refPerTok := c.RefPerTok()
		if refPerTok.IsNil() || refPerTok.IsZero() {
			continue
		}
		balWhole, err := utils.BaseToWhole(m.balance(asset), c.Decimals())
		if err != nil {
			continue
		}

		neededQty := sdkmath.LegacyZeroDec()
		if refAmt, ok := b.RefAmts[asset]; ok && !b.Disabled {
			neededQty = refAmt.Quo(refPerTok).Mul(needed)
		}

		cushion := neededQty.Mul(one.Add(m.params.BackingBuffer))
		if balWhole.GT(cushion) {
			excess := balWhole.Sub(cushion)
			value := excess.Mul(price)
			if value.GT(m.params.MinTradeVolume) {
				surpluses = append(surpluses, imbalance{asset, excess, value, price, c.Decimals()})
			}
			continue
		}
		if balWhole.LT(neededQty) {
			short := neededQty.Sub(balWhole)
			value := short.Mul(price)
			if value.GT(m.params.MinTradeVolume) {
				deficits = append(deficits, imbalance{asset, short, value, price, c.Decimals()})
			}
		}
	}
	return surpluses, deficits
}

// largest picks the imbalance with the greatest USD value. Candidates arrive
// in registry order (sorted by asset id), so ties resolve to the lowest id.
func largest(candidates []imbalance) (imbalance, bool) {
	if len(candidates) == 0 {
		return imbalance{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.value.GT(best.value) {
			best = c
		}
	}
	return best, true
}

// Rebalance runs one round of the recollateralization loop: it either opens
// exactly one trade, seizes backstop capital, applies a haircut, or does
// nothing because the system has converged. Callers re-invoke it after each
// settlement until it reports no work.
func (m *Manager) Rebalance(now time.Time, kind types.TradeKind) (bool, error) {
	if len(m.trades) > 0 {
		return false, ErrTradeAlreadyOpen
	}
	if !m.handler.IsReady(now) {
		return false, ErrBasketNotReady
	}
	if now.Sub(m.handler.Current().CreatedAt) < m.params.TradingDelay {
		return false, ErrBasketNotReady
	}

	basketsHeld := m.handler.BasketsHeld(now, m.balance)
	needed := m.token.BasketsNeeded()
	if basketsHeld.GTE(needed) {
		return false, nil // fully collateralized
	}

	surpluses, deficits := m.measure(now)
	if len(deficits) == 0 {
		// Under-collateralized only by dust; nothing tradeable remains.
		return false, nil
	}
	deficit, _ := largest(deficits)

	surplus, haveSurplus := largest(surpluses)
	if !haveSurplus {
		return false, m.coverFromBackstop(now, basketsHeld, deficit)
	}

	return m.openTrade(now, kind, surplus, deficit)
}

// coverFromBackstop seizes stake to cover the deficit, or applies a haircut
// when the pool is exhausted. Seized stake shows up as surplus on the next
// round and is traded like any other asset.
func (m *Manager) coverFromBackstop(now time.Time, basketsHeld sdkmath.LegacyDec, deficit imbalance) error {
	stakeAsset := m.pool.Asset()
	c, err := m.reg.Get(stakeAsset)
	if err == nil {
		if price, perr := c.Price(now); perr == nil && price.IsPositive() && m.pool.Available().IsPositive() {
			request, cerr := utils.WholeToBase(deficit.value.Quo(price), c.Decimals(), types.RoundCeil)
			if cerr != nil {
				return cerr
			}
			seized, serr := m.pool.Seize(request, m.account)
			if serr != nil {
				return serr
			}
			if seized.IsPositive() {
				m.log.Info().
					Str("deficit", string(deficit.asset)).
					Str("seized", seized.String()).
					Msg("Shortfall covered from backstop capital")
				return nil
			}
		}
	}

	// Backstop exhausted (or unusable): socialize the loss.
	m.log.Warn().
		Str("basketsNeeded", m.token.BasketsNeeded().String()).
		Str("basketsHeld", basketsHeld.String()).
		Msg("Backstop capital insufficient, applying haircut")
	return m.token.SetBasketsNeeded(basketsHeld)
}

// openTrade sizes and opens one trade from the largest surplus toward the
// largest deficit, chunked by maxTradeVolume.
func (m *Manager) openTrade(now time.Time, kind types.TradeKind, surplus, deficit imbalance) (bool, error) {
	tradeValue := utils.MinDec(surplus.value, deficit.value)
	if m.params.MaxTradeVolume.IsPositive() {
		tradeValue = utils.MinDec(tradeValue, m.params.MaxTradeVolume)
	}

	sellQty := utils.MinDec(tradeValue.Quo(surplus.price), surplus.qtyWhole)
	sellAmount, err := utils.WholeToBase(sellQty, surplus.decimals, types.RoundFloor)
	if err != nil {
		return false, err
	}
	if !sellAmount.IsPositive() {
		return false, nil
	}

	bestPrice := surplus.price.Quo(deficit.price) // buy per sell, before slippage
	worstPrice := bestPrice.Mul(sdkmath.LegacyOneDec().Sub(m.params.MaxTradeSlippage))

	var trade trading.Trade
	switch kind {
	case types.TradeKindDutch:
		trade, err = trading.NewDutch(m.led, m.account, surplus.asset, deficit.asset,
			surplus.decimals, deficit.decimals, sellAmount, bestPrice, worstPrice,
			now, m.params.DutchAuctionLength)
	case types.TradeKindBatch:
		if m.house == nil {
			return false, ErrNoAuctionHouse
		}
		var minBuy sdkmath.Int
		minBuy, err = utils.WholeToBase(sellQty.Mul(worstPrice), deficit.decimals, types.RoundCeil)
		if err != nil {
			return false, err
		}
		trade, err = trading.NewBatch(m.led, m.house, m.account, surplus.asset, deficit.asset,
			sellAmount, minBuy, now, m.params.BatchAuctionLength)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if err != nil {
		return false, err
	}

	m.trades[surplus.asset] = trade
	m.log.Info().
		Str("trade", trade.ID()).
		Str("kind", string(kind)).
		Str("sell", string(surplus.asset)).
		Str("buy", string(deficit.asset)).
		Str("sellAmount", sellAmount.String()).
		Msg("Rebalancing trade opened")
	return true, nil
}

// SettleTrade settles the open trade for a sell asset on or after its end
// condition, crediting proceeds (or the returned lot) back to the backing.
func (m *Manager) SettleTrade(now time.Time, sell types.AssetID) (types.TradeReceipt, error) {
	trade, ok := m.trades[sell]
	if !ok {
		return types.TradeReceipt{}, fmt.Errorf("%w: %s", ErrNoOpenTrade, sell)
	}
	if !trade.CanSettle(now) {
		return types.TradeReceipt{}, trading.ErrTradeNotEnded
	}

	sold, bought, err := trade.Settle(now, m.account)
	if err != nil {
		return types.TradeReceipt{}, err
	}
	delete(m.trades, sell)

	receipt := types.TradeReceipt{
		TradeID:      trade.ID(),
		Kind:         trade.Kind(),
		Sell:         trade.Sell(),
		Buy:          trade.Buy(),
		SellAmount:   trade.SellAmount(),
		SoldAmount:   sold,
		BoughtAmount: bought,
		SettledAt:    now,
	}
	if d, isDutch := trade.(*trading.Dutch); isDutch {
		receipt.Bidder = d.Bidder()
	}
	m.receipts = append(m.receipts, receipt)

	m.log.Info().
		Str("trade", trade.ID()).
		Str("sold", sold.String()).
		Str("bought", bought.String()).
		Msg("Trade settled")
	return receipt, nil
}

// BidDutch places a bid on the open dutch trade for a sell asset on behalf of
// a bidder. Batch trades take bids through the auction house instead.
func (m *Manager) BidDutch(now time.Time, sell types.AssetID, bidder types.AccountID) (sdkmath.Int, error) {
	trade, ok := m.trades[sell]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrNoOpenTrade, sell)
	}
	dutch, ok := trade.(*trading.Dutch)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s is not a dutch trade", ErrUnsupportedKind, sell)
	}
	return dutch.Bid(now, bidder)
}
