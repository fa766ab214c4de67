/*

This file contains the keeper: the single-writer facade that owns every engine
component and drives the periodic maintenance cycle. One cycle refreshes
collateral, reacts to basket defaults, settles ended trades, advances
recollateralization by at most one step, and persists a snapshot. External
callers (the web surface, tests) enter through the keeper so that all state
transitions stay serialized behind one mutex.

*/

package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/backing"
	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/rtoken"
	"github.com/reservoir-labs/bme/internal/stakepool"
	"github.com/reservoir-labs/bme/internal/state"
	"github.com/reservoir-labs/bme/internal/trading"
	"github.com/reservoir-labs/bme/internal/types"
)

// Config holds the collaborators for creating a new Keeper instance
type Config struct {
	Ledger       ledger.Ledger
	Feed         *oracle.Feed
	Registry     *registry.Registry
	Basket       *basket.Handler
	Token        *rtoken.Token
	Manager      *backing.Manager
	Pool         stakepool.Pool
	Params       types.ProtocolParams
	TradeKind    types.TradeKind
	Persistent   bool // persist state through the state package each cycle
}

// Keeper drives the engine. All mutating entry points hold the mutex, so the
// engine behaves as a single-threaded state machine regardless of how many
// goroutines call in.
type Keeper struct {
	log zerolog.Logger
	mu  sync.Mutex

	led     ledger.Ledger
	feed    *oracle.Feed
	reg     *registry.Registry
	basket  *basket.Handler
	token   *rtoken.Token
	manager *backing.Manager
	pool    stakepool.Pool

	params     types.ProtocolParams
	tradeKind  types.TradeKind
	persistent bool

	cycleCount int
}

// New creates a Keeper over pre-built components.
func New(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}

	k := &Keeper{
		log:        logger.GetForComponent("keeper"),
		led:        cfg.Ledger,
		feed:       cfg.Feed,
		reg:        cfg.Registry,
		basket:     cfg.Basket,
		token:      cfg.Token,
		manager:    cfg.Manager,
		pool:       cfg.Pool,
		params:     cfg.Params,
		tradeKind:  cfg.TradeKind,
		persistent: cfg.Persistent,
	}

	k.log.Info().
		Str("tradeKind", string(k.tradeKind)).
		Bool("persistent", k.persistent).
		Msg("Keeper instance created")
	return k, nil
}

func validateConfig(cfg Config) error {
	if cfg.Ledger == nil {
		return fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	if cfg.Basket == nil {
		return fmt.Errorf("basket handler cannot be nil")
	}
	if cfg.Token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if cfg.Manager == nil {
		return fmt.Errorf("backing manager cannot be nil")
	}
	if cfg.TradeKind != types.TradeKindDutch && cfg.TradeKind != types.TradeKindBatch {
		return fmt.Errorf("unknown trade kind: %s", cfg.TradeKind)
	}
	return nil
}

// RunLoop starts the main keeper loop with the specified interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.log.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.RunCycle(time.Now())

	for {
		select {
		case <-ctx.Done():
			k.log.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.RunCycle(time.Now())
		}
	}
}

// RunCycle executes one complete maintenance cycle. Persistence failures are
// logged and skipped; the in-memory engine is the source of truth and a later
// cycle retries the write.
func (k *Keeper) RunCycle(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.cycleCount++
	cycleID := uuid.New().String()
	cycleLogger := k.log.With().Str("cycle_id", cycleID).Int("cycle", k.cycleCount).Logger()
	cycleLogger.Info().Msg("--- Starting keeper cycle ---")

	action := "none"

	// Step 1: refresh collateral and track basket status transitions.
	k.reg.RefreshAll(now)
	k.basket.TrackStatus(now)
	status := k.basket.Status(now)

	// Step 2: a defaulted basket triggers a switch to the next viable one.
	if status == types.StatusDisabled {
		if _, err := k.basket.RefreshBasket(now); err != nil {
			cycleLogger.Warn().Err(err).Msg("Basket refresh not possible this cycle")
		} else {
			action = "basket_switched"
			cycleLogger.Info().Uint64("nonce", k.basket.Nonce()).Msg("Basket switched")
		}
		status = k.basket.Status(now)
	}

	// Step 3: settle any trades past their end condition.
	for _, t := range k.manager.OpenTrades() {
		if !t.CanSettle(now) {
			continue
		}
		receipt, err := k.manager.SettleTrade(now, t.Sell())
		if err != nil {
			cycleLogger.Error().Err(err).Str("trade", t.ID()).Msg("Trade settlement failed")
			continue
		}
		action = "trade_settled"
		k.persistReceipt(cycleLogger, receipt)
	}

	// Step 4: advance recollateralization by at most one step.
	if k.manager.TradesOpen() == 0 && !k.manager.FullyCollateralized(now) {
		opened, err := k.manager.Rebalance(now, k.tradeKind)
		switch {
		case err == backing.ErrBasketNotReady:
			cycleLogger.Info().Msg("Rebalancing deferred: basket not ready")
		case err != nil:
			cycleLogger.Error().Err(err).Msg("Rebalancing step failed")
		case opened:
			action = "trade_opened"
		default:
			// Converged, seized, or haircut; backing manager logged the detail.
			if action == "none" {
				action = "rebalance_step"
			}
		}
	}

	k.persistState(cycleLogger, now, status, action)
	cycleLogger.Info().Str("action", action).Msg("--- Keeper cycle completed ---")
}

func (k *Keeper) persistReceipt(log zerolog.Logger, receipt types.TradeReceipt) {
	if !k.persistent {
		return
	}
	if err := state.SaveTradeReceipt(receipt); err != nil {
		log.Warn().Err(err).Str("trade", receipt.TradeID).Msg("Failed to persist trade receipt")
	}
}

// persistState writes the durable engine state after a cycle.
func (k *Keeper) persistState(log zerolog.Logger, now time.Time, status types.CollateralStatus, action string) {
	if !k.persistent {
		return
	}

	for _, asset := range k.reg.List() {
		c, err := k.reg.Get(asset)
		if err != nil {
			continue
		}
		if err := state.SaveCollateralSnapshot(c.Snapshot()); err != nil {
			log.Warn().Err(err).Str("asset", string(asset)).Msg("Failed to persist collateral snapshot")
		}
	}
	if b := k.basket.Current(); !b.Empty() {
		if err := state.SaveBasket(b); err != nil {
			log.Warn().Err(err).Uint64("nonce", b.Nonce).Msg("Failed to persist basket")
		}
	}
	snap := k.token.Snapshot()
	if err := state.SaveSupply(snap.TotalSupply, snap.BasketsNeeded); err != nil {
		log.Warn().Err(err).Msg("Failed to persist supply")
	}
	if err := state.SaveThrottleState("issuance", k.token.IssuanceThrottleState()); err != nil {
		log.Warn().Err(err).Msg("Failed to persist issuance throttle")
	}
	if err := state.SaveThrottleState("redemption", k.token.RedemptionThrottleState()); err != nil {
		log.Warn().Err(err).Msg("Failed to persist redemption throttle")
	}

	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to increment cycle counter")
		cycleNumber = k.cycleCount
	}
	cycleSnap := types.CycleSnapshot{
		CycleNumber:   cycleNumber,
		Timestamp:     now,
		BasketNonce:   k.basket.Nonce(),
		BasketStatus:  status.String(),
		TotalSupply:   snap.TotalSupply,
		BasketsNeeded: snap.BasketsNeeded,
		BasketsHeld:   k.basketsHeld(now),
		TradesOpen:    k.manager.TradesOpen(),
		Action:        action,
	}
	if err := state.SaveCycleSnapshot(cycleSnap); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cycle snapshot")
	}
}

func (k *Keeper) basketsHeld(now time.Time) sdkmath.LegacyDec {
	account := k.manager.Account()
	return k.basket.BasketsHeld(now, func(a types.AssetID) sdkmath.Int {
		return k.led.BalanceOf(a, account)
	})
}

// LoadState rehydrates the engine from the database. Missing rows are not
// errors: a fresh deployment simply starts empty.
func (k *Keeper) LoadState() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	snaps, err := state.LoadCollateralSnapshots()
	if err != nil {
		return fmt.Errorf("failed to load collateral snapshots: %w", err)
	}
	for _, snap := range snaps {
		if k.reg.IsRegistered(snap.Config.Asset) {
			continue
		}
		c, rerr := restoreCollateral(snap, k.feed)
		if rerr != nil {
			return fmt.Errorf("failed to restore collateral %s: %w", snap.Config.Asset, rerr)
		}
		if rerr := k.reg.Register(c); rerr != nil {
			return rerr
		}
	}

	baskets, err := state.LoadBaskets()
	if err != nil {
		return fmt.Errorf("failed to load baskets: %w", err)
	}
	if len(baskets) > 0 {
		if err := k.basket.Restore(baskets); err != nil {
			return fmt.Errorf("failed to restore basket history: %w", err)
		}
	}

	supply, basketsNeeded, exists, err := state.LoadSupply()
	if err != nil {
		return fmt.Errorf("failed to load supply: %w", err)
	}
	if exists {
		if err := k.token.Restore(rtoken.Snapshot{TotalSupply: supply, BasketsNeeded: basketsNeeded}); err != nil {
			return fmt.Errorf("failed to restore supply: %w", err)
		}
	}

	for _, name := range []string{"issuance", "redemption"} {
		ts, found, terr := state.LoadThrottleState(name)
		if terr != nil {
			return fmt.Errorf("failed to load %s throttle: %w", name, terr)
		}
		if !found {
			continue
		}
		if terr := k.token.RestoreThrottle(name, ts); terr != nil {
			return fmt.Errorf("failed to restore %s throttle: %w", name, terr)
		}
	}

	k.log.Info().
		Int("collateral", len(snaps)).
		Int("baskets", len(baskets)).
		Bool("supplyRow", exists).
		Msg("Engine state loaded from database")
	return nil
}

// SetParams swaps in updated governance parameters across components.
func (k *Keeper) SetParams(now time.Time, p types.ProtocolParams) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.token.SetIssuanceThrottleParams(now, p.IssuanceThrottle); err != nil {
		return err
	}
	if err := k.token.SetRedemptionThrottleParams(now, p.RedemptionThrottle); err != nil {
		return err
	}
	k.manager.SetParams(p)
	k.params = p
	k.log.Info().Msg("Protocol parameters updated")
	return nil
}

// SetPrice records an oracle price observation for an asset.
func (k *Keeper) SetPrice(asset types.AssetID, price sdkmath.LegacyDec, at time.Time) {
	k.feed.SetPrice(asset, price, at)
}

// SetRefPerTok records the reference-per-token rate for an asset.
func (k *Keeper) SetRefPerTok(asset types.AssetID, ratio sdkmath.LegacyDec) {
	k.feed.SetRefPerTok(asset, ratio)
}

// Issue mints tokens to the caller against collateral. See rtoken.IssueTo.
func (k *Keeper) Issue(now time.Time, caller types.AccountID, amount sdkmath.Int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token.Issue(now, caller, amount)
}

// Redeem burns the caller's tokens for collateral at the current basket.
func (k *Keeper) Redeem(now time.Time, caller types.AccountID, amount sdkmath.Int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token.Redeem(now, caller, amount)
}

// RedeemCustom burns tokens against a weighted set of historical baskets.
func (k *Keeper) RedeemCustom(now time.Time, caller types.AccountID, amount sdkmath.Int,
	nonces []uint64, portions []sdkmath.LegacyDec, expected types.Quote) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token.RedeemCustom(now, caller, caller, amount, nonces, portions, expected)
}

// BidDutch fills the open dutch trade for sell at the current curve price.
func (k *Keeper) BidDutch(now time.Time, sell types.AssetID, bidder types.AccountID) (sdkmath.Int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.manager.BidDutch(now, sell, bidder)
}

// BasketView is the read model of the current basket for the web surface.
type BasketView struct {
	Nonce    uint64            `json:"nonce"`
	Status   string            `json:"status"`
	Ready    bool              `json:"ready"`
	Disabled bool              `json:"disabled"`
	RefAmts  map[string]string `json:"ref_amts"`
}

// SupplyView is the read model of token supply and collateralization.
type SupplyView struct {
	TotalSupply          string `json:"total_supply"`
	BasketsNeeded        string `json:"baskets_needed"`
	BasketsHeld          string `json:"baskets_held"`
	FullyCollateralized  bool   `json:"fully_collateralized"`
	IssuanceAvailable    string `json:"issuance_available"`
	RedemptionAvailable  string `json:"redemption_available"`
}

// TradeView is the read model of one open trade.
type TradeView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Sell       string `json:"sell"`
	Buy        string `json:"buy"`
	SellAmount string `json:"sell_amount"`
	Status     string `json:"status"`
	EndTime    string `json:"end_time"`
	Price      string `json:"price,omitempty"` // dutch trades only
}

// Basket returns the current basket read model.
func (k *Keeper) Basket(now time.Time) BasketView {
	k.mu.Lock()
	defer k.mu.Unlock()

	b := k.basket.Current()
	refAmts := make(map[string]string, len(b.RefAmts))
	for asset, amt := range b.RefAmts {
		refAmts[string(asset)] = amt.String()
	}
	return BasketView{
		Nonce:    b.Nonce,
		Status:   k.basket.Status(now).String(),
		Ready:    k.basket.IsReady(now),
		Disabled: b.Disabled,
		RefAmts:  refAmts,
	}
}

// Supply returns the supply read model.
func (k *Keeper) Supply(now time.Time) SupplyView {
	k.mu.Lock()
	defer k.mu.Unlock()

	return SupplyView{
		TotalSupply:         k.token.TotalSupply().String(),
		BasketsNeeded:       k.token.BasketsNeeded().String(),
		BasketsHeld:         k.basketsHeld(now).String(),
		FullyCollateralized: k.manager.FullyCollateralized(now),
		IssuanceAvailable:   k.token.IssuanceAvailable(now).String(),
		RedemptionAvailable: k.token.RedemptionAvailable(now).String(),
	}
}

// Trades returns the open trade read models.
func (k *Keeper) Trades(now time.Time) []TradeView {
	k.mu.Lock()
	defer k.mu.Unlock()

	open := k.manager.OpenTrades()
	out := make([]TradeView, 0, len(open))
	for _, t := range open {
		view := TradeView{
			ID:         t.ID(),
			Kind:       string(t.Kind()),
			Sell:       string(t.Sell()),
			Buy:        string(t.Buy()),
			SellAmount: t.SellAmount().String(),
			Status:     string(t.Status()),
			EndTime:    t.EndTime().UTC().Format(time.RFC3339),
		}
		if d, ok := t.(*trading.Dutch); ok {
			view.Price = d.Price(now).String()
		}
		out = append(out, view)
	}
	return out
}

// ThrottleView is the read model of both supply throttles.
type ThrottleView struct {
	IssuanceAvailable   string `json:"issuance_available"`
	RedemptionAvailable string `json:"redemption_available"`
}

// Throttles returns the throttle headroom read model.
func (k *Keeper) Throttles(now time.Time) ThrottleView {
	k.mu.Lock()
	defer k.mu.Unlock()

	return ThrottleView{
		IssuanceAvailable:   k.token.IssuanceAvailable(now).String(),
		RedemptionAvailable: k.token.RedemptionAvailable(now).String(),
	}
}

// Receipts returns settled trade receipts, newest last.
func (k *Keeper) Receipts() []types.TradeReceipt {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.manager.Receipts()
}

// CycleCount returns the number of cycles run by this process.
func (k *Keeper) CycleCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cycleCount
}

// restoreCollateral rebuilds the right collateral flavor from a snapshot.
func restoreCollateral(snap types.CollateralSnapshot, feed *oracle.Feed) (collateral.Collateral, error) {
	if snap.AppreciatingRatio {
		return collateral.RestoreAppreciating(snap, feed, feed)
	}
	return collateral.RestoreFiat(snap, feed)
}
