/*

This file contains the basket token itself: issuance and redemption gated by
basket readiness and the two supply throttles, plus the internal mint/melt
primitives the backing manager uses to move basketsNeeded when trading gains
or loses value. The core solvency invariant lives here: the BU exchange rate
basketsNeeded / totalSupply must stay inside [1e-9, 1e9]; anything outside is
a modeling error and the operation is rejected without state change.

*/

package rtoken

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/throttle"
	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrBasketNotReady     = errors.New("basket is not ready for issuance")
	ErrPartialRedemption  = errors.New("partial redemption; use custom redemption")
	ErrRateOutOfBounds    = errors.New("BU exchange rate out of bounds")
	ErrQuoteBelowExpected = errors.New("live quote below caller expectation")
)

// Decimals is the base-unit precision of the basket token.
const Decimals = 18

// BU exchange rate bounds. Values outside this range indicate a modeling
// error, not a valid economic state.
var (
	minExchangeRate = sdkmath.LegacyNewDecWithPrec(1, 9) // 1e-9
	maxExchangeRate = sdkmath.LegacyNewDec(1_000_000_000)
)

// Snapshot is the persistable supply state.
type Snapshot struct {
	TotalSupply   sdkmath.Int       `json:"total_supply"`
	BasketsNeeded sdkmath.LegacyDec `json:"baskets_needed"`
}

// Token is the basket-backed unit token.
type Token struct {
	log zerolog.Logger

	asset  types.AssetID // the token's own ledger id
	led    ledger.Ledger
	basket *basket.Handler

	issuance   *throttle.Throttle
	redemption *throttle.Throttle

	backingAccount types.AccountID

	totalSupply   sdkmath.Int
	basketsNeeded sdkmath.LegacyDec
}

// New creates a token with zero supply.
func New(asset types.AssetID, led ledger.Ledger, handler *basket.Handler,
	issuance, redemption *throttle.Throttle, backingAccount types.AccountID) *Token {
	return &Token{
		log:            logger.GetForComponent("rtoken").With().Str("token", string(asset)).Logger(),
		asset:          asset,
		led:            led,
		basket:         handler,
		issuance:       issuance,
		redemption:     redemption,
		backingAccount: backingAccount,
		totalSupply:    sdkmath.ZeroInt(),
		basketsNeeded:  sdkmath.LegacyZeroDec(),
	}
}

// Asset returns the token's ledger id.
func (t *Token) Asset() types.AssetID { return t.asset }

// TotalSupply returns the current total supply in base units.
func (t *Token) TotalSupply() sdkmath.Int { return t.totalSupply }

// BasketsNeeded returns the basket units the backing must cover.
func (t *Token) BasketsNeeded() sdkmath.LegacyDec { return t.basketsNeeded }

// checkRate validates the solvency bound for a prospective (supply, baskets)
// pair. A zero supply carries no rate.
func checkRate(supply sdkmath.Int, baskets sdkmath.LegacyDec) error {
	if supply.IsZero() {
		return nil
	}
	wholeSupply, err := utils.BaseToWhole(supply, Decimals)
	if err != nil || wholeSupply.IsZero() {
		return nil
	}
	rate := baskets.Quo(wholeSupply)
	if rate.LT(minExchangeRate) || rate.GT(maxExchangeRate) {
		return fmt.Errorf("%w: %s BU per token", ErrRateOutOfBounds, rate)
	}
	return nil
}

// basketsFor converts a token amount to basket units at the current rate,
// one BU per whole token when supply is zero.
func (t *Token) basketsFor(amount sdkmath.Int) sdkmath.LegacyDec {
	if t.totalSupply.IsZero() {
		whole, _ := utils.BaseToWhole(amount, Decimals)
		return whole
	}
	return t.basketsNeeded.
		MulInt(amount).
		Quo(sdkmath.LegacyNewDecFromInt(t.totalSupply))
}

// Issue mints amount of the token to the caller against collateral debited
// from the caller at the current basket's ratios.
func (t *Token) Issue(now time.Time, caller types.AccountID, amount sdkmath.Int) error {
	return t.IssueTo(now, caller, caller, amount)
}

// IssueTo mints amount to recipient, debiting the caller. The current basket
// must be SOUND and past warmup. Collateral quantities round up (in the
// protocol's favor); issuance throttle is debited and the redemption throttle
// credited by the same amount, since every unit issued is immediately
// redeemable.
func (t *Token) IssueTo(now time.Time, caller, recipient types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !t.basket.IsReady(now) {
		return ErrBasketNotReady
	}

	amtBaskets := t.basketsFor(amount)
	quote, err := t.basket.Quote(now, amtBaskets, types.RoundCeil)
	if err != nil {
		return err
	}

	newSupply := t.totalSupply.Add(amount)
	newBaskets := t.basketsNeeded.Add(amtBaskets)
	if err := checkRate(newSupply, newBaskets); err != nil {
		return err
	}

	// Validate every transfer before moving anything so a failure cannot
	// leave a partial deposit.
	for _, asset := range quote.Assets {
		qty := quote.Quantities[asset]
		if !qty.IsPositive() {
			continue
		}
		if bal := t.led.BalanceOf(asset, caller); bal.LT(qty) {
			return fmt.Errorf("%w: %s has %s of %s, needs %s",
				ledger.ErrInsufficientBalance, caller, bal, asset, qty)
		}
		if allowed := t.led.Allowance(asset, caller, t.backingAccount); allowed.LT(qty) {
			return fmt.Errorf("%w: %s allowed %s of %s, needs %s",
				ledger.ErrInsufficientAllowance, caller, allowed, asset, qty)
		}
	}

	// Last failable step.
	if err := t.issuance.Use(now, t.totalSupply, amount); err != nil {
		return err
	}

	for _, asset := range quote.Assets {
		qty := quote.Quantities[asset]
		if !qty.IsPositive() {
			continue
		}
		if err := t.led.TransferFrom(asset, t.backingAccount, caller, t.backingAccount, qty); err != nil {
			// Unreachable given the pre-checks; surface loudly if it happens.
			t.log.Error().Err(err).Str("asset", string(asset)).Msg("Collateral transfer failed after validation")
			return err
		}
	}
	if err := t.led.Mint(t.asset, recipient, amount); err != nil {
		return err
	}

	t.totalSupply = newSupply
	t.basketsNeeded = newBaskets
	_ = t.redemption.Use(now, t.totalSupply, amount.Neg()) // credit never fails

	t.log.Info().
		Str("caller", string(caller)).
		Str("recipient", string(recipient)).
		Str("amount", amount.String()).
		Str("baskets", amtBaskets.String()).
		Msg("Issued")
	return nil
}

// Redeem burns amount of the caller's tokens and pays out collateral at the
// current basket's ratios, rounding down. The simple path requires the current
// basket to be fully collateralized; otherwise callers are steered to
// RedeemCustom via ErrPartialRedemption.
func (t *Token) Redeem(now time.Time, caller types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if bal := t.led.BalanceOf(t.asset, caller); bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, redeeming %s",
			ledger.ErrInsufficientBalance, caller, bal, amount)
	}

	backingBal := func(a types.AssetID) sdkmath.Int { return t.led.BalanceOf(a, t.backingAccount) }
	if !t.basket.FullyCollateralized(now, backingBal, t.basketsNeeded) {
		return ErrPartialRedemption
	}

	amtBaskets := t.basketsFor(amount)
	quote, err := t.basket.Quote(now, amtBaskets, types.RoundFloor)
	if err != nil {
		return err
	}

	if err := t.redemption.Use(now, t.totalSupply, amount); err != nil {
		return err
	}

	if err := t.led.Burn(t.asset, caller, amount); err != nil {
		return err
	}
	for _, asset := range quote.Assets {
		qty := quote.Quantities[asset]
		if !qty.IsPositive() {
			continue
		}
		if err := t.led.Transfer(asset, t.backingAccount, caller, qty); err != nil {
			return err
		}
	}

	t.totalSupply = t.totalSupply.Sub(amount)
	t.basketsNeeded = t.basketsNeeded.Sub(amtBaskets)
	if t.basketsNeeded.IsNegative() {
		t.basketsNeeded = sdkmath.LegacyZeroDec()
	}
	_ = t.issuance.Use(now, t.totalSupply, amount.Neg())

	t.log.Info().
		Str("caller", string(caller)).
		Str("amount", amount.String()).
		Str("baskets", amtBaskets.String()).
		Msg("Redeemed")
	return nil
}

// RedeemCustom burns amount of the caller's tokens against an explicit list of
// historical basket nonces, so holders can always exit at some historical
// composition even mid-rebalancing. The caller's expected quote is re-validated
// against the live baskets: any line below expectation fails the whole call.
// Payouts are capped pro-rata by what the backing actually holds.
func (t *Token) RedeemCustom(now time.Time, caller, recipient types.AccountID, amount sdkmath.Int,
	nonces []uint64, portions []sdkmath.LegacyDec, expected types.Quote) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if bal := t.led.BalanceOf(t.asset, caller); bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, redeeming %s",
			ledger.ErrInsufficientBalance, caller, bal, amount)
	}

	amtBaskets := t.basketsFor(amount)
	quote, err := t.basket.QuoteCustom(now, nonces, portions, amtBaskets)
	if err != nil {
		return err
	}

	for _, asset := range expected.Assets {
		want := expected.Quantities[asset]
		got, ok := quote.Quantities[asset]
		if !ok {
			got = sdkmath.ZeroInt()
		}
		if got.LT(want) {
			return fmt.Errorf("%w: %s live %s, expected %s",
				ErrQuoteBelowExpected, asset, got, want)
		}
	}

	// Cap each payout pro-rata by held balance so a shortfall in one line
	// cannot block the exit.
	payouts := make(map[types.AssetID]sdkmath.Int, len(quote.Assets))
	for _, asset := range quote.Assets {
		held := t.led.BalanceOf(asset, t.backingAccount)
		prorata := sdkmath.LegacyNewDecFromInt(held).
			MulInt(amount).
			Quo(sdkmath.LegacyNewDecFromInt(t.totalSupply)).
			TruncateInt()
		payouts[asset] = utils.MinInt(quote.Quantities[asset], prorata)
	}

	if err := t.redemption.Use(now, t.totalSupply, amount); err != nil {
		return err
	}

	if err := t.led.Burn(t.asset, caller, amount); err != nil {
		return err
	}
	for _, asset := range quote.Assets {
		qty := payouts[asset]
		if !qty.IsPositive() {
			continue
		}
		if err := t.led.Transfer(asset, t.backingAccount, recipient, qty); err != nil {
			return err
		}
	}

	t.totalSupply = t.totalSupply.Sub(amount)
	t.basketsNeeded = t.basketsNeeded.Sub(amtBaskets)
	if t.basketsNeeded.IsNegative() {
		t.basketsNeeded = sdkmath.LegacyZeroDec()
	}
	_ = t.issuance.Use(now, t.totalSupply, amount.Neg())

	t.log.Info().
		Str("caller", string(caller)).
		Str("recipient", string(recipient)).
		Str("amount", amount.String()).
		Uints64("nonces", nonces).
		Msg("Redeemed via custom path")
	return nil
}

// IssuanceAvailable returns the base units currently issuable.
func (t *Token) IssuanceAvailable(now time.Time) sdkmath.Int {
	return t.issuance.Available(now, t.totalSupply).TruncateInt()
}

// RedemptionAvailable returns the base units currently redeemable, never more
// than the outstanding supply.
func (t *Token) RedemptionAvailable(now time.Time) sdkmath.Int {
	avail := t.redemption.Available(now, t.totalSupply).TruncateInt()
	return utils.MinInt(avail, t.totalSupply)
}

// SetIssuanceThrottleParams swaps the issuance throttle rates. Governance only.
func (t *Token) SetIssuanceThrottleParams(now time.Time, p types.ThrottleParams) error {
	return t.issuance.SetParams(now, t.totalSupply, p)
}

// SetRedemptionThrottleParams swaps the redemption throttle rates. Governance only.
func (t *Token) SetRedemptionThrottleParams(now time.Time, p types.ThrottleParams) error {
	return t.redemption.SetParams(now, t.totalSupply, p)
}

// Mint raises basketsNeeded to reflect value gained from trading. Backing
// manager only; rejection is fatal to the caller, not to protocol state.
func (t *Token) Mint(baskets sdkmath.LegacyDec) error {
	if baskets.IsNil() || baskets.IsNegative() {
		return ErrInvalidAmount
	}
	return t.SetBasketsNeeded(t.basketsNeeded.Add(baskets))
}

// Melt lowers basketsNeeded to reflect value lost from trading. Backing
// manager only.
func (t *Token) Melt(baskets sdkmath.LegacyDec) error {
	if baskets.IsNil() || baskets.IsNegative() {
		return ErrInvalidAmount
	}
	return t.SetBasketsNeeded(t.basketsNeeded.Sub(baskets))
}

// SetBasketsNeeded replaces basketsNeeded, subject to the solvency bound.
// This is the haircut primitive: lowering it socializes a realized backing
// loss across all holders instead of leaving the system stuck.
func (t *Token) SetBasketsNeeded(baskets sdkmath.LegacyDec) error {
	if baskets.IsNil() || baskets.IsNegative() {
		return ErrInvalidAmount
	}
	if err := checkRate(t.totalSupply, baskets); err != nil {
		return err
	}
	t.log.Warn().
		Str("from", t.basketsNeeded.String()).
		Str("to", baskets.String()).
		Msg("basketsNeeded changed")
	t.basketsNeeded = baskets
	return nil
}

// IssuanceThrottleState returns the persistable issuance throttle state.
func (t *Token) IssuanceThrottleState() throttle.State { return t.issuance.State() }

// RedemptionThrottleState returns the persistable redemption throttle state.
func (t *Token) RedemptionThrottleState() throttle.State { return t.redemption.State() }

// RestoreThrottle rehydrates the named throttle from persisted state.
func (t *Token) RestoreThrottle(name string, s throttle.State) error {
	switch name {
	case "issuance":
		return t.issuance.Restore(s)
	case "redemption":
		return t.redemption.Restore(s)
	default:
		return fmt.Errorf("unknown throttle %q", name)
	}
}

// Snapshot returns the persistable supply state.
func (t *Token) Snapshot() Snapshot {
	return Snapshot{TotalSupply: t.totalSupply, BasketsNeeded: t.basketsNeeded}
}

// Restore rehydrates supply state from a snapshot.
func (t *Token) Restore(s Snapshot) error {
	if s.TotalSupply.IsNil() || s.TotalSupply.IsNegative() {
		return ErrInvalidAmount
	}
	if s.BasketsNeeded.IsNil() || s.BasketsNeeded.IsNegative() {
		return ErrInvalidAmount
	}
	if err := checkRate(s.TotalSupply, s.BasketsNeeded); err != nil {
		return err
	}
	t.totalSupply = s.TotalSupply
	t.basketsNeeded = s.BasketsNeeded
	return nil
}
