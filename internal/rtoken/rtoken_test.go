package rtoken

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/throttle"
	"github.com/reservoir-labs/bme/internal/types"
)

const (
	tokenAsset = types.AssetID("basket-usd")
	backing    = types.AccountID("backing")
	holder     = types.AccountID("holder")
)

var oneToken = sdkmath.NewInt(1_000_000_000_000_000_000) // 1e18, one whole token

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

type fixture struct {
	led     *ledger.Memory
	feed    *oracle.Feed
	reg     *registry.Registry
	handler *basket.Handler
	token   *Token
	now     time.Time
}

// setup builds a token over a single-stable basket that is immediately ready.
func setup(t *testing.T, assets ...types.AssetID) *fixture {
	t.Helper()
	f := &fixture{
		led:  ledger.NewMemory(),
		feed: oracle.NewFeed(),
		reg:  registry.New(),
		now:  time.Now(),
	}
	f.handler = basket.NewHandler(f.reg, 0)

	var prime []types.PrimeEntry
	weight := sdkmath.LegacyOneDec().Quo(sdkmath.LegacyNewDec(int64(len(assets))))
	for _, id := range assets {
		c, err := collateral.NewFiat(types.CollateralConfig{
			Asset:             id,
			TargetUnit:        "USD",
			Decimals:          6,
			PriceTimeout:      time.Hour,
			OracleTimeout:     15 * time.Minute,
			OracleError:       dec("0.01"),
			DefaultThreshold:  dec("0.05"),
			DelayUntilDefault: 24 * time.Hour,
			RevenueHiding:     dec("0"),
		}, f.feed)
		require.NoError(t, err)
		require.NoError(t, f.reg.Register(c))
		f.feed.SetPrice(id, dec("1.0"), f.now)
		c.Refresh(f.now)
		prime = append(prime, types.PrimeEntry{Asset: id, TargetUnit: "USD", TargetAmt: weight})
	}
	require.NoError(t, f.handler.SetPrimeBasket(prime))
	_, err := f.handler.RefreshBasket(f.now)
	require.NoError(t, err)

	issuance, err := throttle.New(types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(oneToken), PctRate: dec("0.05"),
	}, time.Hour)
	require.NoError(t, err)
	redemption, err := throttle.New(types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(oneToken), PctRate: dec("0.05"),
	}, time.Hour)
	require.NoError(t, err)

	f.token = New(tokenAsset, f.led, f.handler, issuance, redemption, backing)
	return f
}

// fund gives the holder collateral and approval sufficient for `whole` units
// of every basket line.
func (f *fixture) fund(t *testing.T, whole int64) {
	t.Helper()
	amt := sdkmath.NewInt(whole * 1_000_000)
	for _, id := range f.reg.List() {
		require.NoError(t, f.led.Mint(id, holder, amt))
		f.led.Approve(id, holder, backing, amt)
	}
}

func TestIssueRedeemRoundTrip(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)

	require.NoError(t, f.token.Issue(f.now, holder, oneToken))
	require.Equal(t, oneToken, f.token.TotalSupply())
	require.Equal(t, "1.000000000000000000", f.token.BasketsNeeded().String())
	require.Equal(t, oneToken, f.led.BalanceOf(tokenAsset, holder))
	require.Equal(t, sdkmath.NewInt(1_000_000), f.led.BalanceOf("usdc", backing))

	require.NoError(t, f.token.Redeem(f.now, holder, oneToken))
	require.True(t, f.token.TotalSupply().IsZero())
	require.True(t, f.token.BasketsNeeded().IsZero())
	require.True(t, f.led.BalanceOf(tokenAsset, holder).IsZero())
	// The full deposit comes back: quantities divide evenly, so no dust.
	require.Equal(t, sdkmath.NewInt(10_000_000), f.led.BalanceOf("usdc", holder))
}

func TestIssueValidation(t *testing.T) {
	f := setup(t, "usdc")

	require.ErrorIs(t, f.token.Issue(f.now, holder, sdkmath.ZeroInt()), ErrInvalidAmount)

	// No balance, no allowance: rejected before anything moves.
	err := f.token.Issue(f.now, holder, oneToken)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.True(t, f.token.TotalSupply().IsZero())
	require.True(t, f.led.BalanceOf("usdc", backing).IsZero())
}

func TestIssueRequiresAllowance(t *testing.T) {
	f := setup(t, "usdc")
	require.NoError(t, f.led.Mint("usdc", holder, sdkmath.NewInt(1_000_000)))

	err := f.token.Issue(f.now, holder, oneToken)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
}

func TestIssueBlockedWhileBasketNotReady(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)

	// Invalidate the price band so the basket stops being ready.
	stale := f.now.Add(2 * time.Hour)
	require.ErrorIs(t, f.token.Issue(stale, holder, oneToken), ErrBasketNotReady)
}

func TestIssueThrottled(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 5_000_000)

	// The first issuance may use the full hourly capacity, not more.
	over := sdkmath.NewInt(1_000_001).Mul(oneToken)
	require.ErrorIs(t, f.token.Issue(f.now, holder, over), throttle.ErrThrottled)

	capacity := sdkmath.NewInt(1_000_000).Mul(oneToken)
	require.NoError(t, f.token.Issue(f.now, holder, capacity))

	require.ErrorIs(t, f.token.Issue(f.now, holder, oneToken), throttle.ErrThrottled)
}

func TestRedemptionRefillsIssuanceCapacity(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 5_000_000)

	capacity := sdkmath.NewInt(1_000_000).Mul(oneToken)
	require.NoError(t, f.token.Issue(f.now, holder, capacity))
	require.True(t, f.token.IssuanceAvailable(f.now).IsZero())

	require.NoError(t, f.token.Redeem(f.now, holder, capacity))

	// Redeeming credits the issuance throttle back up to its ceiling.
	require.Equal(t, capacity, f.token.IssuanceAvailable(f.now))
}

func TestRedeemPartialCollateralizationSteersToCustom(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)
	require.NoError(t, f.token.Issue(f.now, holder, oneToken))

	// Simulate a backing shortfall.
	require.NoError(t, f.led.Burn("usdc", backing, sdkmath.NewInt(500_000)))

	err := f.token.Redeem(f.now, holder, oneToken)
	require.ErrorIs(t, err, ErrPartialRedemption)
}

func TestRedeemCustomProratesOnShortfall(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)
	require.NoError(t, f.token.Issue(f.now, holder, oneToken))
	require.NoError(t, f.led.Burn("usdc", backing, sdkmath.NewInt(500_000)))

	before := f.led.BalanceOf("usdc", holder)
	err := f.token.RedeemCustom(f.now, holder, holder, oneToken,
		[]uint64{1}, []sdkmath.LegacyDec{dec("1")}, types.Quote{})
	require.NoError(t, err)

	// The payout is capped by what the backing actually holds.
	require.Equal(t, sdkmath.NewInt(500_000), f.led.BalanceOf("usdc", holder).Sub(before))
	require.True(t, f.token.TotalSupply().IsZero())
}

func TestRedeemCustomRevalidatesExpectedQuote(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)
	require.NoError(t, f.token.Issue(f.now, holder, oneToken))

	expected := types.Quote{
		Assets:     []types.AssetID{"usdc"},
		Quantities: map[types.AssetID]sdkmath.Int{"usdc": sdkmath.NewInt(2_000_000)},
	}
	err := f.token.RedeemCustom(f.now, holder, holder, oneToken,
		[]uint64{1}, []sdkmath.LegacyDec{dec("1")}, expected)
	require.ErrorIs(t, err, ErrQuoteBelowExpected)
}

func TestSetBasketsNeededEnforcesRateBounds(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)
	require.NoError(t, f.token.Issue(f.now, holder, oneToken))

	// A haircut to half the baskets is inside the bounds.
	require.NoError(t, f.token.SetBasketsNeeded(dec("0.5")))
	require.Equal(t, "0.500000000000000000", f.token.BasketsNeeded().String())

	// Below 1e-9 BU per token the state is a modeling error.
	err := f.token.SetBasketsNeeded(dec("0.0000000001"))
	require.ErrorIs(t, err, ErrRateOutOfBounds)
	require.Equal(t, "0.500000000000000000", f.token.BasketsNeeded().String())

	require.ErrorIs(t, f.token.Melt(dec("-1")), ErrInvalidAmount)
	require.NoError(t, f.token.Mint(dec("0.5")))
	require.Equal(t, "1.000000000000000000", f.token.BasketsNeeded().String())
}

func TestSnapshotRestore(t *testing.T) {
	f := setup(t, "usdc")
	f.fund(t, 10)
	require.NoError(t, f.token.Issue(f.now, holder, oneToken))

	snap := f.token.Snapshot()

	g := setup(t, "usdc")
	require.NoError(t, g.token.Restore(snap))
	require.Equal(t, f.token.TotalSupply(), g.token.TotalSupply())
	require.Equal(t, f.token.BasketsNeeded().String(), g.token.BasketsNeeded().String())

	bad := Snapshot{TotalSupply: sdkmath.NewInt(-1), BasketsNeeded: dec("0")}
	require.ErrorIs(t, g.token.Restore(bad), ErrInvalidAmount)
}

func TestMultiAssetIssuanceSplitsDeposit(t *testing.T) {
	f := setup(t, "usdc", "dai")
	f.fund(t, 10)

	require.NoError(t, f.token.Issue(f.now, holder, oneToken))
	require.Equal(t, sdkmath.NewInt(500_000), f.led.BalanceOf("usdc", backing))
	require.Equal(t, sdkmath.NewInt(500_000), f.led.BalanceOf("dai", backing))
}
