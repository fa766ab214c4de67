package keeper

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/backing"
	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/rtoken"
	"github.com/reservoir-labs/bme/internal/stakepool"
	"github.com/reservoir-labs/bme/internal/throttle"
	"github.com/reservoir-labs/bme/internal/trading"
	"github.com/reservoir-labs/bme/internal/types"
)

const (
	backingAcct = types.AccountID("backing")
	poolAcct    = types.AccountID("stake_pool")
	houseAcct   = types.AccountID("auction_house")
	holderAcct  = types.AccountID("holder")
	bidderAcct  = types.AccountID("mm")
)

var hundredTokens = sdkmath.NewInt(100).Mul(sdkmath.NewInt(1_000_000_000_000_000_000))

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

type fixture struct {
	led    *ledger.Memory
	feed   *oracle.Feed
	reg    *registry.Registry
	keeper *Keeper
	now    time.Time
}

// setup assembles the whole engine without persistence: a 0.5 usdc / 0.5 dai
// basket with usdt as the USD backup, a funded stake pool, and 100 tokens
// issued to the holder.
func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		led:  ledger.NewMemory(),
		feed: oracle.NewFeed(),
		reg:  registry.New(),
		now:  time.Now(),
	}
	handler := basket.NewHandler(f.reg, 0)

	for _, id := range []types.AssetID{"usdc", "dai", "usdt", "stake"} {
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
	}
	f.reprice(f.now)

	require.NoError(t, handler.SetPrimeBasket([]types.PrimeEntry{
		{Asset: "usdc", TargetUnit: "USD", TargetAmt: dec("0.5")},
		{Asset: "dai", TargetUnit: "USD", TargetAmt: dec("0.5")},
	}))
	require.NoError(t, handler.SetBackupConfig(types.BackupConfig{
		TargetUnit: "USD", DiversityFactor: 1, Candidates: []types.AssetID{"usdt"},
	}))
	_, err := handler.RefreshBasket(f.now)
	require.NoError(t, err)

	issuance, err := throttle.New(types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(sdkmath.NewInt(1_000_000_000_000_000_000)),
		PctRate: dec("0.05"),
	}, time.Hour)
	require.NoError(t, err)
	redemption, err := throttle.New(types.ThrottleParams{
		AmtRate: sdkmath.NewInt(1_000_000).Mul(sdkmath.NewInt(1_000_000_000_000_000_000)),
		PctRate: dec("0.05"),
	}, time.Hour)
	require.NoError(t, err)

	token := rtoken.New("basket-usd", f.led, handler, issuance, redemption, backingAcct)
	pool := stakepool.NewLedgerPool(f.led, "stake", poolAcct)
	house := trading.NewMemoryHouse(f.led, houseAcct)

	params := types.ProtocolParams{
		DutchAuctionLength: 30 * time.Minute,
		BatchAuctionLength: 15 * time.Minute,
		BackingBuffer:      dec("0"),
		MaxTradeSlippage:   dec("0.01"),
		MinTradeVolume:     dec("1"),
		MaxTradeVolume:     dec("0"),
	}
	manager := backing.NewManager(f.led, f.reg, handler, token, pool, house, params, backingAcct)

	k, err := New(Config{
		Ledger:    f.led,
		Feed:      f.feed,
		Registry:  f.reg,
		Basket:    handler,
		Token:     token,
		Manager:   manager,
		Pool:      pool,
		Params:    params,
		TradeKind: types.TradeKindDutch,
	})
	require.NoError(t, err)
	f.keeper = k

	require.NoError(t, f.led.Mint("stake", poolAcct, sdkmath.NewInt(1_000_000_000)))
	for _, id := range []types.AssetID{"usdc", "dai"} {
		require.NoError(t, f.led.Mint(id, holderAcct, sdkmath.NewInt(1_000_000_000)))
		f.led.Approve(id, holderAcct, backingAcct, sdkmath.NewInt(1_000_000_000))
	}
	require.NoError(t, f.keeper.Issue(f.now, holderAcct, hundredTokens))
	return f
}

// reprice marks every asset at peg as of `at`. Tests depegging an asset
// override its price afterwards.
func (f *fixture) reprice(at time.Time) {
	for _, id := range []types.AssetID{"usdc", "dai", "usdt", "stake"} {
		f.feed.SetPrice(id, dec("1.0"), at)
	}
	f.reg.RefreshAll(at)
}

// fundBidder arms the market maker to fill one dutch trade.
func (f *fixture) fundBidder(t *testing.T, asset types.AssetID, tradeID string, amount int64) {
	t.Helper()
	amt := sdkmath.NewInt(amount)
	require.NoError(t, f.led.Mint(asset, bidderAcct, amt))
	f.led.Approve(asset, bidderAcct, trading.EscrowAccount(tradeID), amt)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{
		Ledger:    ledger.NewMemory(),
		Registry:  registry.New(),
		Basket:    basket.NewHandler(registry.New(), 0),
		Token:     &rtoken.Token{},
		Manager:   &backing.Manager{},
		TradeKind: types.TradeKind("twap"),
	})
	require.Error(t, err)
}

func TestHealthyCycleIsANoop(t *testing.T) {
	f := setup(t)

	f.keeper.RunCycle(f.now)

	require.Equal(t, 1, f.keeper.CycleCount())
	require.Empty(t, f.keeper.Trades(f.now))

	b := f.keeper.Basket(f.now)
	require.Equal(t, uint64(1), b.Nonce)
	require.Equal(t, "SOUND", b.Status)
	require.True(t, b.Ready)

	s := f.keeper.Supply(f.now)
	require.Equal(t, hundredTokens.String(), s.TotalSupply)
	require.True(t, s.FullyCollateralized)
}

// The full degradation arc: dai defaults, the cycle switches to the backup
// basket, the defaulted collateral is auctioned off, the usdt gap is covered
// partly by proceeds and partly by seized stake, and the system converges.
func TestCycleWorksOffCollateralDefault(t *testing.T) {
	f := setup(t)

	// Depeg dai and let the default confirm.
	f.feed.SetPrice("dai", dec("0.5"), f.now)
	f.reg.RefreshAll(f.now)

	t1 := f.now.Add(25 * time.Hour)
	f.reprice(t1)
	f.feed.SetPrice("dai", dec("0.5"), t1)

	// Cycle 1: switch to the backup basket and start selling the dai.
	f.keeper.RunCycle(t1)
	b := f.keeper.Basket(t1)
	require.Equal(t, uint64(2), b.Nonce)
	require.Contains(t, b.RefAmts, "usdt")
	require.NotContains(t, b.RefAmts, "dai")

	trades := f.keeper.Trades(t1)
	require.Len(t, trades, 1)
	require.Equal(t, "dai", trades[0].Sell)
	require.Equal(t, "usdt", trades[0].Buy)
	require.Equal(t, "50000000", trades[0].SellAmount)
	require.NotEmpty(t, trades[0].Price)

	// Fill the dai lot at the curve's best price of 0.5 usdt per dai.
	t2 := t1.Add(6 * time.Minute)
	f.fundBidder(t, "usdt", trades[0].ID, 25_000_000)
	paid, err := f.keeper.BidDutch(t2, "dai", bidderAcct)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(25_000_000), paid)

	// Cycle 2: settle the trade; the remaining usdt gap has no surplus left,
	// so stake is seized from the backstop.
	f.keeper.RunCycle(t2)
	require.Len(t, f.keeper.Receipts(), 1)
	require.Equal(t, sdkmath.NewInt(25_000_000), f.led.BalanceOf("usdt", backingAcct))
	require.Equal(t, sdkmath.NewInt(25_000_000), f.led.BalanceOf("stake", backingAcct))

	// Cycle 3: the seized stake goes up for auction.
	t3 := t2.Add(time.Minute)
	f.keeper.RunCycle(t3)
	trades = f.keeper.Trades(t3)
	require.Len(t, trades, 1)
	require.Equal(t, "stake", trades[0].Sell)
	require.Equal(t, "usdt", trades[0].Buy)

	t4 := t3.Add(6 * time.Minute)
	f.fundBidder(t, "usdt", trades[0].ID, 25_000_000)
	_, err = f.keeper.BidDutch(t4, "stake", bidderAcct)
	require.NoError(t, err)

	// Cycle 4: settle and converge.
	f.keeper.RunCycle(t4)
	require.Len(t, f.keeper.Receipts(), 2)

	s := f.keeper.Supply(t4)
	require.True(t, s.FullyCollateralized)
	require.Equal(t, "100.000000000000000000", s.BasketsNeeded)
	require.Empty(t, f.keeper.Trades(t4))
	require.Equal(t, 4, f.keeper.CycleCount())
}

func TestRedeemCustomThroughKeeperAfterSwitch(t *testing.T) {
	f := setup(t)

	// Force a basket switch so nonce 1 becomes historical.
	f.feed.SetPrice("dai", dec("0.5"), f.now)
	f.reg.RefreshAll(f.now)
	t1 := f.now.Add(25 * time.Hour)
	f.reprice(t1)
	f.feed.SetPrice("dai", dec("0.5"), t1)
	f.keeper.RunCycle(t1)

	// Mid-rebalancing the simple path refuses, the custom path still exits.
	oneToken := sdkmath.NewInt(1_000_000_000_000_000_000)
	require.ErrorIs(t, f.keeper.Redeem(t1, holderAcct, oneToken), rtoken.ErrPartialRedemption)

	err := f.keeper.RedeemCustom(t1, holderAcct, oneToken,
		[]uint64{1}, []sdkmath.LegacyDec{dec("1")}, types.Quote{})
	require.NoError(t, err)

	s := f.keeper.Supply(t1)
	require.Equal(t, hundredTokens.Sub(oneToken).String(), s.TotalSupply)
}
