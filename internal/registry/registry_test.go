package registry

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/types"
)

func newFiat(t *testing.T, asset types.AssetID, feed oracle.PriceFeed) collateral.Collateral {
	t.Helper()
	c, err := collateral.NewFiat(types.CollateralConfig{
		Asset:             asset,
		TargetUnit:        "USD",
		Decimals:          6,
		PriceTimeout:      time.Hour,
		OracleTimeout:     15 * time.Minute,
		OracleError:       sdkmath.LegacyMustNewDecFromStr("0.01"),
		DefaultThreshold:  sdkmath.LegacyMustNewDecFromStr("0.05"),
		DelayUntilDefault: 24 * time.Hour,
		RevenueHiding:     sdkmath.LegacyZeroDec(),
	}, feed)
	require.NoError(t, err)
	return c
}

func TestRegisterAndGet(t *testing.T) {
	feed := oracle.NewFeed()
	reg := New()

	require.NoError(t, reg.Register(newFiat(t, "usdc", feed)))
	require.True(t, reg.IsRegistered("usdc"))

	c, err := reg.Get("usdc")
	require.NoError(t, err)
	require.Equal(t, types.AssetID("usdc"), c.ID())

	_, err = reg.Get("dai")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterDuplicateFails(t *testing.T) {
	feed := oracle.NewFeed()
	reg := New()

	require.NoError(t, reg.Register(newFiat(t, "usdc", feed)))
	err := reg.Register(newFiat(t, "usdc", feed))
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestListIsSorted(t *testing.T) {
	feed := oracle.NewFeed()
	reg := New()

	for _, id := range []types.AssetID{"usdt", "dai", "usdc"} {
		require.NoError(t, reg.Register(newFiat(t, id, feed)))
	}
	require.Equal(t, []types.AssetID{"dai", "usdc", "usdt"}, reg.List())
}

func TestUnregister(t *testing.T) {
	feed := oracle.NewFeed()
	reg := New()

	require.NoError(t, reg.Register(newFiat(t, "usdc", feed)))
	require.NoError(t, reg.Unregister("usdc"))
	require.False(t, reg.IsRegistered("usdc"))
	require.ErrorIs(t, reg.Unregister("usdc"), ErrNotRegistered)
}

func TestRefreshAllTouchesEveryAsset(t *testing.T) {
	feed := oracle.NewFeed()
	reg := New()
	now := time.Now()

	require.NoError(t, reg.Register(newFiat(t, "usdc", feed)))
	require.NoError(t, reg.Register(newFiat(t, "dai", feed)))

	feed.SetPrice("usdc", sdkmath.LegacyOneDec(), now)
	feed.SetPrice("dai", sdkmath.LegacyMustNewDecFromStr("0.90"), now)
	reg.RefreshAll(now)

	usdc, _ := reg.Get("usdc")
	dai, _ := reg.Get("dai")
	require.Equal(t, types.StatusSound, usdc.Status(now))
	require.Equal(t, types.StatusIffy, dai.Status(now))
}
