package throttle

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/types"
)

func params(amt int64, pct string) types.ThrottleParams {
	return types.ThrottleParams{
		AmtRate: sdkmath.NewInt(amt),
		PctRate: sdkmath.LegacyMustNewDecFromStr(pct),
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	_, err := New(types.ThrottleParams{AmtRate: sdkmath.NewInt(-1), PctRate: sdkmath.LegacyZeroDec()}, time.Hour)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = New(params(100, "1.5"), time.Hour)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = New(params(100, "0"), 0)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestStartsFullAndDepletes(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()

	require.Equal(t, "100.000000000000000000", th.Available(now, supply).String())

	// Full capacity is usable immediately.
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(100)))
	require.True(t, th.Available(now, supply).IsZero())

	// A further debit fails without state change.
	err = th.Use(now, supply, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrThrottled)
	require.True(t, th.Available(now, supply).IsZero())
}

func TestLinearRecharge(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(100)))

	// Half the period restores half the ceiling.
	half := now.Add(30 * time.Minute)
	require.Equal(t, sdkmath.NewInt(50), th.Available(half, supply).TruncateInt())

	// Recharge never exceeds the ceiling.
	later := now.Add(10 * time.Hour)
	require.Equal(t, sdkmath.NewInt(100), th.Available(later, supply).TruncateInt())
}

func TestAvailableIsMonotonicWhileIdle(t *testing.T) {
	th, err := New(params(1000, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(700)))

	prev := th.Available(now, supply)
	for i := 1; i <= 12; i++ {
		at := now.Add(time.Duration(i) * 5 * time.Minute)
		cur := th.Available(at, supply)
		require.True(t, cur.GTE(prev), "available dropped from %s to %s", prev, cur)
		prev = cur
	}
}

func TestPercentCeilingScalesWithSupply(t *testing.T) {
	th, err := New(params(100, "0.1"), time.Hour)
	require.NoError(t, err)

	now := time.Now()

	// amtRate floor applies at small supply.
	require.Equal(t, sdkmath.NewInt(100), th.Available(now, sdkmath.NewInt(500)).TruncateInt())

	// pctRate takes over once 10% of supply exceeds the floor.
	require.Equal(t, sdkmath.NewInt(1000), th.Available(now, sdkmath.NewInt(10_000)).TruncateInt())
}

func TestZeroCeilingAdmitsEverything(t *testing.T) {
	th, err := New(params(0, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, th.Use(now, sdkmath.ZeroInt(), sdkmath.NewInt(1_000_000)))
}

func TestCreditClampsAtCeiling(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(40)))

	// Crediting more than was used cannot bank capacity above the limit.
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(-500)))
	require.Equal(t, sdkmath.NewInt(100), th.Available(now, supply).TruncateInt())
}

func TestSetParamsSettlesUnderOldRates(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(100)))

	// Raise the ceiling after half a period of recharge under the old rates.
	half := now.Add(30 * time.Minute)
	require.NoError(t, th.SetParams(half, supply, params(1000, "0")))

	// Only the 50 units accrued under the old ceiling carry over.
	require.Equal(t, sdkmath.NewInt(50), th.Available(half, supply).TruncateInt())

	// Recharge continues at the new ceiling's rate.
	later := half.Add(30 * time.Minute)
	require.Equal(t, sdkmath.NewInt(550), th.Available(later, supply).TruncateInt())
}

func TestSetParamsClampsToLowerCeiling(t *testing.T) {
	th, err := New(params(1000, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()

	require.NoError(t, th.SetParams(now, supply, params(100, "0")))
	require.Equal(t, sdkmath.NewInt(100), th.Available(now, supply).TruncateInt())
}

func TestStateRoundTrip(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	now := time.Now()
	supply := sdkmath.ZeroInt()
	require.NoError(t, th.Use(now, supply, sdkmath.NewInt(60)))

	restored, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(th.State()))

	at := now.Add(15 * time.Minute)
	require.Equal(t, th.Available(at, supply).String(), restored.Available(at, supply).String())
}

func TestRestoreRejectsNegativeAvailable(t *testing.T) {
	th, err := New(params(100, "0"), time.Hour)
	require.NoError(t, err)

	err = th.Restore(State{
		Params:        params(100, "0"),
		LastAvailable: sdkmath.LegacyMustNewDecFromStr("-1"),
		LastTimestamp: time.Now(),
	})
	require.ErrorIs(t, err, ErrInvalidParams)
}
