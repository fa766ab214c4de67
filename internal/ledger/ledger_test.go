package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/types"
)

const (
	usdc  = types.AssetID("usdc")
	alice = types.AccountID("alice")
	bob   = types.AccountID("bob")
	carol = types.AccountID("carol")
)

func TestMintAndTransfer(t *testing.T) {
	led := NewMemory()

	require.NoError(t, led.Mint(usdc, alice, sdkmath.NewInt(1000)))
	require.Equal(t, sdkmath.NewInt(1000), led.BalanceOf(usdc, alice))
	require.True(t, led.BalanceOf(usdc, bob).IsZero())

	require.NoError(t, led.Transfer(usdc, alice, bob, sdkmath.NewInt(400)))
	require.Equal(t, sdkmath.NewInt(600), led.BalanceOf(usdc, alice))
	require.Equal(t, sdkmath.NewInt(400), led.BalanceOf(usdc, bob))
}

func TestTransferInsufficientBalance(t *testing.T) {
	led := NewMemory()
	require.NoError(t, led.Mint(usdc, alice, sdkmath.NewInt(10)))

	err := led.Transfer(usdc, alice, bob, sdkmath.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	// Nothing moved.
	require.Equal(t, sdkmath.NewInt(10), led.BalanceOf(usdc, alice))
	require.True(t, led.BalanceOf(usdc, bob).IsZero())
}

func TestTransferRejectsNonPositiveAmounts(t *testing.T) {
	led := NewMemory()
	require.ErrorIs(t, led.Transfer(usdc, alice, bob, sdkmath.ZeroInt()), ErrInvalidAmount)
	require.ErrorIs(t, led.Transfer(usdc, alice, bob, sdkmath.NewInt(-5)), ErrInvalidAmount)
	require.ErrorIs(t, led.Mint(usdc, alice, sdkmath.ZeroInt()), ErrInvalidAmount)
	require.ErrorIs(t, led.Burn(usdc, alice, sdkmath.ZeroInt()), ErrInvalidAmount)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	led := NewMemory()
	require.NoError(t, led.Mint(usdc, alice, sdkmath.NewInt(1000)))
	led.Approve(usdc, alice, bob, sdkmath.NewInt(300))

	require.NoError(t, led.TransferFrom(usdc, bob, alice, carol, sdkmath.NewInt(200)))
	require.Equal(t, sdkmath.NewInt(100), led.Allowance(usdc, alice, bob))
	require.Equal(t, sdkmath.NewInt(200), led.BalanceOf(usdc, carol))

	err := led.TransferFrom(usdc, bob, alice, carol, sdkmath.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestTransferFromOwnFundsSkipsAllowance(t *testing.T) {
	led := NewMemory()
	require.NoError(t, led.Mint(usdc, alice, sdkmath.NewInt(100)))

	// No approval needed when the spender is the source account.
	require.NoError(t, led.TransferFrom(usdc, alice, alice, bob, sdkmath.NewInt(100)))
	require.Equal(t, sdkmath.NewInt(100), led.BalanceOf(usdc, bob))
}

func TestBurn(t *testing.T) {
	led := NewMemory()
	require.NoError(t, led.Mint(usdc, alice, sdkmath.NewInt(100)))

	require.NoError(t, led.Burn(usdc, alice, sdkmath.NewInt(60)))
	require.Equal(t, sdkmath.NewInt(40), led.BalanceOf(usdc, alice))

	require.ErrorIs(t, led.Burn(usdc, alice, sdkmath.NewInt(41)), ErrInsufficientBalance)
}
