package trading

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/types"
)

const houseAcct = types.AccountID("house")

func openBatch(t *testing.T, led *ledger.Memory, house AuctionHouse, now time.Time) *Batch {
	t.Helper()
	require.NoError(t, led.Mint(sellAsset, seller, sdkmath.NewInt(1_000_000)))
	b, err := NewBatch(led, house, seller, sellAsset, buyAsset,
		sdkmath.NewInt(1_000_000), sdkmath.NewInt(990_000), now, 15*time.Minute)
	require.NoError(t, err)
	return b
}

func TestNewBatchValidation(t *testing.T) {
	led := ledger.NewMemory()
	house := NewMemoryHouse(led, houseAcct)
	now := time.Now()

	_, err := NewBatch(led, house, seller, sellAsset, buyAsset,
		sdkmath.ZeroInt(), sdkmath.ZeroInt(), now, time.Minute)
	require.ErrorIs(t, err, ErrInvalidTrade)

	_, err = NewBatch(led, house, seller, sellAsset, buyAsset,
		sdkmath.NewInt(1), sdkmath.NewInt(-1), now, time.Minute)
	require.ErrorIs(t, err, ErrInvalidTrade)

	_, err = NewBatch(led, house, seller, sellAsset, buyAsset,
		sdkmath.NewInt(1), sdkmath.ZeroInt(), now, 0)
	require.ErrorIs(t, err, ErrInvalidTrade)
}

func TestBatchHandsLotToHouse(t *testing.T) {
	led := ledger.NewMemory()
	house := NewMemoryHouse(led, houseAcct)
	now := time.Now()
	b := openBatch(t, led, house, now)

	require.True(t, led.BalanceOf(sellAsset, seller).IsZero())
	require.Equal(t, sdkmath.NewInt(1_000_000), led.BalanceOf(sellAsset, houseAcct))
	require.NotEmpty(t, b.AuctionID())
}

func TestBatchFilledSettlement(t *testing.T) {
	led := ledger.NewMemory()
	house := NewMemoryHouse(led, houseAcct)
	now := time.Now()
	b := openBatch(t, led, house, now)

	require.NoError(t, led.Mint(buyAsset, buyer, sdkmath.NewInt(995_000)))
	led.Approve(buyAsset, buyer, houseAcct, sdkmath.NewInt(995_000))
	require.NoError(t, house.PlaceBid(b.AuctionID(), buyer, sdkmath.NewInt(995_000)))

	// The bidder holds the lot as soon as the bid clears.
	require.Equal(t, sdkmath.NewInt(1_000_000), led.BalanceOf(sellAsset, buyer))

	// Settlement is strictly after the window, even when already filled.
	require.False(t, b.CanSettle(now.Add(10*time.Minute)))

	ended := now.Add(15 * time.Minute)
	sold, bought, err := b.Settle(ended, seller)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), sold)
	require.Equal(t, sdkmath.NewInt(995_000), bought)
	require.Equal(t, sdkmath.NewInt(995_000), led.BalanceOf(buyAsset, seller))
}

func TestBatchUnfilledReturnsLot(t *testing.T) {
	led := ledger.NewMemory()
	house := NewMemoryHouse(led, houseAcct)
	now := time.Now()
	b := openBatch(t, led, house, now)

	ended := now.Add(15 * time.Minute)
	sold, bought, err := b.Settle(ended, seller)
	require.NoError(t, err)
	require.True(t, sold.IsZero())
	require.True(t, bought.IsZero())
	require.Equal(t, sdkmath.NewInt(1_000_000), led.BalanceOf(sellAsset, seller))
}

func TestHouseRejectsLowBids(t *testing.T) {
	led := ledger.NewMemory()
	house := NewMemoryHouse(led, houseAcct)
	now := time.Now()
	b := openBatch(t, led, house, now)

	require.NoError(t, led.Mint(buyAsset, buyer, sdkmath.NewInt(2_000_000)))
	led.Approve(buyAsset, buyer, houseAcct, sdkmath.NewInt(2_000_000))

	err := house.PlaceBid(b.AuctionID(), buyer, sdkmath.NewInt(989_999))
	require.ErrorIs(t, err, ErrBidTooSmall)

	require.NoError(t, house.PlaceBid(b.AuctionID(), buyer, sdkmath.NewInt(990_000)))

	// Only the first clearing bid wins.
	err = house.PlaceBid(b.AuctionID(), buyer, sdkmath.NewInt(990_000))
	require.ErrorIs(t, err, ErrAuctionFilled)

	require.ErrorIs(t, house.PlaceBid("nope", buyer, sdkmath.NewInt(990_000)), ErrUnknownAuction)
}

// failingHouse rejects every submission.
type failingHouse struct {
	account types.AccountID
}

func (f *failingHouse) Account() types.AccountID { return f.account }
func (f *failingHouse) Submit(sell, buy types.AssetID, sellAmount, minBuy sdkmath.Int, duration time.Duration) (string, error) {
	return "", errors.New("house is closed")
}
func (f *failingHouse) Result(auctionID string) (bool, sdkmath.Int, error) {
	return false, sdkmath.ZeroInt(), errors.New("house is closed")
}

func TestBatchReturnsLotWhenSubmissionFails(t *testing.T) {
	led := ledger.NewMemory()
	now := time.Now()
	require.NoError(t, led.Mint(sellAsset, seller, sdkmath.NewInt(1_000_000)))

	_, err := NewBatch(led, &failingHouse{account: houseAcct}, seller, sellAsset, buyAsset,
		sdkmath.NewInt(1_000_000), sdkmath.ZeroInt(), now, time.Minute)
	require.Error(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), led.BalanceOf(sellAsset, seller))
}
