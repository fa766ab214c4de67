/*

This file contains an in-memory auction house used for local deployments and
tests. It honors the AuctionHouse contract: it takes delivery of the sell lot
at submission, accepts at most one winning bid at or above the minimum, and
reports the outcome at settlement time.

*/

package trading

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownAuction = errors.New("unknown auction")
	ErrAuctionFilled  = errors.New("auction already has a winning bid")
)

type auctionRecord struct {
	sell, buy  types.AssetID
	sellAmount sdkmath.Int
	minBuy     sdkmath.Int
	filled     bool
	bought     sdkmath.Int
}

// MemoryHouse is an in-memory AuctionHouse. Safe for concurrent use.
type MemoryHouse struct {
	mu       sync.Mutex
	led      ledger.Ledger
	account  types.AccountID
	auctions map[string]*auctionRecord
}

// NewMemoryHouse creates an auction house holding its inventory on the ledger.
func NewMemoryHouse(led ledger.Ledger, account types.AccountID) *MemoryHouse {
	return &MemoryHouse{
		led:      led,
		account:  account,
		auctions: make(map[string]*auctionRecord),
	}
}

// Account returns the house's ledger account.
func (h *MemoryHouse) Account() types.AccountID { return h.account }

// Submit registers an auction for the given lot.
func (h *MemoryHouse) Submit(sell, buy types.AssetID, sellAmount, minBuy sdkmath.Int, duration time.Duration) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	h.auctions[id] = &auctionRecord{
		sell:       sell,
		buy:        buy,
		sellAmount: sellAmount,
		minBuy:     minBuy,
		bought:     sdkmath.ZeroInt(),
	}
	return id, nil
}

// PlaceBid records a sealed bid: the bidder pays buyAmount to the house
// (allowance to the house account required) and takes the lot. Only the first
// bid at or above the minimum wins.
func (h *MemoryHouse) PlaceBid(auctionID string, bidder types.AccountID, buyAmount sdkmath.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.auctions[auctionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAuction, auctionID)
	}
	if rec.filled {
		return ErrAuctionFilled
	}
	if buyAmount.IsNil() || buyAmount.LT(rec.minBuy) {
		return fmt.Errorf("%w: bid %s, minimum %s", ErrBidTooSmall, buyAmount, rec.minBuy)
	}

	if err := h.led.TransferFrom(rec.buy, h.account, bidder, h.account, buyAmount); err != nil {
		return err
	}
	if err := h.led.Transfer(rec.sell, h.account, bidder, rec.sellAmount); err != nil {
		return err
	}
	rec.filled = true
	rec.bought = buyAmount
	return nil
}

// Result reports the auction outcome.
func (h *MemoryHouse) Result(auctionID string) (bool, sdkmath.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.auctions[auctionID]
	if !ok {
		return false, sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrUnknownAuction, auctionID)
	}
	return rec.filled, rec.bought, nil
}
