/*

This file models the backstop capital pool at its interface: staked capital
held in a designated asset that the backing manager may seize to cover a
shortfall before resorting to a haircut. Stake accounting beyond availability
and seizure (reward distribution, unstaking queues) is out of scope.

*/

package stakepool

import (
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount = errors.New("seize amount must be positive")
)

// Pool exposes backstop capital to the backing manager. Seize may return less
// than requested; it never fails on an empty pool, it seizes zero.
type Pool interface {
	Asset() types.AssetID
	Available() sdkmath.Int
	Seize(amount sdkmath.Int, to types.AccountID) (sdkmath.Int, error)
}

// LedgerPool is a Pool holding its stake in a ledger account.
type LedgerPool struct {
	log     zerolog.Logger
	led     ledger.Ledger
	asset   types.AssetID
	account types.AccountID
}

// NewLedgerPool creates a pool over the given ledger account.
func NewLedgerPool(led ledger.Ledger, asset types.AssetID, account types.AccountID) *LedgerPool {
	return &LedgerPool{
		log:     logger.GetForComponent("stake_pool"),
		led:     led,
		asset:   asset,
		account: account,
	}
}

// Asset returns the staking asset the pool holds.
func (p *LedgerPool) Asset() types.AssetID { return p.asset }

// Available returns the seizable stake.
func (p *LedgerPool) Available() sdkmath.Int {
	return p.led.BalanceOf(p.asset, p.account)
}

// Seize moves up to amount of stake to the given account and returns what was
// actually seized.
func (p *LedgerPool) Seize(amount sdkmath.Int, to types.AccountID) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	seized := utils.MinInt(amount, p.Available())
	if seized.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if err := p.led.Transfer(p.asset, p.account, to, seized); err != nil {
		return sdkmath.ZeroInt(), err
	}
	p.log.Warn().
		Str("requested", amount.String()).
		Str("seized", seized.String()).
		Str("to", string(to)).
		Msg("Backstop capital seized")
	return seized, nil
}
