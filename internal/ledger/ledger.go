/*

This file defines the token-transfer boundary. All collateral and token
movements in the engine go through a Ledger; each call is atomic, calls are
never batched. The in-memory implementation mirrors ERC20 bookkeeping
(balances plus owner->spender allowances) and is what the engine runs against
in tests and local deployments.

*/

package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the external transfer primitive the engine is built against.
type Ledger interface {
	BalanceOf(asset types.AssetID, account types.AccountID) sdkmath.Int
	Transfer(asset types.AssetID, from, to types.AccountID, amount sdkmath.Int) error
	TransferFrom(asset types.AssetID, spender, from, to types.AccountID, amount sdkmath.Int) error
	Approve(asset types.AssetID, owner, spender types.AccountID, amount sdkmath.Int)
	Allowance(asset types.AssetID, owner, spender types.AccountID) sdkmath.Int
	Mint(asset types.AssetID, to types.AccountID, amount sdkmath.Int) error
	Burn(asset types.AssetID, from types.AccountID, amount sdkmath.Int) error
}

type balanceKey struct {
	asset   types.AssetID
	account types.AccountID
}

type allowanceKey struct {
	asset   types.AssetID
	owner   types.AccountID
	spender types.AccountID
}

// Memory is an in-memory Ledger. Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	balances   map[balanceKey]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[balanceKey]sdkmath.Int),
		allowances: make(map[allowanceKey]sdkmath.Int),
	}
}

// BalanceOf returns the balance for (asset, account); zero if never credited.
func (m *Memory) BalanceOf(asset types.AssetID, account types.AccountID) sdkmath.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance(asset, account)
}

func (m *Memory) balance(asset types.AssetID, account types.AccountID) sdkmath.Int {
	if bal, ok := m.balances[balanceKey{asset, account}]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// Transfer moves amount from one account to another.
func (m *Memory) Transfer(asset types.AssetID, from, to types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(asset, from, to, amount)
}

func (m *Memory) move(asset types.AssetID, from, to types.AccountID, amount sdkmath.Int) error {
	bal := m.balance(asset, from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, from, bal, asset, amount)
	}
	m.balances[balanceKey{asset, from}] = bal.Sub(amount)
	m.balances[balanceKey{asset, to}] = m.balance(asset, to).Add(amount)
	return nil
}

// TransferFrom moves amount from `from` to `to`, spending `spender`'s allowance.
// A spender moving its own funds does not consume allowance.
func (m *Memory) TransferFrom(asset types.AssetID, spender, from, to types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if spender != from {
		key := allowanceKey{asset, from, spender}
		allowed, ok := m.allowances[key]
		if !ok || allowed.LT(amount) {
			have := sdkmath.ZeroInt()
			if ok {
				have = allowed
			}
			return fmt.Errorf("%w: %s allowed %s of %s by %s, needs %s",
				ErrInsufficientAllowance, spender, have, asset, from, amount)
		}
		if err := m.move(asset, from, to, amount); err != nil {
			return err
		}
		m.allowances[key] = allowed.Sub(amount)
		return nil
	}
	return m.move(asset, from, to, amount)
}

// Approve sets spender's allowance over owner's funds.
func (m *Memory) Approve(asset types.AssetID, owner, spender types.AccountID, amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{asset, owner, spender}] = amount
}

// Allowance returns spender's remaining allowance over owner's funds.
func (m *Memory) Allowance(asset types.AssetID, owner, spender types.AccountID) sdkmath.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if allowed, ok := m.allowances[allowanceKey{asset, owner, spender}]; ok {
		return allowed
	}
	return sdkmath.ZeroInt()
}

// Mint credits new supply of an asset to an account.
func (m *Memory) Mint(asset types.AssetID, to types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{asset, to}] = m.balance(asset, to).Add(amount)
	return nil
}

// Burn destroys amount of an asset held by an account.
func (m *Memory) Burn(asset types.AssetID, from types.AccountID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balance(asset, from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s of %s, burning %s",
			ErrInsufficientBalance, from, bal, asset, amount)
	}
	m.balances[balanceKey{asset, from}] = bal.Sub(amount)
	return nil
}
