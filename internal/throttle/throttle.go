/*

This file contains the reusable supply-change rate limiter used once for
issuance and once for redemption. Capacity recharges linearly over the
recharge period toward a ceiling of max(amtRate, pctRate * totalSupply),
recomputed lazily at use time so a growing supply raises the percentage
ceiling automatically.

*/

package throttle

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrThrottled     = errors.New("supply change throttled")
	ErrInvalidParams = errors.New("throttle params are invalid")
)

// State is the persistable view of a throttle.
type State struct {
	Params        types.ThrottleParams `json:"params"`
	LastAvailable sdkmath.LegacyDec    `json:"last_available"`
	LastTimestamp time.Time            `json:"last_timestamp"`
}

// Throttle is a token-bucket-style limiter over base-unit amounts.
// It starts full: the first use may consume the entire ceiling.
type Throttle struct {
	params         types.ThrottleParams
	rechargePeriod time.Duration

	lastAvailable sdkmath.LegacyDec
	lastTimestamp time.Time
	initialized   bool
}

func validateParams(p types.ThrottleParams) error {
	if p.AmtRate.IsNil() || p.AmtRate.IsNegative() {
		return fmt.Errorf("%w: amtRate must be non-negative", ErrInvalidParams)
	}
	if p.PctRate.IsNil() || p.PctRate.IsNegative() || p.PctRate.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: pctRate must be in [0, 1]", ErrInvalidParams)
	}
	return nil
}

// New creates a throttle with the given params and recharge period.
func New(params types.ThrottleParams, rechargePeriod time.Duration) (*Throttle, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if rechargePeriod <= 0 {
		return nil, fmt.Errorf("%w: recharge period must be positive", ErrInvalidParams)
	}
	return &Throttle{
		params:         params,
		rechargePeriod: rechargePeriod,
		lastAvailable:  sdkmath.LegacyZeroDec(),
	}, nil
}

// ceiling is max(amtRate, pctRate * supply) in base units, at use time.
func (t *Throttle) ceiling(supply sdkmath.Int) sdkmath.LegacyDec {
	amt := sdkmath.LegacyNewDecFromInt(t.params.AmtRate)
	pct := t.params.PctRate.MulInt(supply)
	return utils.MaxDec(amt, pct)
}

// Available returns the capacity at the given instant:
// min(ceiling, lastAvailable + ceiling * elapsed / rechargePeriod).
func (t *Throttle) Available(now time.Time, supply sdkmath.Int) sdkmath.LegacyDec {
	ceiling := t.ceiling(supply)
	if !t.initialized {
		return ceiling
	}
	elapsed := now.Sub(t.lastTimestamp)
	if elapsed < 0 {
		elapsed = 0
	}
	recharged := ceiling.
		MulInt64(elapsed.Nanoseconds()).
		QuoInt64(t.rechargePeriod.Nanoseconds())
	return utils.MinDec(ceiling, t.lastAvailable.Add(recharged))
}

// Use debits (positive amount) or credits (negative amount) the throttle.
// Debits beyond the available capacity fail without state change; credits are
// clamped at the ceiling so capacity can never be banked above the limit.
// A throttle with both rates zero is disabled and admits everything.
func (t *Throttle) Use(now time.Time, supply sdkmath.Int, amount sdkmath.Int) error {
	if amount.IsNil() {
		return fmt.Errorf("%w: amount is nil", ErrInvalidParams)
	}
	ceiling := t.ceiling(supply)
	if ceiling.IsZero() {
		return nil
	}

	available := t.Available(now, supply)
	amountDec := sdkmath.LegacyNewDecFromInt(amount)
	if amount.IsPositive() && amountDec.GT(available) {
		return fmt.Errorf("%w: requested %s, available %s",
			ErrThrottled, amount, available.TruncateInt())
	}

	next := available.Sub(amountDec)
	if next.GT(ceiling) {
		next = ceiling
	}
	if next.IsNegative() {
		next = sdkmath.LegacyZeroDec()
	}
	t.lastAvailable = next
	t.lastTimestamp = now
	t.initialized = true
	return nil
}

// SetParams swaps in new rates. Accrued capacity is settled under the old
// params first so the change cannot grant retroactive free capacity.
func (t *Throttle) SetParams(now time.Time, supply sdkmath.Int, params types.ThrottleParams) error {
	if err := validateParams(params); err != nil {
		return err
	}
	settled := t.Available(now, supply)
	t.params = params
	t.lastAvailable = utils.MinDec(settled, t.ceiling(supply))
	t.lastTimestamp = now
	t.initialized = true
	return nil
}

// Params returns the current throttle params.
func (t *Throttle) Params() types.ThrottleParams {
	return t.params
}

// State returns the persistable view of the throttle.
func (t *Throttle) State() State {
	return State{
		Params:        t.params,
		LastAvailable: t.lastAvailable,
		LastTimestamp: t.lastTimestamp,
	}
}

// Restore rehydrates the throttle from persisted state.
func (t *Throttle) Restore(s State) error {
	if err := validateParams(s.Params); err != nil {
		return err
	}
	if s.LastAvailable.IsNil() || s.LastAvailable.IsNegative() {
		return fmt.Errorf("%w: lastAvailable must be non-negative", ErrInvalidParams)
	}
	t.params = s.Params
	t.lastAvailable = s.LastAvailable
	t.lastTimestamp = s.LastTimestamp
	t.initialized = !s.LastTimestamp.IsZero()
	return nil
}
