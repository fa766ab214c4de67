/*

This file defines the price oracle boundary. The engine never talks to a price
source directly: collateral assets consume a PriceFeed and decide staleness for
themselves against their own oracle timeout.

*/

package oracle

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoPrice = errors.New("no price recorded for asset")
	ErrNoRatio = errors.New("no ratio recorded for asset")
)

// Observation is a single price report: a value in USD per whole token, and
// the time at which the source produced it. Staleness is judged by the consumer.
type Observation struct {
	Value     sdkmath.LegacyDec `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// PriceFeed returns the most recent observation for an asset.
type PriceFeed interface {
	Price(asset types.AssetID) (Observation, error)
}

// RatioFeed returns the reference-per-token exchange rate for an
// interest-bearing asset (e.g. how much underlying one wrapped token redeems for).
type RatioFeed interface {
	RefPerTok(asset types.AssetID) (sdkmath.LegacyDec, error)
}

// Feed is an in-memory PriceFeed and RatioFeed fed by an external poller (or a
// test). Safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	prices map[types.AssetID]Observation
	ratios map[types.AssetID]sdkmath.LegacyDec
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		prices: make(map[types.AssetID]Observation),
		ratios: make(map[types.AssetID]sdkmath.LegacyDec),
	}
}

// SetPrice records an observation for an asset.
func (f *Feed) SetPrice(asset types.AssetID, value sdkmath.LegacyDec, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = Observation{Value: value, Timestamp: at}
}

// SetRefPerTok records the reference-per-token rate for an asset.
func (f *Feed) SetRefPerTok(asset types.AssetID, ratio sdkmath.LegacyDec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratios[asset] = ratio
}

// Price implements PriceFeed.
func (f *Feed) Price(asset types.AssetID) (Observation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	obs, ok := f.prices[asset]
	if !ok {
		return Observation{}, ErrNoPrice
	}
	return obs, nil
}

// RefPerTok implements RatioFeed.
func (f *Feed) RefPerTok(asset types.AssetID) (sdkmath.LegacyDec, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ratio, ok := f.ratios[asset]
	if !ok {
		return sdkmath.LegacyZeroDec(), ErrNoRatio
	}
	return ratio, nil
}
