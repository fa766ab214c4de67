/*

This file contains the explicit collateral registry injected into the basket
handler and the backing manager. No ambient/static state: everything that needs
the asset list takes a *Registry.

*/

package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAlreadyRegistered = errors.New("asset already registered")
	ErrNotRegistered     = errors.New("asset not registered")
	ErrNilCollateral     = errors.New("collateral cannot be nil")
)

// Registry holds the set of registered collateral assets. Iteration order is
// deterministic (sorted by asset id) so surplus/deficit tie-breaking is stable.
type Registry struct {
	log    zerolog.Logger
	assets map[types.AssetID]collateral.Collateral
	order  []types.AssetID
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		log:    logger.GetForComponent("asset_registry"),
		assets: make(map[types.AssetID]collateral.Collateral),
	}
}

// Register adds a collateral asset. Registering an existing id is an error;
// swapping an implementation requires an explicit Unregister first.
func (r *Registry) Register(c collateral.Collateral) error {
	if c == nil {
		return ErrNilCollateral
	}
	id := c.ID()
	if _, exists := r.assets[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.assets[id] = c
	r.order = append(r.order, id)
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })

	r.log.Info().Str("asset", string(id)).Str("targetUnit", string(c.TargetUnit())).Msg("Collateral registered")
	return nil
}

// Unregister removes a collateral asset. The basket handler must exclude it on
// the next refresh; quotes referencing it silently skip it.
func (r *Registry) Unregister(id types.AssetID) error {
	if _, exists := r.assets[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	delete(r.assets, id)
	for i, a := range r.order {
		if a == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Warn().Str("asset", string(id)).Msg("Collateral unregistered")
	return nil
}

// IsRegistered reports whether an asset id is currently registered.
func (r *Registry) IsRegistered(id types.AssetID) bool {
	_, exists := r.assets[id]
	return exists
}

// Get returns the collateral for an asset id.
func (r *Registry) Get(id types.AssetID) (collateral.Collateral, error) {
	c, exists := r.assets[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return c, nil
}

// List returns all registered asset ids in deterministic order.
func (r *Registry) List() []types.AssetID {
	out := make([]types.AssetID, len(r.order))
	copy(out, r.order)
	return out
}

// RefreshAll refreshes every registered collateral. Anyone-callable and
// idempotent, matching the pull-based status model.
func (r *Registry) RefreshAll(now time.Time) {
	for _, id := range r.order {
		r.assets[id].Refresh(now)
	}
}
