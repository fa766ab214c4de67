/*

This file contains the basket handler: it owns the prime basket and the
per-target backup configurations, computes the current basket on every switch,
and quotes collateral quantities for issuance and redemption. Baskets are
versioned under a strictly increasing nonce and old versions are kept forever,
so redemption against a historical nonce is a lookup, never a reconstruction.

*/

package basket

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoPrimeBasket    = errors.New("prime basket is not set")
	ErrInvalidPrime     = errors.New("prime basket entry is invalid")
	ErrInvalidBackup    = errors.New("backup config is invalid")
	ErrBasketDisabled   = errors.New("basket is disabled")
	ErrBasketNotReady   = errors.New("basket is not ready")
	ErrInvalidAmount    = errors.New("basket unit amount must be positive")
	ErrInvalidPortions  = errors.New("portions must be positive and sum to exactly one")
	ErrUnknownNonce     = errors.New("unknown basket nonce")
	ErrEmptyRedemption  = errors.New("empty redemption")
	ErrAssetUnavailable = errors.New("basket asset is unavailable")
)

// Handler owns basket selection and quoting.
type Handler struct {
	log zerolog.Logger
	reg *registry.Registry

	warmupPeriod time.Duration

	prime   []types.PrimeEntry
	backups map[types.TargetUnit]types.BackupConfig

	history []types.Basket // history[i].Nonce == uint64(i)+1
	current types.Basket

	lastStatus  types.CollateralStatus
	lastSoundAt time.Time
}

// NewHandler creates a basket handler over the given registry.
func NewHandler(reg *registry.Registry, warmupPeriod time.Duration) *Handler {
	return &Handler{
		log:          logger.GetForComponent("basket_handler"),
		reg:          reg,
		warmupPeriod: warmupPeriod,
		backups:      make(map[types.TargetUnit]types.BackupConfig),
		lastStatus:   types.StatusDisabled,
	}
}

// SetPrimeBasket replaces the governance-declared target weights. It does not
// switch the basket by itself; callers follow up with RefreshBasket.
func (h *Handler) SetPrimeBasket(entries []types.PrimeEntry) error {
	if len(entries) == 0 {
		return ErrNoPrimeBasket
	}
	seen := make(map[types.AssetID]bool, len(entries))
	for _, e := range entries {
		if e.Asset == "" || e.TargetUnit == "" {
			return fmt.Errorf("%w: missing asset or target unit", ErrInvalidPrime)
		}
		if e.TargetAmt.IsNil() || !e.TargetAmt.IsPositive() {
			return fmt.Errorf("%w: %s target weight must be positive", ErrInvalidPrime, e.Asset)
		}
		if seen[e.Asset] {
			return fmt.Errorf("%w: %s appears twice", ErrInvalidPrime, e.Asset)
		}
		seen[e.Asset] = true
	}
	h.prime = make([]types.PrimeEntry, len(entries))
	copy(h.prime, entries)
	h.log.Info().Int("entries", len(entries)).Msg("Prime basket set")
	return nil
}

// SetBackupConfig replaces the fallback candidate list for one target unit.
func (h *Handler) SetBackupConfig(cfg types.BackupConfig) error {
	if cfg.TargetUnit == "" {
		return fmt.Errorf("%w: missing target unit", ErrInvalidBackup)
	}
	if cfg.DiversityFactor <= 0 {
		return fmt.Errorf("%w: diversity factor must be positive", ErrInvalidBackup)
	}
	if len(cfg.Candidates) == 0 {
		return fmt.Errorf("%w: candidate list is empty", ErrInvalidBackup)
	}
	h.backups[cfg.TargetUnit] = cfg
	h.log.Info().
		Str("targetUnit", string(cfg.TargetUnit)).
		Int("diversity", cfg.DiversityFactor).
		Int("candidates", len(cfg.Candidates)).
		Msg("Backup config set")
	return nil
}

// RefreshBasket recomputes the current basket from the prime basket, replacing
// DISABLED or unregistered entries from their target unit's backup config. The
// nonce increases on every call. When a target unit cannot muster its diversity
// factor of SOUND candidates the new basket is set empty and disabled: no
// basket is better than an invalid one.
func (h *Handler) RefreshBasket(now time.Time) (types.Basket, error) {
	if len(h.prime) == 0 {
		return types.Basket{}, ErrNoPrimeBasket
	}

	refAmts := make(map[types.AssetID]sdkmath.LegacyDec)
	var order []types.AssetID
	add := func(id types.AssetID, amt sdkmath.LegacyDec) {
		if existing, ok := refAmts[id]; ok {
			// Same underlying asset selected twice: quantities combine.
			refAmts[id] = existing.Add(amt)
			return
		}
		refAmts[id] = amt
		order = append(order, id)
	}

	needed := make(map[types.TargetUnit]sdkmath.LegacyDec)
	var neededOrder []types.TargetUnit

	for _, e := range h.prime {
		c, err := h.reg.Get(e.Asset)
		if err == nil && c.Status(now) != types.StatusDisabled {
			add(e.Asset, e.TargetAmt.Quo(c.TargetPerRef()))
			continue
		}
		if _, ok := needed[e.TargetUnit]; !ok {
			needed[e.TargetUnit] = sdkmath.LegacyZeroDec()
			neededOrder = append(neededOrder, e.TargetUnit)
		}
		needed[e.TargetUnit] = needed[e.TargetUnit].Add(e.TargetAmt)
	}

	disabled := false
	for _, tu := range neededOrder {
		cfg, ok := h.backups[tu]
		if !ok {
			h.log.Error().Str("targetUnit", string(tu)).Msg("No backup config for defaulted target unit")
			disabled = true
			break
		}

		var selected []types.AssetID
		for _, cand := range cfg.Candidates {
			if len(selected) == cfg.DiversityFactor {
				break
			}
			c, err := h.reg.Get(cand)
			if err != nil || c.TargetUnit() != tu || c.Status(now) != types.StatusSound {
				continue
			}
			selected = append(selected, cand)
		}
		if len(selected) < cfg.DiversityFactor {
			h.log.Error().
				Str("targetUnit", string(tu)).
				Int("sound", len(selected)).
				Int("required", cfg.DiversityFactor).
				Msg("Not enough SOUND backup candidates")
			disabled = true
			break
		}

		// Missing weight splits evenly across the selected candidates.
		share := needed[tu].Quo(sdkmath.LegacyNewDec(int64(len(selected))))
		for _, id := range selected {
			c, _ := h.reg.Get(id)
			add(id, share.Quo(c.TargetPerRef()))
		}
	}

	nonce := h.current.Nonce + 1
	if disabled {
		h.current = types.Basket{Nonce: nonce, Disabled: true, CreatedAt: now}
	} else {
		h.current = types.Basket{
			Nonce:     nonce,
			Assets:    order,
			RefAmts:   refAmts,
			CreatedAt: now,
		}
	}
	h.history = append(h.history, h.current)

	// A fresh basket restarts the warmup clock even if it is immediately SOUND.
	h.lastStatus = types.StatusDisabled
	h.TrackStatus(now)

	h.log.Info().
		Uint64("nonce", nonce).
		Bool("disabled", h.current.Disabled).
		Int("assets", len(h.current.Assets)).
		Str("status", h.Status(now).String()).
		Msg("Basket refreshed")
	return h.current, nil
}

// Current returns the current basket version.
func (h *Handler) Current() types.Basket {
	return h.current
}

// Nonce returns the current basket nonce; zero means no basket has been set.
func (h *Handler) Nonce() uint64 {
	return h.current.Nonce
}

// ByNonce returns a historical basket version.
func (h *Handler) ByNonce(nonce uint64) (types.Basket, error) {
	if nonce == 0 || nonce > uint64(len(h.history)) {
		return types.Basket{}, fmt.Errorf("%w: %d", ErrUnknownNonce, nonce)
	}
	return h.history[nonce-1], nil
}

// Restore rehydrates basket history from persisted state.
func (h *Handler) Restore(history []types.Basket) error {
	for i, b := range history {
		if b.Nonce != uint64(i)+1 {
			return fmt.Errorf("%w: history gap at %d", ErrUnknownNonce, b.Nonce)
		}
	}
	h.history = make([]types.Basket, len(history))
	copy(h.history, history)
	if len(history) > 0 {
		h.current = history[len(history)-1]
	}
	return nil
}

// Status is the worst status among current basket constituents. An empty,
// disabled, or unset basket reads as DISABLED; an unregistered constituent
// poisons the whole basket.
func (h *Handler) Status(now time.Time) types.CollateralStatus {
	if h.current.Nonce == 0 || h.current.Disabled || h.current.Empty() {
		return types.StatusDisabled
	}
	worst := types.StatusSound
	for _, id := range h.current.Assets {
		c, err := h.reg.Get(id)
		if err != nil {
			return types.StatusDisabled
		}
		worst = worst.Worse(c.Status(now))
	}
	return worst
}

// TrackStatus records status transitions so the warmup clock starts when
// SOUND is regained. Callable by anyone, idempotent.
func (h *Handler) TrackStatus(now time.Time) {
	s := h.Status(now)
	if s == types.StatusSound && h.lastStatus != types.StatusSound {
		h.lastSoundAt = now
		h.log.Info().Time("since", now).Msg("Basket regained SOUND, warmup started")
	}
	h.lastStatus = s
}

// IsReady reports whether the basket may serve issuance and trading: SOUND,
// past warmup since the last SOUND regain, and every constituent priced.
func (h *Handler) IsReady(now time.Time) bool {
	h.TrackStatus(now)
	if h.lastStatus != types.StatusSound {
		return false
	}
	if h.lastSoundAt.IsZero() || now.Sub(h.lastSoundAt) < h.warmupPeriod {
		return false
	}
	for _, id := range h.current.Assets {
		c, err := h.reg.Get(id)
		if err != nil {
			return false
		}
		if _, err := c.Price(now); err != nil {
			return false
		}
	}
	return true
}

// Quote returns the exact per-collateral base-unit quantities for buAmount
// basket units at the current basket's ratios.
func (h *Handler) Quote(now time.Time, buAmount sdkmath.LegacyDec, mode types.RoundingMode) (types.Quote, error) {
	if buAmount.IsNil() || !buAmount.IsPositive() {
		return types.Quote{}, ErrInvalidAmount
	}
	if h.current.Nonce == 0 || h.current.Disabled || h.current.Empty() {
		return types.Quote{}, ErrBasketDisabled
	}

	q := types.Quote{Quantities: make(map[types.AssetID]sdkmath.Int)}
	for _, id := range h.current.Assets {
		qty, err := h.quantity(now, h.current, id, buAmount, mode)
		if err != nil {
			return types.Quote{}, err
		}
		q.Assets = append(q.Assets, id)
		q.Quantities[id] = qty
	}
	return q, nil
}

// quantity converts one basket line into base units: refAmt * buAmount / refPerTok.
func (h *Handler) quantity(now time.Time, b types.Basket, id types.AssetID, buAmount sdkmath.LegacyDec, mode types.RoundingMode) (sdkmath.Int, error) {
	c, err := h.reg.Get(id)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrAssetUnavailable, id)
	}
	refPerTok := c.RefPerTok()
	if refPerTok.IsNil() || refPerTok.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s has no reference rate", ErrAssetUnavailable, id)
	}
	whole := b.RefAmts[id].Mul(buAmount).Quo(refPerTok)
	return utils.WholeToBase(whole, c.Decimals(), mode)
}

// QuoteCustom returns a prorated multi-nonce redemption quote. Portions must
// sum to exactly one. Collateral that is no longer registered is silently
// skipped; a quote with zero effective line items is an error.
func (h *Handler) QuoteCustom(now time.Time, nonces []uint64, portions []sdkmath.LegacyDec, buAmount sdkmath.LegacyDec) (types.Quote, error) {
	if buAmount.IsNil() || !buAmount.IsPositive() {
		return types.Quote{}, ErrInvalidAmount
	}
	if len(nonces) == 0 || len(nonces) != len(portions) {
		return types.Quote{}, ErrInvalidPortions
	}
	sum := sdkmath.LegacyZeroDec()
	for _, p := range portions {
		if p.IsNil() || !p.IsPositive() {
			return types.Quote{}, ErrInvalidPortions
		}
		sum = sum.Add(p)
	}
	if !sum.Equal(sdkmath.LegacyOneDec()) {
		return types.Quote{}, ErrInvalidPortions
	}

	whole := make(map[types.AssetID]sdkmath.LegacyDec)
	var order []types.AssetID
	for i, nonce := range nonces {
		b, err := h.ByNonce(nonce)
		if err != nil {
			return types.Quote{}, err
		}
		for _, id := range b.Assets {
			c, err := h.reg.Get(id)
			if err != nil {
				continue // unregistered collateral quotes as zero
			}
			refPerTok := c.RefPerTok()
			if refPerTok.IsNil() || refPerTok.IsZero() {
				continue
			}
			amt := b.RefAmts[id].Mul(portions[i]).Mul(buAmount).Quo(refPerTok)
			if existing, ok := whole[id]; ok {
				whole[id] = existing.Add(amt)
				continue
			}
			whole[id] = amt
			order = append(order, id)
		}
	}

	q := types.Quote{Quantities: make(map[types.AssetID]sdkmath.Int)}
	effective := false
	for _, id := range order {
		c, err := h.reg.Get(id)
		if err != nil {
			continue
		}
		qty, err := utils.WholeToBase(whole[id], c.Decimals(), types.RoundFloor)
		if err != nil {
			return types.Quote{}, err
		}
		q.Assets = append(q.Assets, id)
		q.Quantities[id] = qty
		if qty.IsPositive() {
			effective = true
		}
	}
	if !effective {
		return types.Quote{}, ErrEmptyRedemption
	}
	return q, nil
}

// BasketsHeld values an account's holdings in basket units: the minimum across
// constituents of balance divided by the per-BU quantity.
func (h *Handler) BasketsHeld(now time.Time, balance func(types.AssetID) sdkmath.Int) sdkmath.LegacyDec {
	if h.current.Nonce == 0 || h.current.Disabled || h.current.Empty() {
		return sdkmath.LegacyZeroDec()
	}
	held := sdkmath.LegacyZeroDec()
	first := true
	for _, id := range h.current.Assets {
		c, err := h.reg.Get(id)
		if err != nil {
			return sdkmath.LegacyZeroDec()
		}
		refPerTok := c.RefPerTok()
		if refPerTok.IsNil() || refPerTok.IsZero() {
			return sdkmath.LegacyZeroDec()
		}
		qtyPerBU := h.current.RefAmts[id].Quo(refPerTok)
		if qtyPerBU.IsZero() {
			continue
		}
		balWhole, err := utils.BaseToWhole(balance(id), c.Decimals())
		if err != nil {
			return sdkmath.LegacyZeroDec()
		}
		units := balWhole.Quo(qtyPerBU)
		if first || units.LT(held) {
			held = units
			first = false
		}
	}
	return held
}

// FullyCollateralized reports whether an account's holdings cover the needed
// basket units at the current basket's ratios.
func (h *Handler) FullyCollateralized(now time.Time, balance func(types.AssetID) sdkmath.Int, basketsNeeded sdkmath.LegacyDec) bool {
	return h.BasketsHeld(now, balance).GTE(basketsNeeded)
}
