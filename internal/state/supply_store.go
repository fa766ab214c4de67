// ./internal/state/supply_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/throttle"
	"github.com/reservoir-labs/bme/internal/types"
)

// SaveSupply upserts the single-row supply state.
func SaveSupply(totalSupply sdkmath.Int, basketsNeeded sdkmath.LegacyDec) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO token_supply (id, total_supply, baskets_needed, updated_at)
        VALUES (1, $1, $2, CURRENT_TIMESTAMP)
        ON CONFLICT (id) DO UPDATE
        SET total_supply = EXCLUDED.total_supply,
            baskets_needed = EXCLUDED.baskets_needed,
            updated_at = CURRENT_TIMESTAMP;`
	if _, err := DB.Exec(stmt, totalSupply.String(), basketsNeeded.String()); err != nil {
		return fmt.Errorf("failed to save supply state: %w", err)
	}
	return nil
}

// LoadSupply loads the supply state. The bool reports whether a row existed.
func LoadSupply() (sdkmath.Int, sdkmath.LegacyDec, bool, error) {
	if DB == nil {
		return sdkmath.ZeroInt(), sdkmath.LegacyZeroDec(), false, fmt.Errorf("database not initialized")
	}

	var totalStr, basketsStr string
	err := DB.QueryRow(`SELECT total_supply, baskets_needed FROM token_supply WHERE id = 1;`).
		Scan(&totalStr, &basketsStr)
	if err == sql.ErrNoRows {
		return sdkmath.ZeroInt(), sdkmath.LegacyZeroDec(), false, nil
	}
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.LegacyZeroDec(), false, fmt.Errorf("failed to load supply state: %w", err)
	}

	total, ok := sdkmath.NewIntFromString(totalStr)
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.LegacyZeroDec(), false, fmt.Errorf("failed to parse total supply %q", totalStr)
	}
	baskets, err := sdkmath.LegacyNewDecFromStr(basketsStr)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.LegacyZeroDec(), false, fmt.Errorf("failed to parse baskets needed: %w", err)
	}
	return total, baskets, true, nil
}

// SaveThrottleState upserts one throttle's state under its name
// ("issuance" or "redemption").
func SaveThrottleState(name string, s throttle.State) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO throttle_state (name, amt_rate, pct_rate, last_available, last_timestamp, updated_at)
        VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
        ON CONFLICT (name) DO UPDATE
        SET amt_rate = EXCLUDED.amt_rate,
            pct_rate = EXCLUDED.pct_rate,
            last_available = EXCLUDED.last_available,
            last_timestamp = EXCLUDED.last_timestamp,
            updated_at = CURRENT_TIMESTAMP;`
	_, err := DB.Exec(stmt,
		name,
		s.Params.AmtRate.String(), s.Params.PctRate.String(),
		s.LastAvailable.String(), s.LastTimestamp)
	if err != nil {
		return fmt.Errorf("failed to save throttle state %s: %w", name, err)
	}
	return nil
}

// LoadThrottleState loads one throttle's state. The bool reports whether a
// row existed.
func LoadThrottleState(name string) (throttle.State, bool, error) {
	if DB == nil {
		return throttle.State{}, false, fmt.Errorf("database not initialized")
	}

	var (
		amtStr, pctStr, availStr string
		s                        throttle.State
	)
	err := DB.QueryRow(
		`SELECT amt_rate, pct_rate, last_available, last_timestamp FROM throttle_state WHERE name = $1;`,
		name,
	).Scan(&amtStr, &pctStr, &availStr, &s.LastTimestamp)
	if err == sql.ErrNoRows {
		return throttle.State{}, false, nil
	}
	if err != nil {
		return throttle.State{}, false, fmt.Errorf("failed to load throttle state %s: %w", name, err)
	}

	amt, ok := sdkmath.NewIntFromString(amtStr)
	if !ok {
		return throttle.State{}, false, fmt.Errorf("failed to parse throttle amtRate %q", amtStr)
	}
	s.Params = types.ThrottleParams{AmtRate: amt}
	if s.Params.PctRate, err = sdkmath.LegacyNewDecFromStr(pctStr); err != nil {
		return throttle.State{}, false, fmt.Errorf("failed to parse throttle pctRate: %w", err)
	}
	if s.LastAvailable, err = sdkmath.LegacyNewDecFromStr(availStr); err != nil {
		return throttle.State{}, false, fmt.Errorf("failed to parse throttle lastAvailable: %w", err)
	}
	return s, true, nil
}
