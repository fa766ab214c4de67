// ./internal/state/registry_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/reservoir-labs/bme/internal/types"
)

// SaveCollateralSnapshot upserts the persisted view of one registered collateral.
func SaveCollateralSnapshot(snap types.CollateralSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal collateral snapshot for %s: %w", snap.Config.Asset, err)
	}

	stmt := `
        INSERT INTO collateral_registry (asset, snapshot, updated_at)
        VALUES ($1, $2, CURRENT_TIMESTAMP)
        ON CONFLICT (asset) DO UPDATE
        SET snapshot = EXCLUDED.snapshot, updated_at = CURRENT_TIMESTAMP;`
	if _, err := DB.Exec(stmt, string(snap.Config.Asset), payload); err != nil {
		return fmt.Errorf("failed to save collateral snapshot for %s: %w", snap.Config.Asset, err)
	}
	return nil
}

// DeleteCollateralSnapshot removes an unregistered collateral from the registry table.
func DeleteCollateralSnapshot(asset types.AssetID) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := DB.Exec(`DELETE FROM collateral_registry WHERE asset = $1;`, string(asset)); err != nil {
		return fmt.Errorf("failed to delete collateral snapshot for %s: %w", asset, err)
	}
	log.Warn().Str("asset", string(asset)).Msg("Collateral snapshot deleted")
	return nil
}

// LoadCollateralSnapshots loads all registered collateral snapshots.
func LoadCollateralSnapshots() ([]types.CollateralSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT snapshot FROM collateral_registry ORDER BY asset;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collateral registry: %w", err)
	}
	defer rows.Close()

	var snaps []types.CollateralSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan collateral snapshot: %w", err)
		}
		var snap types.CollateralSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collateral snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collateral registry: %w", err)
	}
	return snaps, nil
}
