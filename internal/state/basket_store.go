// ./internal/state/basket_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/reservoir-labs/bme/internal/types"
)

// SaveBasket appends one basket version. Baskets are immutable; saving the
// same nonce twice is a no-op rather than an overwrite.
func SaveBasket(b types.Basket) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	contents, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal basket %d: %w", b.Nonce, err)
	}

	stmt := `
        INSERT INTO baskets (nonce, disabled, contents, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (nonce) DO NOTHING;`
	if _, err := DB.Exec(stmt, int64(b.Nonce), b.Disabled, contents, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to save basket %d: %w", b.Nonce, err)
	}
	return nil
}

// LoadBaskets loads the full basket history in nonce order.
func LoadBaskets() ([]types.Basket, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT contents FROM baskets ORDER BY nonce;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query baskets: %w", err)
	}
	defer rows.Close()

	var baskets []types.Basket
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan basket: %w", err)
		}
		var b types.Basket
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal basket: %w", err)
		}
		baskets = append(baskets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate baskets: %w", err)
	}
	return baskets, nil
}
