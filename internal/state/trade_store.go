// ./internal/state/trade_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// SaveTradeReceipt appends a settled trade receipt.
func SaveTradeReceipt(r types.TradeReceipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO trade_receipts (trade_id, kind, sell, buy, sell_amount, sold_amount, bought_amount, bidder, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	var bidder sql.NullString
	if r.Bidder != "" {
		bidder = sql.NullString{String: string(r.Bidder), Valid: true}
	}
	_, err := DB.Exec(stmt,
		r.TradeID, string(r.Kind), string(r.Sell), string(r.Buy),
		r.SellAmount.String(), r.SoldAmount.String(), r.BoughtAmount.String(),
		bidder, r.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to save trade receipt %s: %w", r.TradeID, err)
	}
	return nil
}

// LoadRecentTradeReceipts loads up to limit receipts, newest first.
func LoadRecentTradeReceipts(limit int) ([]types.TradeReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`
        SELECT receipt_id, trade_id, kind, sell, buy, sell_amount, sold_amount, bought_amount, bidder, settled_at
        FROM trade_receipts
        ORDER BY settled_at DESC
        LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.TradeReceipt
	for rows.Next() {
		var (
			r                             types.TradeReceipt
			kind, sell, buy               string
			sellAmt, soldAmt, boughtAmt   string
			bidder                        sql.NullString
		)
		if err := rows.Scan(&r.ReceiptID, &r.TradeID, &kind, &sell, &buy,
			&sellAmt, &soldAmt, &boughtAmt, &bidder, &r.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade receipt: %w", err)
		}
		r.Kind = types.TradeKind(kind)
		r.Sell = types.AssetID(sell)
		r.Buy = types.AssetID(buy)
		if bidder.Valid {
			r.Bidder = types.AccountID(bidder.String)
		}
		var ok bool
		if r.SellAmount, ok = sdkmath.NewIntFromString(sellAmt); !ok {
			return nil, fmt.Errorf("failed to parse sell amount %q", sellAmt)
		}
		if r.SoldAmount, ok = sdkmath.NewIntFromString(soldAmt); !ok {
			return nil, fmt.Errorf("failed to parse sold amount %q", soldAmt)
		}
		if r.BoughtAmount, ok = sdkmath.NewIntFromString(boughtAmt); !ok {
			return nil, fmt.Errorf("failed to parse bought amount %q", boughtAmt)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trade receipts: %w", err)
	}
	return receipts, nil
}

// SaveCycleSnapshot records the engine state after one keeper cycle.
func SaveCycleSnapshot(s types.CycleSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO cycle_snapshots (cycle_number, snapshot_timestamp, basket_nonce, basket_status,
                                     total_supply, baskets_needed, baskets_held, trades_open, action)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := DB.Exec(stmt,
		s.CycleNumber, s.Timestamp, int64(s.BasketNonce), s.BasketStatus,
		s.TotalSupply.String(), s.BasketsNeeded.String(), s.BasketsHeld.String(),
		s.TradesOpen, s.Action)
	if err != nil {
		return fmt.Errorf("failed to save cycle snapshot %d: %w", s.CycleNumber, err)
	}
	return nil
}

// LoadRecentCycleSnapshots loads up to limit snapshots, newest first.
func LoadRecentCycleSnapshots(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`
        SELECT snapshot_id, cycle_number, snapshot_timestamp, basket_nonce, basket_status,
               total_supply, baskets_needed, baskets_held, trades_open, action
        FROM cycle_snapshots
        ORDER BY snapshot_timestamp DESC
        LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []types.CycleSnapshot
	for rows.Next() {
		var (
			s                             types.CycleSnapshot
			nonce                         int64
			supplyStr, neededStr, heldStr string
		)
		if err := rows.Scan(&s.SnapshotID, &s.CycleNumber, &s.Timestamp, &nonce, &s.BasketStatus,
			&supplyStr, &neededStr, &heldStr, &s.TradesOpen, &s.Action); err != nil {
			return nil, fmt.Errorf("failed to scan cycle snapshot: %w", err)
		}
		s.BasketNonce = uint64(nonce)
		var ok bool
		if s.TotalSupply, ok = sdkmath.NewIntFromString(supplyStr); !ok {
			return nil, fmt.Errorf("failed to parse total supply %q", supplyStr)
		}
		var perr error
		if s.BasketsNeeded, perr = sdkmath.LegacyNewDecFromStr(neededStr); perr != nil {
			return nil, fmt.Errorf("failed to parse baskets needed: %w", perr)
		}
		if s.BasketsHeld, perr = sdkmath.LegacyNewDecFromStr(heldStr); perr != nil {
			return nil, fmt.Errorf("failed to parse baskets held: %w", perr)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycle snapshots: %w", err)
	}
	return snaps, nil
}
