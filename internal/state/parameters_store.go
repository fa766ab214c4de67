// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/reservoir-labs/bme/internal/types"
)

// SaveProtocolParams saves a new version of protocol parameters.
func SaveProtocolParams(params types.ProtocolParams, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE protocol_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO protocol_parameters (
            version, config_name, is_active, activated_at, created_at,
            warmup_seconds, trading_delay_seconds, dutch_auction_seconds, batch_auction_seconds, recharge_seconds,
            backing_buffer, max_trade_slippage, min_trade_volume, max_trade_volume,
            issuance_amt_rate, issuance_pct_rate, redemption_amt_rate, redemption_pct_rate
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8, $9, $10,
            $11, $12, $13, $14,
            $15, $16, $17, $18
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		int64(params.WarmupPeriod.Seconds()), int64(params.TradingDelay.Seconds()),
		int64(params.DutchAuctionLength.Seconds()), int64(params.BatchAuctionLength.Seconds()),
		int64(params.RechargePeriod.Seconds()),
		params.BackingBuffer.String(), params.MaxTradeSlippage.String(),
		params.MinTradeVolume.String(), params.MaxTradeVolume.String(),
		params.IssuanceThrottle.AmtRate.String(), params.IssuanceThrottle.PctRate.String(),
		params.RedemptionThrottle.AmtRate.String(), params.RedemptionThrottle.PctRate.String(),
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert protocol parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit protocol parameters: %w", err)
	}

	log.Info().
		Int64("paramsID", paramsID).
		Str("configName", configName).
		Int("version", version).
		Bool("active", makeActive).
		Msg("Protocol parameters saved")
	return paramsID, nil
}

// LoadActiveProtocolParams loads the active parameter version for a config name.
func LoadActiveProtocolParams(configName string) (*types.ProtocolParams, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT warmup_seconds, trading_delay_seconds, dutch_auction_seconds, batch_auction_seconds, recharge_seconds,
               backing_buffer, max_trade_slippage, min_trade_volume, max_trade_volume,
               issuance_amt_rate, issuance_pct_rate, redemption_amt_rate, redemption_pct_rate
        FROM protocol_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var (
		warmup, tradingDelay, dutchLen, batchLen, recharge           int64
		backingBuffer, maxSlippage, minVolume, maxVolume             string
		issuanceAmt, issuancePct, redemptionAmt, redemptionPct       string
	)
	err := DB.QueryRow(query, configName).Scan(
		&warmup, &tradingDelay, &dutchLen, &batchLen, &recharge,
		&backingBuffer, &maxSlippage, &minVolume, &maxVolume,
		&issuanceAmt, &issuancePct, &redemptionAmt, &redemptionPct,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active protocol parameters for config %s", configName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol parameters: %w", err)
	}

	params := types.ProtocolParams{
		WarmupPeriod:       time.Duration(warmup) * time.Second,
		TradingDelay:       time.Duration(tradingDelay) * time.Second,
		DutchAuctionLength: time.Duration(dutchLen) * time.Second,
		BatchAuctionLength: time.Duration(batchLen) * time.Second,
		RechargePeriod:     time.Duration(recharge) * time.Second,
	}
	if params.BackingBuffer, err = sdkmath.LegacyNewDecFromStr(backingBuffer); err != nil {
		return nil, fmt.Errorf("failed to parse backing buffer: %w", err)
	}
	if params.MaxTradeSlippage, err = sdkmath.LegacyNewDecFromStr(maxSlippage); err != nil {
		return nil, fmt.Errorf("failed to parse max trade slippage: %w", err)
	}
	if params.MinTradeVolume, err = sdkmath.LegacyNewDecFromStr(minVolume); err != nil {
		return nil, fmt.Errorf("failed to parse min trade volume: %w", err)
	}
	if params.MaxTradeVolume, err = sdkmath.LegacyNewDecFromStr(maxVolume); err != nil {
		return nil, fmt.Errorf("failed to parse max trade volume: %w", err)
	}

	issuanceAmtInt, ok := sdkmath.NewIntFromString(issuanceAmt)
	if !ok {
		return nil, fmt.Errorf("failed to parse issuance amtRate %q", issuanceAmt)
	}
	redemptionAmtInt, ok := sdkmath.NewIntFromString(redemptionAmt)
	if !ok {
		return nil, fmt.Errorf("failed to parse redemption amtRate %q", redemptionAmt)
	}
	params.IssuanceThrottle.AmtRate = issuanceAmtInt
	params.RedemptionThrottle.AmtRate = redemptionAmtInt
	if params.IssuanceThrottle.PctRate, err = sdkmath.LegacyNewDecFromStr(issuancePct); err != nil {
		return nil, fmt.Errorf("failed to parse issuance pctRate: %w", err)
	}
	if params.RedemptionThrottle.PctRate, err = sdkmath.LegacyNewDecFromStr(redemptionPct); err != nil {
		return nil, fmt.Errorf("failed to parse redemption pctRate: %w", err)
	}

	return &params, nil
}
