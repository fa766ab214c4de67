// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS protocol_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			warmup_seconds BIGINT NOT NULL,
			trading_delay_seconds BIGINT NOT NULL,
			dutch_auction_seconds BIGINT NOT NULL,
			batch_auction_seconds BIGINT NOT NULL,
			recharge_seconds BIGINT NOT NULL,
			backing_buffer NUMERIC(40, 18) NOT NULL,
			max_trade_slippage NUMERIC(40, 18) NOT NULL,
			min_trade_volume NUMERIC(40, 18) NOT NULL,
			max_trade_volume NUMERIC(40, 18) NOT NULL,
			issuance_amt_rate NUMERIC(60, 0) NOT NULL,
			issuance_pct_rate NUMERIC(40, 18) NOT NULL,
			redemption_amt_rate NUMERIC(60, 0) NOT NULL,
			redemption_pct_rate NUMERIC(40, 18) NOT NULL,
			CONSTRAINT uq_protocol_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_protocol_parameters_config_active ON protocol_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS collateral_registry (
			asset VARCHAR(64) PRIMARY KEY,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS baskets (
			nonce BIGINT PRIMARY KEY,
			disabled BOOLEAN NOT NULL,
			contents JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_baskets_created ON baskets(created_at DESC);

		CREATE TABLE IF NOT EXISTS token_supply (
			id INTEGER PRIMARY KEY DEFAULT 1,
			total_supply NUMERIC(60, 0) NOT NULL,
			baskets_needed NUMERIC(60, 18) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT token_supply_single_row CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS throttle_state (
			name VARCHAR(32) PRIMARY KEY,
			amt_rate NUMERIC(60, 0) NOT NULL,
			pct_rate NUMERIC(40, 18) NOT NULL,
			last_available NUMERIC(60, 18) NOT NULL,
			last_timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS trade_receipts (
			receipt_id SERIAL PRIMARY KEY,
			trade_id VARCHAR(64) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			sell VARCHAR(64) NOT NULL,
			buy VARCHAR(64) NOT NULL,
			sell_amount NUMERIC(60, 0) NOT NULL,
			sold_amount NUMERIC(60, 0) NOT NULL,
			bought_amount NUMERIC(60, 0) NOT NULL,
			bidder VARCHAR(128),
			settled_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trade_receipts_settled ON trade_receipts(settled_at DESC);
		CREATE INDEX IF NOT EXISTS idx_trade_receipts_sell ON trade_receipts(sell);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			basket_nonce BIGINT NOT NULL,
			basket_status VARCHAR(16) NOT NULL,
			total_supply NUMERIC(60, 0) NOT NULL,
			baskets_needed NUMERIC(60, 18) NOT NULL,
			baskets_held NUMERIC(60, 18) NOT NULL,
			trades_open INTEGER NOT NULL,
			action TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);

		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
