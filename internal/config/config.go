package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// TokenSymbol is the ledger id of the basket token this instance manages.
	TokenSymbol string

	// KeeperInterval is how often the keeper cycle runs.
	KeeperInterval time.Duration

	// TradeKind selects the auction mechanism for rebalancing trades
	// ("DUTCH_AUCTION" or "BATCH_AUCTION").
	TradeKind string

	// WebPort is the port for the JSON status server.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	TokenSymbol, err = getEnv("BME_TOKEN_SYMBOL")
	if err != nil {
		return err
	}

	intervalSecs, err := getEnvAsUint64("BME_KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	KeeperInterval = time.Duration(intervalSecs) * time.Second

	TradeKind, err = getEnv("BME_TRADE_KIND")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Str("TokenSymbol", TokenSymbol).
		Dur("KeeperInterval", KeeperInterval).
		Str("TradeKind", TradeKind).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
