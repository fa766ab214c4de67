package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/reservoir-labs/bme/internal/backing"
	"github.com/reservoir-labs/bme/internal/basket"
	"github.com/reservoir-labs/bme/internal/collateral"
	"github.com/reservoir-labs/bme/internal/config"
	"github.com/reservoir-labs/bme/internal/keeper"
	"github.com/reservoir-labs/bme/internal/ledger"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/oracle"
	"github.com/reservoir-labs/bme/internal/registry"
	"github.com/reservoir-labs/bme/internal/rtoken"
	"github.com/reservoir-labs/bme/internal/stakepool"
	"github.com/reservoir-labs/bme/internal/state"
	"github.com/reservoir-labs/bme/internal/throttle"
	"github.com/reservoir-labs/bme/internal/trading"
	"github.com/reservoir-labs/bme/internal/types"
	"github.com/reservoir-labs/bme/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_PARAMS_CONFIG_NAME    = "default_protocol_params"
	DEFAULT_PARAMS_CONFIG_VERSION = 1

	backingAccount = types.AccountID("backing")
	stakeAccount   = types.AccountID("stake_pool")
	houseAccount   = types.AccountID("auction_house")
	stakeAsset     = types.AssetID("stake")
)

// main is the entry point for the basket management engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Basket management engine starting...")

	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load protocol parameters, seeding defaults on first run
	params, err := state.LoadActiveProtocolParams(DEFAULT_PARAMS_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active protocol parameters, using defaults and saving.")
		defaults := config.DefaultProtocolParams
		if _, serr := state.SaveProtocolParams(defaults, DEFAULT_PARAMS_CONFIG_NAME, DEFAULT_PARAMS_CONFIG_VERSION, true); serr != nil {
			log.Fatal().Err(serr).Msg("Failed to save initial default protocol parameters.")
		}
		params = &defaults
	}
	if err := config.ValidateProtocolParams(*params); err != nil {
		log.Fatal().Err(err).Msg("Active protocol parameters are invalid")
	}
	log.Info().Msg("Protocol parameters loaded successfully.")

	// --- 2. Engine Assembly ---
	led := ledger.NewMemory()
	feed := oracle.NewFeed()
	reg := registry.New()
	handler := basket.NewHandler(reg, params.WarmupPeriod)

	issuance, err := throttle.New(params.IssuanceThrottle, params.RechargePeriod)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build issuance throttle")
	}
	redemption, err := throttle.New(params.RedemptionThrottle, params.RechargePeriod)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build redemption throttle")
	}

	token := rtoken.New(types.AssetID(config.TokenSymbol), led, handler, issuance, redemption, backingAccount)
	pool := stakepool.NewLedgerPool(led, stakeAsset, stakeAccount)
	house := trading.NewMemoryHouse(led, houseAccount)
	manager := backing.NewManager(led, reg, handler, token, pool, house, *params, backingAccount)

	keeperInstance, err := keeper.New(keeper.Config{
		Ledger:     led,
		Feed:       feed,
		Registry:   reg,
		Basket:     handler,
		Token:      token,
		Manager:    manager,
		Pool:       pool,
		Params:     *params,
		TradeKind:  types.TradeKind(config.TradeKind),
		Persistent: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper instance")
	}

	if err := keeperInstance.LoadState(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load persisted engine state")
	}

	// First deployment: register the declared collateral and basket config.
	if path := os.Getenv("BME_ASSETS_FILE"); path != "" && len(reg.List()) == 0 {
		if err := bootstrapAssets(path, feed, reg, handler); err != nil {
			log.Fatal().Err(err).Msg("Failed to bootstrap assets")
		}
	}

	// --- 3. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, keeperInstance)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting status server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Keeper Main Loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	keeperInstance.RunLoop(ctx, config.KeeperInterval)
}

// bootstrapAssets registers collateral and basket configuration from a JSON
// file on a fresh deployment. The basket starts at nonce 1 immediately; it
// becomes ready once the oracle adapter has pushed prices.
func bootstrapAssets(path string, feed *oracle.Feed, reg *registry.Registry, handler *basket.Handler) error {
	assets, err := config.LoadAssetsFile(path)
	if err != nil {
		return err
	}

	for _, spec := range assets.Collateral {
		cfg, cerr := spec.CollateralConfig()
		if cerr != nil {
			return cerr
		}
		var c collateral.Collateral
		if spec.Appreciating {
			c, cerr = collateral.NewAppreciating(cfg, feed, feed)
		} else {
			c, cerr = collateral.NewFiat(cfg, feed)
		}
		if cerr != nil {
			return cerr
		}
		if rerr := reg.Register(c); rerr != nil {
			return rerr
		}
	}

	prime := make([]types.PrimeEntry, 0, len(assets.Prime))
	for _, p := range assets.Prime {
		entry, perr := p.Entry()
		if perr != nil {
			return perr
		}
		prime = append(prime, entry)
	}
	if err := handler.SetPrimeBasket(prime); err != nil {
		return err
	}
	for _, b := range assets.Backups {
		if berr := handler.SetBackupConfig(b.Config()); berr != nil {
			return berr
		}
	}

	if _, err := handler.RefreshBasket(time.Now()); err != nil {
		return err
	}
	log.Info().Int("collateral", len(assets.Collateral)).Msg("Assets bootstrapped from file")
	return nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
