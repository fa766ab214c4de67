package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/reservoir-labs/bme/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoCollateral = errors.New("assets file declares no collateral")
)

// AssetSpec declares one collateral asset for first-run registration.
// Durations are Go duration strings ("1h", "15m"); ratios are decimal strings.
type AssetSpec struct {
	Asset             string `json:"asset"`
	TargetUnit        string `json:"target_unit"`
	Decimals          int    `json:"decimals"`
	PriceTimeout      string `json:"price_timeout"`
	OracleTimeout     string `json:"oracle_timeout"`
	OracleError       string `json:"oracle_error"`
	DefaultThreshold  string `json:"default_threshold"`
	DelayUntilDefault string `json:"delay_until_default"`
	RevenueHiding     string `json:"revenue_hiding"`
	Appreciating      bool   `json:"appreciating"`
}

// PrimeSpec is one prime basket line.
type PrimeSpec struct {
	Asset      string `json:"asset"`
	TargetUnit string `json:"target_unit"`
	TargetAmt  string `json:"target_amt"`
}

// BackupSpec is the fallback candidate list for one target unit.
type BackupSpec struct {
	TargetUnit      string   `json:"target_unit"`
	DiversityFactor int      `json:"diversity_factor"`
	Candidates      []string `json:"candidates"`
}

// AssetsFile is the bootstrap declaration for a fresh deployment: which
// collateral to register, the prime basket, and the backup configs.
type AssetsFile struct {
	Collateral []AssetSpec  `json:"collateral"`
	Prime      []PrimeSpec  `json:"prime"`
	Backups    []BackupSpec `json:"backups"`
}

// LoadAssetsFile reads and validates a bootstrap assets file.
func LoadAssetsFile(path string) (*AssetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets file %s: %w", path, err)
	}
	var f AssetsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse assets file %s: %w", path, err)
	}
	if len(f.Collateral) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCollateral, path)
	}
	return &f, nil
}

// CollateralConfig converts the declaration into a validated domain config.
func (s AssetSpec) CollateralConfig() (types.CollateralConfig, error) {
	priceTimeout, err := time.ParseDuration(s.PriceTimeout)
	if err != nil {
		return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid price_timeout: %w", s.Asset, err)
	}
	oracleTimeout, err := time.ParseDuration(s.OracleTimeout)
	if err != nil {
		return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid oracle_timeout: %w", s.Asset, err)
	}
	delay, err := time.ParseDuration(s.DelayUntilDefault)
	if err != nil {
		return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid delay_until_default: %w", s.Asset, err)
	}
	oracleError, err := sdkmath.LegacyNewDecFromStr(s.OracleError)
	if err != nil {
		return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid oracle_error: %w", s.Asset, err)
	}
	threshold, err := sdkmath.LegacyNewDecFromStr(s.DefaultThreshold)
	if err != nil {
		return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid default_threshold: %w", s.Asset, err)
	}
	hiding := sdkmath.LegacyZeroDec()
	if s.RevenueHiding != "" {
		hiding, err = sdkmath.LegacyNewDecFromStr(s.RevenueHiding)
		if err != nil {
			return types.CollateralConfig{}, fmt.Errorf("asset %s: invalid revenue_hiding: %w", s.Asset, err)
		}
	}

	return types.CollateralConfig{
		Asset:             types.AssetID(s.Asset),
		TargetUnit:        types.TargetUnit(s.TargetUnit),
		Decimals:          s.Decimals,
		PriceTimeout:      priceTimeout,
		OracleTimeout:     oracleTimeout,
		OracleError:       oracleError,
		DefaultThreshold:  threshold,
		DelayUntilDefault: delay,
		RevenueHiding:     hiding,
	}, nil
}

// Entry converts the declaration into a prime basket entry.
func (p PrimeSpec) Entry() (types.PrimeEntry, error) {
	amt, err := sdkmath.LegacyNewDecFromStr(p.TargetAmt)
	if err != nil {
		return types.PrimeEntry{}, fmt.Errorf("prime entry %s: invalid target_amt: %w", p.Asset, err)
	}
	return types.PrimeEntry{
		Asset:      types.AssetID(p.Asset),
		TargetUnit: types.TargetUnit(p.TargetUnit),
		TargetAmt:  amt,
	}, nil
}

// Config converts the declaration into a backup config.
func (b BackupSpec) Config() types.BackupConfig {
	candidates := make([]types.AssetID, 0, len(b.Candidates))
	for _, c := range b.Candidates {
		candidates = append(candidates, types.AssetID(c))
	}
	return types.BackupConfig{
		TargetUnit:      types.TargetUnit(b.TargetUnit),
		DiversityFactor: b.DiversityFactor,
		Candidates:      candidates,
	}
}
