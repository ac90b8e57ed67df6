package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime settings for the risk engine daemon.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Risk    RiskConfig    `toml:"risk"`
	Oracle  OracleConfig  `toml:"oracle"`
	Fees    FeesConfig    `toml:"fees"`
	Vault   VaultConfig   `toml:"vault"`
	Roles   RolesConfig   `toml:"roles"`
}

// ServiceConfig describes the daemon's operational surface.
type ServiceConfig struct {
	ListenAddress string `toml:"listen"`
	Environment   string `toml:"environment"`
}

// RiskConfig groups the risk parameters and treasury accounts.
type RiskConfig struct {
	TargetLTVBps        uint64 `toml:"TargetLTVBps"`
	LiquidationLTVBps   uint64 `toml:"LiquidationLTVBps"`
	BaseRateBps         uint64 `toml:"BaseRateBps"`
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	PoolAccount         string `toml:"PoolAccount"`
	CollateralAccount   string `toml:"CollateralAccount"`
	CollateralAsset     string `toml:"CollateralAsset"`
}

// OracleConfig captures the feed freshness and deviation tolerances.
type OracleConfig struct {
	StalenessSeconds int64  `toml:"StalenessSeconds"`
	DeviationBps     uint64 `toml:"DeviationBps"`
}

// FeesConfig seeds the fee schedule.
type FeesConfig struct {
	OriginationFeeBps uint64   `toml:"OriginationFeeBps"`
	ExchangeFeeBps    uint64   `toml:"ExchangeFeeBps"`
	ProDiscountBps    uint64   `toml:"ProDiscountBps"`
	MinBorrowWei      *big.Int `toml:"MinBorrowWei"`
	Collector         string   `toml:"Collector"`
}

// VaultConfig parameterises the compound policy evaluated by the scheduler.
type VaultConfig struct {
	ExpectedAPRBps          uint64 `toml:"ExpectedAPRBps"`
	CompoundIntervalSeconds int64  `toml:"CompoundIntervalSeconds"`
	SafetyMultiplierBps     uint64 `toml:"SafetyMultiplierBps"`
}

// RolesConfig seeds the capability table at startup. Admins hold the risk
// role, keepers may liquidate and feeders may push oracle quotes.
type RolesConfig struct {
	Admins  []string `toml:"Admins"`
	Keepers []string `toml:"Keepers"`
	Feeders []string `toml:"Feeders"`
}

// Load reads the TOML configuration from disk, applies defaults and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize trims identifiers and fills defaulted fields.
func (cfg *Config) Normalize() {
	if cfg == nil {
		return
	}
	cfg.Service.ListenAddress = strings.TrimSpace(cfg.Service.ListenAddress)
	if cfg.Service.ListenAddress == "" {
		cfg.Service.ListenAddress = ":8471"
	}
	cfg.Service.Environment = strings.TrimSpace(cfg.Service.Environment)
	cfg.Risk.PoolAccount = strings.TrimSpace(cfg.Risk.PoolAccount)
	cfg.Risk.CollateralAccount = strings.TrimSpace(cfg.Risk.CollateralAccount)
	cfg.Risk.CollateralAsset = strings.ToUpper(strings.TrimSpace(cfg.Risk.CollateralAsset))
	cfg.Fees.Collector = strings.TrimSpace(cfg.Fees.Collector)
	if cfg.Oracle.StalenessSeconds <= 0 {
		cfg.Oracle.StalenessSeconds = 120
	}
	if cfg.Oracle.DeviationBps == 0 {
		cfg.Oracle.DeviationBps = 150
	}
	if cfg.Fees.MinBorrowWei == nil {
		cfg.Fees.MinBorrowWei = big.NewInt(0)
	}
	if cfg.Vault.SafetyMultiplierBps == 0 {
		cfg.Vault.SafetyMultiplierBps = 12_000
	}
	cfg.Roles.Admins = cleanAccounts(cfg.Roles.Admins)
	cfg.Roles.Keepers = cleanAccounts(cfg.Roles.Keepers)
	cfg.Roles.Feeders = cleanAccounts(cfg.Roles.Feeders)
}

func cleanAccounts(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			cleaned = append(cleaned, value)
		}
	}
	return cleaned
}

// Validate rejects configurations the engine would refuse at runtime.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Risk.TargetLTVBps == 0 || cfg.Risk.TargetLTVBps > 10_000 {
		return fmt.Errorf("risk: TargetLTVBps must be in (0, 10000]")
	}
	if cfg.Risk.LiquidationLTVBps > 10_000 {
		return fmt.Errorf("risk: LiquidationLTVBps must not exceed 10000")
	}
	if cfg.Risk.LiquidationLTVBps <= cfg.Risk.TargetLTVBps {
		return fmt.Errorf("risk: LiquidationLTVBps must exceed TargetLTVBps")
	}
	if cfg.Risk.PoolAccount == "" {
		return fmt.Errorf("risk: PoolAccount required")
	}
	if cfg.Risk.CollateralAccount == "" {
		return fmt.Errorf("risk: CollateralAccount required")
	}
	if cfg.Risk.CollateralAsset == "" {
		return fmt.Errorf("risk: CollateralAsset required")
	}
	if cfg.Fees.OriginationFeeBps > 10_000 || cfg.Fees.ExchangeFeeBps > 10_000 || cfg.Fees.ProDiscountBps > 10_000 {
		return fmt.Errorf("fees: basis point values must not exceed 10000")
	}
	if cfg.Fees.MinBorrowWei.Sign() < 0 {
		return fmt.Errorf("fees: MinBorrowWei must be non-negative")
	}
	if cfg.Fees.OriginationFeeBps > 0 && cfg.Fees.Collector == "" {
		return fmt.Errorf("fees: Collector required when OriginationFeeBps is set")
	}
	return nil
}
