// Package config loads the relay's process-wide configuration from a YAML
// file plus environment variable overrides, following the layering used in
// the teacher's internal/app config and the go-edu config-loader minis.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Network selects the chain network and the embedded domain constants
// used for structured-data signature verification.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Config is assembled once at startup and threaded through every
// component constructor. No component reaches for a global singleton.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chain     ChainConfig     `yaml:"chain"`
	Sponsor   SponsorConfig   `yaml:"sponsor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fees      FeeConfig       `yaml:"fees"`
	Facilitator FacilitatorConfig `yaml:"facilitator"`
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "console"
}

type ChainConfig struct {
	Network    Network  `yaml:"network"`
	APIBaseURLs []string `yaml:"api_base_urls"`
	APIKey     string   `yaml:"api_key"`
	GapFillRecipient string `yaml:"gap_fill_recipient"`
}

// SponsorConfig describes how to derive the N sponsor wallets. Either
// Mnemonic (with WalletCount wallets derived at m/44'/5757'/0'/0/i) or a
// single RawPrivateKeyHex (wallet index 0 only) must be set.
type SponsorConfig struct {
	Mnemonic          string `yaml:"mnemonic"`
	MnemonicPassphrase string `yaml:"mnemonic_passphrase"`
	WalletCount       int    `yaml:"wallet_count"`
	RawPrivateKeyHex  string `yaml:"raw_private_key_hex"`
}

type RateLimitConfig struct {
	RelayPerOriginLimit  int           `yaml:"relay_per_origin_limit"`
	RelayWindow          time.Duration `yaml:"relay_window"`
}

// FeeConfig is the operator-configured clamp table, keyed by transaction
// kind ("token_transfer", "contract_call", "smart_contract").
type FeeConfig struct {
	Clamps map[string]FeeClamp `yaml:"clamps"`
}

type FeeClamp struct {
	Floor   uint64 `yaml:"floor"`
	Ceiling uint64 `yaml:"ceiling"`
}

type FacilitatorConfig struct {
	HealthCheckURL string `yaml:"health_check_url"`
}

// APIKeyConfig registers one hashed key against a named tier at startup.
// RawKey is only ever read from the YAML file or environment, never
// logged or persisted; the store retains only its SHA-256 hash.
type APIKeyConfig struct {
	RawKey string `yaml:"raw_key"`
	Tier   string `yaml:"tier"`
}

// APIKeyTierConfig is the operator-configured tier table keyed by tier
// name, referenced by APIKeyConfig.Tier.
type APIKeyTierConfig struct {
	RequestsPerMin  int    `yaml:"requests_per_min"`
	RequestsPerDay  int    `yaml:"requests_per_day"`
	DailyFeeCapUnit string `yaml:"daily_fee_cap_unit"`
}

type APIKeysConfig struct {
	Tiers map[string]APIKeyTierConfig `yaml:"tiers"`
	Keys  []APIKeyConfig              `yaml:"keys"`
}

const maxWalletCount = 10

// Load reads YAML from path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns baseline values overridden by the YAML file and env.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Chain:   ChainConfig{Network: Testnet},
		RateLimit: RateLimitConfig{
			RelayPerOriginLimit: 10,
			RelayWindow:         time.Minute,
		},
		Fees: FeeConfig{Clamps: map[string]FeeClamp{
			"token_transfer":  {Floor: 180, Ceiling: 2_000_000},
			"contract_call":   {Floor: 400, Ceiling: 5_000_000},
			"smart_contract":  {Floor: 1000, Ceiling: 10_000_000},
		}},
		APIKeys: APIKeysConfig{Tiers: map[string]APIKeyTierConfig{
			"free":     {RequestsPerMin: 5, RequestsPerDay: 200, DailyFeeCapUnit: "50000"},
			"standard": {RequestsPerMin: 30, RequestsPerDay: 5000, DailyFeeCapUnit: "2000000"},
			"pro":      {RequestsPerMin: 120, RequestsPerDay: 50000, DailyFeeCapUnit: "50000000"},
		}},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_CHAIN_API_KEY"); v != "" {
		cfg.Chain.APIKey = v
	}
	if v := os.Getenv("RELAY_SPONSOR_MNEMONIC"); v != "" {
		cfg.Sponsor.Mnemonic = v
	}
	if v := os.Getenv("RELAY_SPONSOR_RAW_KEY"); v != "" {
		cfg.Sponsor.RawPrivateKeyHex = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_WALLET_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sponsor.WalletCount = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Chain.APIBaseURLs) == 0 {
		return fmt.Errorf("chain.api_base_urls must have at least one entry")
	}
	if c.Chain.Network != Mainnet && c.Chain.Network != Testnet {
		return fmt.Errorf("chain.network must be mainnet or testnet, got %q", c.Chain.Network)
	}
	hasMnemonic := c.Sponsor.Mnemonic != ""
	hasRaw := c.Sponsor.RawPrivateKeyHex != ""
	if hasMnemonic == hasRaw {
		return fmt.Errorf("sponsor: exactly one of mnemonic or raw_private_key_hex must be set")
	}
	if hasRaw && c.Sponsor.WalletCount > 1 {
		return fmt.Errorf("sponsor: raw_private_key_hex only supports wallet index 0")
	}
	if c.Sponsor.WalletCount <= 0 {
		c.Sponsor.WalletCount = 1
	}
	if c.Sponsor.WalletCount > maxWalletCount {
		return fmt.Errorf("sponsor.wallet_count must be <= %d", maxWalletCount)
	}
	for kind, clamp := range c.Fees.Clamps {
		if clamp.Floor > clamp.Ceiling {
			return fmt.Errorf("fees.clamps[%s]: floor %d > ceiling %d", kind, clamp.Floor, clamp.Ceiling)
		}
	}
	for _, key := range c.APIKeys.Keys {
		if _, ok := c.APIKeys.Tiers[key.Tier]; !ok {
			return fmt.Errorf("api_keys: key references unknown tier %q", key.Tier)
		}
	}
	return nil
}
