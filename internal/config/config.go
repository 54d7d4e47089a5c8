// Package config loads the tradesim configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tradesim/internal/engine"
	"tradesim/internal/policy"
	"tradesim/internal/sim"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradesim server.
type Config struct {
	Server  Server       `yaml:"server"`
	Storage Storage      `yaml:"storage"`
	Logging Logging      `yaml:"logging"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Policy  PolicyConfig `yaml:"policy"`
	Sim     SimConfig    `yaml:"sim"`
	Engine  EngineConfig `yaml:"engine"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for the audit journal and data exports.
type Storage struct {
	JournalPath string `yaml:"journal_path"`
	FillsExport string `yaml:"fills_export"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials and endpoints for the market-data adapters. When
// Enabled is false the policy engine runs without live clock and liquidity
// lookups.
type Alpaca struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// PolicyConfig wraps the policy thresholds. YAML durations are given in Go
// notation ("5m", "30s").
type PolicyConfig struct {
	policy.Config `yaml:",inline"`
}

// UnmarshalYAML decodes over the existing values so omitted keys keep their
// defaults, parsing the grace period from duration notation.
func (p *PolicyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled          *bool     `yaml:"enabled"`
		MarketHoursGrace string    `yaml:"market_hours_grace"`
		MaxSpreadBps     *float64  `yaml:"max_spread_bps"`
		MinLiquidity     *float64  `yaml:"min_liquidity"`
		NewsHeatRed      *float64  `yaml:"news_heat_red"`
		ConfidenceMin    *float64  `yaml:"confidence_min"`
		ConfidenceMax    *float64  `yaml:"confidence_max"`
		RegimeBlacklist  *[]string `yaml:"regime_blacklist"`
		MaxTradeRisk     *float64  `yaml:"max_trade_risk"`
		PortfolioValue   *float64  `yaml:"portfolio_value"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		p.Enabled = *raw.Enabled
	}
	if raw.MarketHoursGrace != "" {
		d, err := time.ParseDuration(raw.MarketHoursGrace)
		if err != nil {
			return fmt.Errorf("market_hours_grace: %w", err)
		}
		p.MarketHoursGrace = d
	}
	if raw.MaxSpreadBps != nil {
		p.MaxSpreadBps = *raw.MaxSpreadBps
	}
	if raw.MinLiquidity != nil {
		p.MinLiquidity = *raw.MinLiquidity
	}
	if raw.NewsHeatRed != nil {
		p.NewsHeatRed = *raw.NewsHeatRed
	}
	if raw.ConfidenceMin != nil {
		p.ConfidenceMin = *raw.ConfidenceMin
	}
	if raw.ConfidenceMax != nil {
		p.ConfidenceMax = *raw.ConfidenceMax
	}
	if raw.RegimeBlacklist != nil {
		p.RegimeBlacklist = *raw.RegimeBlacklist
	}
	if raw.MaxTradeRisk != nil {
		p.MaxTradeRisk = *raw.MaxTradeRisk
	}
	if raw.PortfolioValue != nil {
		p.PortfolioValue = *raw.PortfolioValue
	}
	return nil
}

// SimConfig wraps the simulator parameters with the RNG seed.
type SimConfig struct {
	sim.Config `yaml:",inline"`
	Seed       int64 `yaml:"seed"`
}

// EngineConfig wraps the engine limits with startup behaviour.
type EngineConfig struct {
	engine.Config    `yaml:",inline"`
	Recover          bool `yaml:"recover"`
	JournalQueueSize int  `yaml:"journal_queue_size"`
}

// UnmarshalYAML decodes over the existing values, parsing the submit timeout
// from duration notation.
func (e *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SubmitTimeout    string `yaml:"submit_timeout"`
		MaxOpenOrders    *int   `yaml:"max_open_orders"`
		Recover          *bool  `yaml:"recover"`
		JournalQueueSize *int   `yaml:"journal_queue_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.SubmitTimeout != "" {
		d, err := time.ParseDuration(raw.SubmitTimeout)
		if err != nil {
			return fmt.Errorf("submit_timeout: %w", err)
		}
		e.SubmitTimeout = d
	}
	if raw.MaxOpenOrders != nil {
		e.MaxOpenOrders = *raw.MaxOpenOrders
	}
	if raw.Recover != nil {
		e.Recover = *raw.Recover
	}
	if raw.JournalQueueSize != nil {
		e.JournalQueueSize = *raw.JournalQueueSize
	}
	return nil
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Server:  Server{Host: "0.0.0.0", Port: 8080},
		Storage: Storage{JournalPath: "tradesim.db", FillsExport: "fills.parquet"},
		Logging: Logging{Level: "info", Format: "json"},
		Policy:  PolicyConfig{Config: policy.DefaultConfig()},
		Sim:     SimConfig{Config: sim.DefaultConfig()},
		Engine: EngineConfig{
			Config:           engine.DefaultConfig(),
			Recover:          true,
			JournalQueueSize: 1024,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML file at path over the defaults and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADESIM_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRADESIM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRADESIM_JOURNAL_PATH"); v != "" {
		cfg.Storage.JournalPath = v
	}
	if v := os.Getenv("TRADESIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sim.Seed = seed
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
