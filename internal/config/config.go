// Package config provides configuration management for the trading simulator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalizeDefaults when fields are unset.
const (
	defaultInterval    = "30m"
	defaultCooldown    = "1m"
	defaultMaxRetries  = 3
	defaultTimeout     = "10s"
	defaultMaxQuoteAge = "5m"
	defaultBatchSize   = 50
	defaultParallelism = 4
	defaultMonitorPort = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// LoggingConfig defines logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// EngineConfig defines the trading engine and scheduling parameters.
type EngineConfig struct {
	StartingCash    float64  `yaml:"starting_cash"`
	TransactionCost float64  `yaml:"transaction_cost"`
	Interval        string   `yaml:"interval"`
	Cooldown        string   `yaml:"cooldown"`
	// MaxRetries is a pointer so an explicit 0 (retries disabled) is
	// distinguishable from an absent field, which gets the default.
	MaxRetries *int     `yaml:"max_retries"`
	Watchlist  []string `yaml:"watchlist"`
}

// StrategyConfig defines the threshold strategy parameters.
type StrategyConfig struct {
	PositionSize  float64 `yaml:"position_size"`
	MaxPositions  int     `yaml:"max_positions"`
	BuyTriggerPct float64 `yaml:"buy_trigger_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
}

// MarketDataConfig defines the quote source settings.
type MarketDataConfig struct {
	Provider    string `yaml:"provider"` // http | sim
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	Timeout     string `yaml:"timeout"`
	BatchSize   int    `yaml:"batch_size"`
	Parallelism int    `yaml:"parallelism"`
	MaxQuoteAge string `yaml:"max_quote_age"`
}

// StorageConfig defines where portfolio state and performance history live.
type StorageConfig struct {
	PortfolioPath   string `yaml:"portfolio_path"`
	PerformancePath string `yaml:"performance_path"`
}

// MonitorConfig defines the read-only HTTP monitoring surface.
type MonitorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalizeDefaults()

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	if c.Engine.StartingCash <= 0 {
		return fmt.Errorf("engine.starting_cash must be > 0")
	}
	if c.Engine.TransactionCost < 0 {
		return fmt.Errorf("engine.transaction_cost must be >= 0")
	}
	if len(c.Engine.Watchlist) == 0 {
		return fmt.Errorf("engine.watchlist must not be empty")
	}
	interval, err := time.ParseDuration(c.Engine.Interval)
	if err != nil {
		return fmt.Errorf("engine.interval invalid: %w", err)
	}
	cooldown, err := time.ParseDuration(c.Engine.Cooldown)
	if err != nil {
		return fmt.Errorf("engine.cooldown invalid: %w", err)
	}
	if cooldown >= interval {
		return fmt.Errorf("engine.cooldown (%s) must be shorter than engine.interval (%s)",
			c.Engine.Cooldown, c.Engine.Interval)
	}
	if *c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}

	if c.Strategy.PositionSize <= 0 {
		return fmt.Errorf("strategy.position_size must be > 0")
	}
	if c.Strategy.PositionSize > c.Engine.StartingCash {
		return fmt.Errorf("strategy.position_size (%.2f) must not exceed engine.starting_cash (%.2f)",
			c.Strategy.PositionSize, c.Engine.StartingCash)
	}
	if c.Strategy.MaxPositions <= 0 {
		return fmt.Errorf("strategy.max_positions must be > 0")
	}
	if c.Strategy.BuyTriggerPct >= 0 {
		return fmt.Errorf("strategy.buy_trigger_pct must be < 0")
	}
	if c.Strategy.TakeProfitPct <= 0 {
		return fmt.Errorf("strategy.take_profit_pct must be > 0")
	}
	if c.Strategy.StopLossPct >= 0 {
		return fmt.Errorf("strategy.stop_loss_pct must be < 0")
	}

	switch c.MarketData.Provider {
	case "sim":
	case "http":
		if c.MarketData.Endpoint == "" {
			return fmt.Errorf("market_data.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("market_data.provider must be 'http' or 'sim'")
	}
	if _, err := time.ParseDuration(c.MarketData.Timeout); err != nil {
		return fmt.Errorf("market_data.timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.MarketData.MaxQuoteAge); err != nil {
		return fmt.Errorf("market_data.max_quote_age invalid: %w", err)
	}
	if c.MarketData.BatchSize <= 0 {
		return fmt.Errorf("market_data.batch_size must be > 0")
	}
	if c.MarketData.Parallelism <= 0 {
		return fmt.Errorf("market_data.parallelism must be > 0")
	}

	if c.Storage.PortfolioPath == "" {
		return fmt.Errorf("storage.portfolio_path is required")
	}
	if c.Storage.PerformancePath == "" {
		return fmt.Errorf("storage.performance_path is required")
	}

	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		return fmt.Errorf("monitor.port must be between 1 and 65535")
	}

	return nil
}

// normalizeDefaults fills unset fields with their defaults.
func (c *Config) normalizeDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.Interval == "" {
		c.Engine.Interval = defaultInterval
	}
	if c.Engine.Cooldown == "" {
		c.Engine.Cooldown = defaultCooldown
	}
	if c.Engine.MaxRetries == nil {
		retries := defaultMaxRetries
		c.Engine.MaxRetries = &retries
	}
	if c.MarketData.Provider == "" {
		c.MarketData.Provider = "sim"
	}
	if c.MarketData.Timeout == "" {
		c.MarketData.Timeout = defaultTimeout
	}
	if c.MarketData.MaxQuoteAge == "" {
		c.MarketData.MaxQuoteAge = defaultMaxQuoteAge
	}
	if c.MarketData.BatchSize == 0 {
		c.MarketData.BatchSize = defaultBatchSize
	}
	if c.MarketData.Parallelism == 0 {
		c.MarketData.Parallelism = defaultParallelism
	}
	if c.Monitor.Port == 0 {
		c.Monitor.Port = defaultMonitorPort
	}
}

// GetInterval returns the cycle interval as a duration.
func (c *Config) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.Interval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetCooldown returns the failed-cycle retry cooldown as a duration.
func (c *Config) GetCooldown() time.Duration {
	d, err := time.ParseDuration(c.Engine.Cooldown)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetMaxRetries returns the failed-cycle retry budget.
func (c *Config) GetMaxRetries() int {
	if c.Engine.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.Engine.MaxRetries
}

// GetMarketDataTimeout returns the per-request market data timeout.
func (c *Config) GetMarketDataTimeout() time.Duration {
	d, err := time.ParseDuration(c.MarketData.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMaxQuoteAge returns the staleness threshold for quotes.
func (c *Config) GetMaxQuoteAge() time.Duration {
	d, err := time.ParseDuration(c.MarketData.MaxQuoteAge)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
