// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Marshaler   MarshalerConfig   `yaml:"marshaler"`
	Universe    UniverseConfig    `yaml:"universe"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Sentiment   SentimentConfig   `yaml:"sentiment"`
	Risk        RiskConfig        `yaml:"risk"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker session settings.
type BrokerConfig struct {
	Provider       string  `yaml:"provider"` // paper | ibkr
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	ClientID       int     `yaml:"client_id"`
	AccountID      string  `yaml:"account_id"`
	StartingEquity float64 `yaml:"starting_equity"` // paper mode seed
}

// MarshalerConfig tunes the single-writer request queue in front of the broker
// session.
type MarshalerConfig struct {
	QueueSize      int     `yaml:"queue_size"`
	BatchSize      int     `yaml:"batch_size"`
	DefaultTimeout string  `yaml:"default_timeout"`
	MaxTradePct    float64 `yaml:"max_trade_pct"`
}

// UniverseConfig lists the symbols the bot scans and the index used for
// market-condition classification.
type UniverseConfig struct {
	IndexSymbol string   `yaml:"index_symbol"`
	Candidates  []string `yaml:"candidates"`
}

// StrategyConfig defines shared entry parameters for the three strategies.
type StrategyConfig struct {
	TargetDTE      int     `yaml:"target_dte"`
	SpreadWidthPct float64 `yaml:"spread_width_pct"`
	MinRSI         float64 `yaml:"min_rsi"`
	MaxRSI         float64 `yaml:"max_rsi"`
	RequireAboveMA bool    `yaml:"require_above_ma"`
	MinVolPct      float64 `yaml:"min_vol_pct"`
	MaxCandidates  int     `yaml:"max_candidates"`
	QuoteMaxAge    string  `yaml:"quote_max_age"`
	HistoryMaxAge  string  `yaml:"history_max_age"`
}

// SentimentConfig tunes market-condition classification.
type SentimentConfig struct {
	VolThreshold float64 `yaml:"vol_threshold"`
	TrendPct     float64 `yaml:"trend_pct"`
	RefreshEvery string  `yaml:"refresh_every"`
}

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	MaxTradePct         float64 `yaml:"max_trade_pct"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	StopLossBullPct     float64 `yaml:"stop_loss_bull_pct"`
	StopLossBearPct     float64 `yaml:"stop_loss_bear_pct"`
	StopLossVolatilePct float64 `yaml:"stop_loss_volatile_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	TrailingThreshold   float64 `yaml:"trailing_threshold"`
	TrailingStopPct     float64 `yaml:"trailing_stop_pct"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit"`
	CloseRetryLimit     int     `yaml:"close_retry_limit"`
}

// MonitorConfig defines the exit-sweep cadence.
type MonitorConfig struct {
	Interval     string `yaml:"interval"`
	QuoteMaxAge  string `yaml:"quote_max_age"`
	OrderTimeout string `yaml:"order_timeout"`
	ExpiryDTE    int    `yaml:"expiry_dte"`
}

// ScheduleConfig defines trading cycle cadence and market hours.
type ScheduleConfig struct {
	CycleInterval     string `yaml:"cycle_interval"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	Timezone          string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart      string `yaml:"trading_start"` // "HH:MM"
	TradingEnd        string `yaml:"trading_end"`   // "HH:MM"
}

// DashboardConfig defines the monitoring HTTP server settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
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
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	switch c.Broker.Provider {
	case "paper":
		if c.Environment.Mode == "live" {
			return fmt.Errorf("broker.provider 'paper' cannot run in live mode")
		}
	case "ibkr":
		if c.Broker.Host == "" || c.Broker.Port <= 0 {
			return fmt.Errorf("broker.host and broker.port are required for provider 'ibkr'")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required for provider 'ibkr'")
		}
	default:
		return fmt.Errorf("broker.provider must be 'paper' or 'ibkr'")
	}

	// Marshaler validation
	if c.Marshaler.QueueSize < 0 || c.Marshaler.BatchSize < 0 {
		return fmt.Errorf("marshaler.queue_size and marshaler.batch_size must be >= 0")
	}
	if c.Marshaler.DefaultTimeout != "" {
		if _, err := time.ParseDuration(c.Marshaler.DefaultTimeout); err != nil {
			return fmt.Errorf("marshaler.default_timeout invalid: %w", err)
		}
	}
	if c.Marshaler.MaxTradePct < 0 || c.Marshaler.MaxTradePct > 1 {
		return fmt.Errorf("marshaler.max_trade_pct must be between 0 and 1.0")
	}

	// Universe validation
	if len(c.Universe.Candidates) == 0 {
		return fmt.Errorf("universe.candidates must list at least one symbol")
	}

	// Strategy validation
	if c.Strategy.TargetDTE <= 0 {
		return fmt.Errorf("strategy.target_dte must be > 0")
	}
	if c.Strategy.SpreadWidthPct <= 0 || c.Strategy.SpreadWidthPct >= 1 {
		return fmt.Errorf("strategy.spread_width_pct must be in (0,1)")
	}
	if c.Strategy.MinRSI < 0 || c.Strategy.MaxRSI > 100 || c.Strategy.MinRSI >= c.Strategy.MaxRSI {
		return fmt.Errorf("strategy rsi band must satisfy 0 <= min_rsi < max_rsi <= 100")
	}
	for name, v := range map[string]string{
		"strategy.quote_max_age":   c.Strategy.QuoteMaxAge,
		"strategy.history_max_age": c.Strategy.HistoryMaxAge,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	// Risk validation
	if c.Risk.MaxTradePct <= 0 || c.Risk.MaxTradePct > 1 {
		return fmt.Errorf("risk.max_trade_pct must be between 0 and 1.0")
	}
	if c.Risk.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("risk.max_concurrent_trades must be > 0")
	}
	for name, v := range map[string]float64{
		"risk.stop_loss_bull_pct":     c.Risk.StopLossBullPct,
		"risk.stop_loss_bear_pct":     c.Risk.StopLossBearPct,
		"risk.stop_loss_volatile_pct": c.Risk.StopLossVolatilePct,
		"risk.take_profit_pct":        c.Risk.TakeProfitPct,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0,1)", name)
		}
	}
	if c.Risk.TrailingThreshold <= c.Risk.TakeProfitPct {
		return fmt.Errorf("risk.trailing_threshold (%.2f) must be > risk.take_profit_pct (%.2f)",
			c.Risk.TrailingThreshold, c.Risk.TakeProfitPct)
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if c.Risk.CloseRetryLimit <= 0 {
		return fmt.Errorf("risk.close_retry_limit must be > 0")
	}

	// Monitor validation
	for name, v := range map[string]string{
		"monitor.interval":      c.Monitor.Interval,
		"monitor.quote_max_age": c.Monitor.QuoteMaxAge,
		"monitor.order_timeout": c.Monitor.OrderTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	// Schedule validation
	for name, v := range map[string]string{
		"schedule.cycle_interval":     c.Schedule.CycleInterval,
		"schedule.reconcile_interval": c.Schedule.ReconcileInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	for name, v := range map[string]string{
		"schedule.trading_start": c.Schedule.TradingStart,
		"schedule.trading_end":   c.Schedule.TradingEnd,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseInLocation("15:04", v, loc); err != nil {
			return fmt.Errorf("%s must be HH:MM: %w", name, err)
		}
	}

	// Dashboard validation
	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		return fmt.Errorf("dashboard.listen is required when the dashboard is enabled")
	}

	return nil
}

// Duration parses a duration string, returning fallback when it is empty.
// Validate has already rejected malformed values.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsPaper reports whether the bot runs against the simulated gateway.
func (c *Config) IsPaper() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured trading timezone.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
