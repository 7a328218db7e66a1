package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: debug
broker:
  provider: paper
  starting_equity: 50000
marshaler:
  queue_size: 32
  batch_size: 4
  default_timeout: 5s
  max_trade_pct: 0.10
universe:
  index_symbol: SPY
  candidates: [AAPL, MSFT]
strategy:
  target_dte: 45
  spread_width_pct: 0.05
  min_rsi: 40
  max_rsi: 70
  require_above_ma: true
  min_vol_pct: 0.35
  max_candidates: 10
  quote_max_age: 30s
  history_max_age: 15m
sentiment:
  vol_threshold: 0.25
  trend_pct: 0.01
  refresh_every: 5m
risk:
  max_trade_pct: 0.10
  max_concurrent_trades: 5
  stop_loss_bull_pct: 0.20
  stop_loss_bear_pct: 0.15
  stop_loss_volatile_pct: 0.30
  take_profit_pct: 0.30
  trailing_threshold: 0.80
  trailing_stop_pct: 0.08
  daily_loss_limit: 1000
  close_retry_limit: 3
monitor:
  interval: 10s
  quote_max_age: 5s
  order_timeout: 15s
  expiry_dte: 1
schedule:
  cycle_interval: 1m
  reconcile_interval: 5m
  timezone: America/New_York
  trading_start: "09:35"
  trading_end: "15:55"
dashboard:
  enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaper())
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Universe.Candidates)
	assert.Equal(t, 45, cfg.Strategy.TargetDTE)
	assert.Equal(t, 5, cfg.Risk.MaxConcurrentTrades)
	assert.Equal(t, "America/New_York", cfg.Location().String())
	assert.Equal(t, 10*time.Second, Duration(cfg.Monitor.Interval, time.Minute))
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DASH_TOKEN", "s3cret")
	yaml := strings.Replace(validYAML, "dashboard:\n  enabled: false\n", `dashboard:
  enabled: true
  listen: 127.0.0.1:8080
  auth_token: ${TEST_DASH_TOKEN}
`, 1)
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Dashboard.AuthToken)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nmystery_section:\n  foo: bar\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }},
		{"paper provider in live mode", func(c *Config) { c.Environment.Mode = "live" }},
		{"no candidates", func(c *Config) { c.Universe.Candidates = nil }},
		{"inverted rsi band", func(c *Config) { c.Strategy.MinRSI = 80 }},
		{"zero dte", func(c *Config) { c.Strategy.TargetDTE = 0 }},
		{"trailing below take profit", func(c *Config) { c.Risk.TrailingThreshold = 0.20 }},
		{"zero daily loss limit", func(c *Config) { c.Risk.DailyLossLimit = 0 }},
		{"zero retry limit", func(c *Config) { c.Risk.CloseRetryLimit = 0 }},
		{"bad duration", func(c *Config) { c.Monitor.Interval = "soon" }},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad trading window", func(c *Config) { c.Schedule.TradingStart = "9am" }},
		{"dashboard without listen", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Listen = "" }},
		{"trade pct above one", func(c *Config) { c.Risk.MaxTradePct = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_Fallback(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, 30*time.Second, Duration("30s", time.Minute))
}
