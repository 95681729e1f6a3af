package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("trading:\n  symbols: [BTC-USDT]\n"))
	require.NoError(t, err)

	assert.Equal(t, ProviderKuCoin, cfg.Exchange.Provider)
	assert.Equal(t, []string{"BTC-USDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 30, cfg.Trading.WindowSize)
	assert.Equal(t, 5, cfg.Analysis.MaxWorkers)
	assert.Equal(t, 80.0, cfg.Analysis.MinScore)
	assert.Equal(t, MomentumCurrent, cfg.Analysis.MomentumMode)
	assert.Equal(t, 14, cfg.Analysis.RSI.Period)
	assert.Equal(t, 2.0, cfg.Analysis.Bollinger.StdDev)
	assert.Equal(t, 0.0005, cfg.Grading.SLTPPercent)
	assert.Equal(t, "0 * * * * *", cfg.Scheduler.Schedule)
	assert.Equal(t, 10, cfg.State.MaxHistory)
	assert.Equal(t, "America/Sao_Paulo", cfg.Display.Timezone)
}

func TestParseReadsValues(t *testing.T) {
	data := []byte(`
exchange:
  provider: synthetic
trading:
  symbols: [A, B]
  window_size: 20
analysis:
  min_score: 60
  momentum_mode: closed
scheduler:
  schedule: "@every 30s"
  backoff_min: 2s
  backoff_max: 10s
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, ProviderSynthetic, cfg.Exchange.Provider)
	assert.Equal(t, 20, cfg.Trading.WindowSize)
	assert.Equal(t, 60.0, cfg.Analysis.MinScore)
	assert.Equal(t, MomentumClosed, cfg.Analysis.MomentumMode)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.BackoffMin)
}

func TestParseKeepsExplicitZero(t *testing.T) {
	data := []byte(`
analysis:
  min_score: 0
  rsi:
    oversold: 0
scheduler:
  startup_delay: 0s
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 0.0, cfg.Analysis.MinScore)
	assert.Equal(t, 0.0, cfg.Analysis.RSI.Oversold)
	assert.Equal(t, 70.0, cfg.Analysis.RSI.Overbought)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.StartupDelay)
	assert.Equal(t, 14, cfg.Analysis.RSI.Period)
}

func TestParseRejectsExplicitZeroWhereMeaningless(t *testing.T) {
	_, err := Parse([]byte("trading:\n  window_size: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("exchange:\n  timeout: 0s\n"))
	assert.Error(t, err)
}

func TestBaseURLFollowsProvider(t *testing.T) {
	cfg, err := Parse([]byte("exchange:\n  provider: binance\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Exchange.BaseURL)

	cfg, err = Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.kucoin.com", cfg.Exchange.BaseURL)
}

func TestSymbolsFromEnv(t *testing.T) {
	t.Setenv("SYMBOLS", " BTC-USDT , ,ETH-USDT")
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Trading.Symbols)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Exchange.Provider = "ftx" }},
		{"duplicate symbol", func(c *Config) { c.Trading.Symbols = []string{"A", "A"} }},
		{"tiny window", func(c *Config) { c.Trading.WindowSize = 1 }},
		{"min score above 100", func(c *Config) { c.Analysis.MinScore = 101 }},
		{"momentum mode", func(c *Config) { c.Analysis.MomentumMode = "previous" }},
		{"rsi bounds", func(c *Config) { c.Analysis.RSI.Oversold = 80 }},
		{"sl tp", func(c *Config) { c.Grading.SLTPPercent = 1.5 }},
		{"bad schedule", func(c *Config) { c.Scheduler.Schedule = "every minute" }},
		{"backoff order", func(c *Config) { c.Scheduler.BackoffMin = time.Hour }},
		{"timezone", func(c *Config) { c.Display.Timezone = "Mars/Olympus" }},
		{"zero timeout", func(c *Config) { c.Exchange.Timeout = 0 }},
		{"zero std dev", func(c *Config) { c.Analysis.Bollinger.StdDev = 0 }},
		{"influx without url", func(c *Config) { c.Exchange.Provider = ProviderInfluxDB }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("trading: ["))
	assert.Error(t, err)
}
