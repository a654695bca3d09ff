package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ETH-USDT-SWAP", cfg.Symbol)
	assert.Equal(t, 5*time.Second, cfg.TickInterval.D())
	assert.InDelta(t, 0.003, cfg.Short.RiskPerTrade, 1e-9)
	assert.InDelta(t, 0.002, cfg.Long.TrailPct, 1e-9)
}

func TestYAMLOverridesSelectively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
mode: paper
symbol: BTC-USDT-SWAP
tick_interval: 10s
risk:
  max_position_risk: 0.005
  max_daily_drawdown: 0.03
  max_trades_per_day: 4
  funding_threshold: 0.0003
trend_long:
  risk_per_trade: 0.003
  stop_offset: 0.002
  take_profit_1r: 0.8
  take_profit_2r: 1.5
  partial_1_ratio: 0.3
  partial_2_ratio: 0.5
  trail_pct: 0.003
  min_hold: 5m
  max_hold: 1h
  pullback_distance: 0.005
  volume_shrink_ratio: 0.8
  breakout_volume_mult: 1.2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT-SWAP", cfg.Symbol)
	assert.Equal(t, 10*time.Second, cfg.TickInterval.D())
	assert.InDelta(t, 0.03, cfg.Risk.MaxDailyDrawdown, 1e-9)
	assert.Equal(t, 4, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, time.Hour, cfg.Long.MaxHold.D())
	assert.InDelta(t, 0.003, cfg.Long.TrailPct, 1e-9)

	// untouched sections keep their defaults
	assert.Equal(t, 14, cfg.Indicators.ATRPeriod)
	assert.InDelta(t, 0.0025, cfg.Short.StopOffset, 1e-9)
}

func TestModeFlagOverridesFile(t *testing.T) {
	cfg, err := Load([]string{"--mode", "paper"})
	require.NoError(t, err)
	assert.Equal(t, ModePaper, cfg.Mode)
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("OKX_API_KEY", "")
	t.Setenv("OKX_API_SECRET", "")
	t.Setenv("OKX_PASSPHRASE", "")

	_, err := Load([]string{"--mode", "live"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OKX_API_KEY")

	t.Setenv("OKX_API_KEY", "k")
	t.Setenv("OKX_API_SECRET", "s")
	t.Setenv("OKX_PASSPHRASE", "p")

	cfg, err := Load([]string{"--mode", "live"})
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.OKX.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Indicators.MASlow = 10 // below the mid period
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Regime.TrendFundingMin = 0.001
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.TickInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Short.TakeProfit2R = 0.5
	assert.Error(t, cfg.Validate())
}

func TestInvalidDurationSyntax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: soon\n"), 0o600))

	_, err := Load([]string{"--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
