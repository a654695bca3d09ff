// Package config loads the bot configuration: defaults, then an optional
// YAML file, then environment for credentials. Validation is fail-fast; a
// bad config never reaches the engine.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"okxquant/internal/market"
	"okxquant/internal/regime"
	"okxquant/internal/risk"
	"okxquant/internal/strategy"
)

type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// Duration decodes YAML strings like "5s" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Mode     Mode   `yaml:"mode"`
	Symbol   string `yaml:"symbol"`
	Currency string `yaml:"currency"`
	Leverage int    `yaml:"leverage"`

	TickInterval      Duration `yaml:"tick_interval"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	FillTimeout       Duration `yaml:"fill_timeout"`

	MetricsAddr    string `yaml:"metrics_addr"`
	DecisionsPath  string `yaml:"decisions_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	LogLevel       string `yaml:"log_level"`

	Indicators IndicatorConfig `yaml:"indicators"`
	Regime     RegimeConfig    `yaml:"regime"`
	Risk       RiskConfig      `yaml:"risk"`
	Short      StrategyConfig  `yaml:"overheat_short"`
	Long       StrategyConfig  `yaml:"trend_long"`

	OKX OKXConfig `yaml:"-"`
}

type IndicatorConfig struct {
	MAFast    int `yaml:"ma_fast"`
	MAMid     int `yaml:"ma_mid"`
	MASlow    int `yaml:"ma_slow"`
	ATRPeriod int `yaml:"atr_period"`
	ATRBars   int `yaml:"atr_bars"`
}

type RegimeConfig struct {
	MinDailyGain       float64 `yaml:"min_daily_gain"`
	VWAPDistance       float64 `yaml:"vwap_distance"`
	VolumeSpikeRatio   float64 `yaml:"volume_spike_ratio"`
	OverheatFunding    float64 `yaml:"overheat_funding"`
	TrendFundingMin    float64 `yaml:"trend_funding_min"`
	TrendFundingMax    float64 `yaml:"trend_funding_max"`
	VolumeExplosionCap float64 `yaml:"volume_explosion_cap"`
	FundingThreshold   float64 `yaml:"funding_threshold"`
}

type RiskConfig struct {
	MaxPositionRisk  float64 `yaml:"max_position_risk"`
	MaxDailyDrawdown float64 `yaml:"max_daily_drawdown"`
	MaxTradesPerDay  int     `yaml:"max_trades_per_day"`
	FundingThreshold float64 `yaml:"funding_threshold"`
}

type StrategyConfig struct {
	RiskPerTrade  float64  `yaml:"risk_per_trade"`
	StopOffset    float64  `yaml:"stop_offset"`
	TakeProfit1R  float64  `yaml:"take_profit_1r"`
	TakeProfit2R  float64  `yaml:"take_profit_2r"`
	Partial1Ratio float64  `yaml:"partial_1_ratio"`
	Partial2Ratio float64  `yaml:"partial_2_ratio"`
	TrailPct      float64  `yaml:"trail_pct"`
	MinHold       Duration `yaml:"min_hold"`
	MaxHold       Duration `yaml:"max_hold"`

	// entry rule knobs; only the relevant ones apply per strategy
	DepthDropRatio     float64 `yaml:"depth_drop_ratio"`
	PullbackDistance   float64 `yaml:"pullback_distance"`
	VolumeShrinkRatio  float64 `yaml:"volume_shrink_ratio"`
	BreakoutVolumeMult float64 `yaml:"breakout_volume_mult"`
}

type OKXConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Default returns the production defaults. A YAML file overrides fields
// selectively.
func Default() Config {
	return Config{
		Mode:              ModePaper,
		Symbol:            "ETH-USDT-SWAP",
		Currency:          "USDT",
		Leverage:          3,
		TickInterval:      Duration(5 * time.Second),
		ReconcileInterval: Duration(30 * time.Second),
		FillTimeout:       Duration(30 * time.Second),
		MetricsAddr:       ":9105",
		DecisionsPath:     "decisions.ndjson",
		CheckpointPath:    "checkpoint.json",
		LogLevel:          "info",
		Indicators: IndicatorConfig{
			MAFast:    5,
			MAMid:     15,
			MASlow:    60,
			ATRPeriod: 14,
			ATRBars:   24,
		},
		Regime: RegimeConfig{
			MinDailyGain:       0.04,
			VWAPDistance:       0.02,
			VolumeSpikeRatio:   1.5,
			OverheatFunding:    0.0002,
			TrendFundingMin:    -0.0001,
			TrendFundingMax:    0.0002,
			VolumeExplosionCap: 2.0,
			FundingThreshold:   0.0003,
		},
		Risk: RiskConfig{
			MaxPositionRisk:  0.005,
			MaxDailyDrawdown: 0.02,
			MaxTradesPerDay:  6,
			FundingThreshold: 0.0003,
		},
		Short: StrategyConfig{
			RiskPerTrade:   0.003,
			StopOffset:     0.0025,
			TakeProfit1R:   1.0,
			TakeProfit2R:   1.5,
			Partial1Ratio:  0.5,
			Partial2Ratio:  0,
			MinHold:        Duration(10 * time.Minute),
			MaxHold:        Duration(30 * time.Minute),
			DepthDropRatio: 0.2,
		},
		Long: StrategyConfig{
			RiskPerTrade:       0.003,
			StopOffset:         0.002,
			TakeProfit1R:       0.8,
			TakeProfit2R:       1.5,
			Partial1Ratio:      0.3,
			Partial2Ratio:      0.5,
			TrailPct:           0.002,
			MinHold:            Duration(5 * time.Minute),
			MaxHold:            Duration(2 * time.Hour),
			PullbackDistance:   0.005,
			VolumeShrinkRatio:  0.8,
			BreakoutVolumeMult: 1.2,
		},
	}
}

// Load resolves the configuration from flags, an optional YAML file, and
// the environment.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	path := fs.String("config", "", "path to YAML config file")
	mode := fs.String("mode", "", "override run mode: live or paper")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// .env never overrides real environment
	_ = godotenv.Load()

	cfg := Default()
	if *path != "" {
		raw, err := os.ReadFile(*path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if *mode != "" {
		cfg.Mode = Mode(*mode)
	}

	cfg.OKX = OKXConfig{
		APIKey:     os.Getenv("OKX_API_KEY"),
		APISecret:  os.Getenv("OKX_API_SECRET"),
		Passphrase: os.Getenv("OKX_PASSPHRASE"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Mode != ModeLive && c.Mode != ModePaper {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be > 0")
	}
	if c.TickInterval.D() <= 0 {
		return fmt.Errorf("tick_interval must be > 0")
	}
	if c.ReconcileInterval.D() <= 0 {
		return fmt.Errorf("reconcile_interval must be > 0")
	}
	if c.FillTimeout.D() <= 0 {
		return fmt.Errorf("fill_timeout must be > 0")
	}
	ind := c.Indicators
	if ind.MAFast <= 1 || ind.MAMid <= ind.MAFast || ind.MASlow <= ind.MAMid {
		return fmt.Errorf("moving average periods must satisfy 1 < fast < mid < slow")
	}
	if ind.ATRPeriod <= 1 || ind.ATRBars <= 0 {
		return fmt.Errorf("atr_period must be > 1 and atr_bars > 0")
	}
	if c.Risk.MaxPositionRisk <= 0 || c.Risk.MaxDailyDrawdown <= 0 || c.Risk.MaxTradesPerDay <= 0 {
		return fmt.Errorf("risk limits must be positive")
	}
	if c.Regime.VWAPDistance <= 0 || c.Regime.VolumeSpikeRatio <= 1 {
		return fmt.Errorf("regime thresholds out of range")
	}
	if c.Regime.TrendFundingMin >= c.Regime.TrendFundingMax {
		return fmt.Errorf("trend_funding_min must be below trend_funding_max")
	}
	if err := c.ShortParams().Validate(); err != nil {
		return err
	}
	if err := c.LongParams().Validate(); err != nil {
		return err
	}
	if c.Mode == ModeLive {
		if c.OKX.APIKey == "" || c.OKX.APISecret == "" || c.OKX.Passphrase == "" {
			return fmt.Errorf("OKX_API_KEY, OKX_API_SECRET and OKX_PASSPHRASE are required in live mode")
		}
	}
	return nil
}

func (c Config) ShortParams() strategy.Params {
	s := c.Short
	return strategy.Params{
		Name:          "overheat_short",
		Side:          strategy.Short,
		MinConditions: 2,
		RiskPerTrade:  s.RiskPerTrade,
		StopOffset:    s.StopOffset,
		TakeProfit1R:  s.TakeProfit1R,
		TakeProfit2R:  s.TakeProfit2R,
		Partial1Ratio: s.Partial1Ratio,
		Partial2Ratio: s.Partial2Ratio,
		MinHold:       s.MinHold.D(),
		MaxHold:       s.MaxHold.D(),
	}
}

func (c Config) LongParams() strategy.Params {
	s := c.Long
	return strategy.Params{
		Name:          "trend_long",
		Side:          strategy.Long,
		MinConditions: 2,
		RiskPerTrade:  s.RiskPerTrade,
		StopOffset:    s.StopOffset,
		TakeProfit1R:  s.TakeProfit1R,
		TakeProfit2R:  s.TakeProfit2R,
		Partial1Ratio: s.Partial1Ratio,
		Partial2Ratio: s.Partial2Ratio,
		TrailingStop:  true,
		TrailPct:      s.TrailPct,
		MinHold:       s.MinHold.D(),
		MaxHold:       s.MaxHold.D(),
	}
}

func (c Config) ShortRules() strategy.ShortRuleParams {
	return strategy.ShortRuleParams{DepthDropRatio: c.Short.DepthDropRatio, DepthLevels: 5}
}

func (c Config) LongRules() strategy.LongRuleParams {
	return strategy.LongRuleParams{
		PullbackDistance:   c.Long.PullbackDistance,
		VolumeShrinkRatio:  c.Long.VolumeShrinkRatio,
		BreakoutVolumeMult: c.Long.BreakoutVolumeMult,
	}
}

func (c Config) RegimeParams() regime.Params {
	r := c.Regime
	return regime.Params{
		MinDailyGain:       r.MinDailyGain,
		VWAPDistance:       r.VWAPDistance,
		VolumeSpikeRatio:   r.VolumeSpikeRatio,
		OverheatFunding:    r.OverheatFunding,
		TrendFundingMin:    r.TrendFundingMin,
		TrendFundingMax:    r.TrendFundingMax,
		VolumeExplosionCap: r.VolumeExplosionCap,
		FundingThreshold:   r.FundingThreshold,
	}
}

func (c Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionRisk:  c.Risk.MaxPositionRisk,
		MaxDailyDrawdown: c.Risk.MaxDailyDrawdown,
		MaxTradesPerDay:  c.Risk.MaxTradesPerDay,
		FundingThreshold: c.Risk.FundingThreshold,
	}
}

func (c Config) ViewParams() market.ViewParams {
	return market.ViewParams{
		MAFast:    c.Indicators.MAFast,
		MAMid:     c.Indicators.MAMid,
		MASlow:    c.Indicators.MASlow,
		ATRPeriod: c.Indicators.ATRPeriod,
		ATRBars:   c.Indicators.ATRBars,
	}
}
