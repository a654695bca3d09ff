package strategy

import (
	"time"

	"okxquant/internal/indicator"
)

// LongRuleParams tune the trend-long entry predicates.
type LongRuleParams struct {
	PullbackDistance   float64 // max distance from VWAP or mid MA to count as a pullback
	VolumeShrinkRatio  float64 // recent 3-bar volume vs prior 7-bar average
	BreakoutVolumeMult float64 // last-bar volume vs trailing 5-bar average on breakout
}

// longRules are the entry predicates for the trend-long: join an established
// uptrend on a quiet pullback or on a volume-confirmed push through the
// recent high. Any two of the three must hold at the same tick.
type longRules struct {
	p LongRuleParams
}

func (r longRules) Conditions(ctx EntryContext) []Condition {
	return []Condition{
		{Name: "pullback_to_support", Met: r.pullback(ctx)},
		{Name: "volume_contraction", Met: r.volumeContraction(ctx)},
		{Name: "breakout_reacceleration", Met: r.breakout(ctx)},
	}
}

// pullback: price has come back to within PullbackDistance of the VWAP or
// the mid MA.
func (r longRules) pullback(ctx EntryContext) bool {
	if ctx.VWAP.Valid && ctx.VWAP.V > 0 {
		if indicator.DistancePct(ctx.Price, ctx.VWAP.V) < r.p.PullbackDistance {
			return true
		}
	}
	if ctx.MA15.Valid && ctx.MA15.V > 0 {
		if indicator.DistancePct(ctx.Price, ctx.MA15.V) < r.p.PullbackDistance {
			return true
		}
	}
	return false
}

// volumeContraction: the last 3 bars average well below the preceding 7,
// i.e. the pullback is not being sold into.
func (r longRules) volumeContraction(ctx EntryContext) bool {
	v := ctx.Volumes5m
	if len(v) < 10 {
		return false
	}
	recent := mean(v[len(v)-3:])
	before := mean(v[len(v)-10 : len(v)-3])
	if before == 0 {
		return false
	}
	return recent < before*r.p.VolumeShrinkRatio
}

// breakout: price clears the recent high with the last bar's volume running
// above the trailing 5-bar average.
func (r longRules) breakout(ctx EntryContext) bool {
	v := ctx.Volumes5m
	if ctx.RecentHigh <= 0 || len(v) < 5 {
		return false
	}
	avg := mean(v[len(v)-5:])
	if avg == 0 {
		return false
	}
	return ctx.Price > ctx.RecentHigh && v[len(v)-1] > avg*r.p.BreakoutVolumeMult
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// DefaultLongParams returns the production parameter set for the trend-long
// strategy.
func DefaultLongParams() Params {
	return Params{
		Name:          "trend_long",
		Side:          Long,
		MinConditions: 2,
		RiskPerTrade:  0.003,
		StopOffset:    0.002,
		TakeProfit1R:  0.8,
		TakeProfit2R:  1.5,
		Partial1Ratio: 0.3,
		Partial2Ratio: 0.5,
		TrailingStop:  true,
		TrailPct:      0.002,
		MinHold:       5 * time.Minute,
		MaxHold:       2 * time.Hour,
	}
}

// NewTrendLong builds the trend-following long machine. The stop hangs below
// the pullback low; two partial targets, then a ratcheting trailing stop
// rides the remainder.
func NewTrendLong(params Params, rules LongRuleParams) *Machine {
	if rules.PullbackDistance == 0 {
		rules.PullbackDistance = 0.005
	}
	if rules.VolumeShrinkRatio == 0 {
		rules.VolumeShrinkRatio = 0.8
	}
	if rules.BreakoutVolumeMult == 0 {
		rules.BreakoutVolumeMult = 1.2
	}
	return NewMachine(params, longRules{p: rules})
}
