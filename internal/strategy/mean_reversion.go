package strategy

import (
	"time"

	"okxquant/internal/indicator"
)

// ShortRuleParams tune the overheat-short entry predicates.
type ShortRuleParams struct {
	DepthDropRatio float64 // bid depth contraction that counts as withdrawal
	DepthLevels    int
}

// shortRules are the entry predicates for the mean-reversion short: fade an
// overheated run-up once momentum visibly stalls. Any two of the three must
// hold at the same tick.
type shortRules struct {
	p ShortRuleParams
}

func (r shortRules) Conditions(ctx EntryContext) []Condition {
	return []Condition{
		{Name: "price_below_vwap", Met: r.priceBelowVWAP(ctx)},
		{Name: "ma_death_cross", Met: r.deathCross(ctx)},
		{Name: "bid_depth_withdrawal", Met: r.depthWithdrawal(ctx)},
	}
}

// priceBelowVWAP: the run-up has given back its premium and trades under
// the session VWAP again.
func (r shortRules) priceBelowVWAP(ctx EntryContext) bool {
	return ctx.VWAP.Valid && ctx.Price < ctx.VWAP.V
}

// deathCross: the fast MA crossed under the mid MA on this bar.
func (r shortRules) deathCross(ctx EntryContext) bool {
	if !ctx.MA5.Valid || !ctx.MA15.Valid || !ctx.PrevMA5.Valid || !ctx.PrevMA15.Valid {
		return false
	}
	cross := indicator.CrossSignal(ctx.PrevMA5.V, ctx.PrevMA15.V, ctx.MA5.V, ctx.MA15.V)
	return cross == indicator.CrossDeath
}

// depthWithdrawal: aggregate bid depth on the top levels shrank by at least
// the configured ratio since the previous book snapshot.
func (r shortRules) depthWithdrawal(ctx EntryContext) bool {
	change, ok := indicator.DepthChangeRatio(ctx.Bids, ctx.PrevBids, r.p.DepthLevels)
	if !ok {
		return false
	}
	return -change >= r.p.DepthDropRatio
}

// DefaultShortParams returns the production parameter set for the
// overheat-short strategy.
func DefaultShortParams() Params {
	return Params{
		Name:          "overheat_short",
		Side:          Short,
		MinConditions: 2,
		RiskPerTrade:  0.003,
		StopOffset:    0.0025,
		TakeProfit1R:  1.0,
		TakeProfit2R:  1.5,
		Partial1Ratio: 0.5,
		Partial2Ratio: 0, // second target closes the remainder
		TrailingStop:  false,
		MinHold:       10 * time.Minute,
		MaxHold:       30 * time.Minute,
	}
}

// NewOverheatShort builds the mean-reversion short machine. The stop hangs
// above the recent high; the first target closes half, the second closes
// the rest.
func NewOverheatShort(params Params, rules ShortRuleParams) *Machine {
	if rules.DepthDropRatio == 0 {
		rules.DepthDropRatio = 0.2
	}
	if rules.DepthLevels == 0 {
		rules.DepthLevels = 5
	}
	return NewMachine(params, shortRules{p: rules})
}
