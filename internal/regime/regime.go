// Package regime classifies the market into one of a small set of states
// driving strategy selection. Checks run in priority order and the first
// match wins; a missing input fails the whole check it belongs to.
package regime

import (
	"okxquant/internal/indicator"
	"okxquant/internal/market"
)

type Regime int

const (
	Unknown Regime = iota
	Neutral
	Trending
	Overheated
)

func (r Regime) String() string {
	switch r {
	case Overheated:
		return "overheated"
	case Trending:
		return "trending"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// Direction is a funding-rate constraint on entries.
type Direction int

const (
	Unconstrained Direction = iota
	NoLong
	NoShort
)

func (d Direction) String() string {
	switch d {
	case NoLong:
		return "no_long"
	case NoShort:
		return "no_short"
	default:
		return "unconstrained"
	}
}

// Params are the classifier thresholds. All fractions, not percentages.
type Params struct {
	// Overheated clause thresholds.
	MinDailyGain     float64 // 24h change floor (default 0.04)
	VWAPDistance     float64 // price above VWAP by more than this (default 0.02)
	VolumeSpikeRatio float64 // peak vs average of prior four bars (default 1.5)
	OverheatFunding  float64 // funding floor (default 0.0002)

	// Trending clause thresholds.
	TrendFundingMin    float64 // default -0.0001
	TrendFundingMax    float64 // default 0.0002
	VolumeExplosionCap float64 // last 15m volume vs trailing 9-bar average (default 2.0)

	// Funding direction veto threshold (default 0.0003).
	FundingThreshold float64
}

type Classifier struct {
	params Params
}

func NewClassifier(params Params) *Classifier {
	return &Classifier{params: params}
}

// Classify maps the current snapshot and indicator view to a regime.
// Overheated is checked first, then Trending; everything else is Neutral.
// Unknown only when no trade price has been observed yet.
func (c *Classifier) Classify(snap *market.Snapshot, view *market.View) Regime {
	if !snap.HasPrice() {
		return Unknown
	}
	if c.isOverheated(snap, view) {
		return Overheated
	}
	if c.isTrending(snap, view) {
		return Trending
	}
	return Neutral
}

func (c *Classifier) isOverheated(snap *market.Snapshot, view *market.View) bool {
	if snap.DailyChangePct < c.params.MinDailyGain {
		return false
	}
	if !view.VWAP.Valid {
		return false
	}
	// Boundary is inclusive: exactly at the configured distance qualifies.
	if (snap.Price-view.VWAP.V)/view.VWAP.V < c.params.VWAPDistance {
		return false
	}
	if !spikeThenDecline(view.Volumes5m, c.params.VolumeSpikeRatio) {
		return false
	}
	if snap.FundingRate == nil || *snap.FundingRate < c.params.OverheatFunding {
		return false
	}
	return true
}

// spikeThenDecline detects a volume blow-off: the bar preceding the decline
// exceeds ratio times the average of its own prior four bars, and each of
// the last three bars is strictly lower than its predecessor.
func spikeThenDecline(volumes []float64, ratio float64) bool {
	n := len(volumes)
	if n < 8 {
		return false
	}
	if !indicator.VolumeSpike(volumes[:n-3], 4, ratio) {
		return false
	}
	for i := n - 3; i < n; i++ {
		if volumes[i] >= volumes[i-1] {
			return false
		}
	}
	return true
}

func (c *Classifier) isTrending(snap *market.Snapshot, view *market.View) bool {
	if !view.MA5.Valid || !view.MA15.Valid || !view.MA60.Valid {
		return false
	}
	if !(view.MA5.V > view.MA15.V && view.MA15.V > view.MA60.V) {
		return false
	}
	if !gentleVolumeGrowth(view.Volumes15, c.params.VolumeExplosionCap) {
		return false
	}
	if !view.ATR.Valid || !view.AvgATR.Valid || view.ATR.V >= view.AvgATR.V {
		return false
	}
	if snap.FundingRate == nil {
		return false
	}
	rate := *snap.FundingRate
	return rate >= c.params.TrendFundingMin && rate <= c.params.TrendFundingMax
}

// gentleVolumeGrowth requires three consecutive rising 15m volumes whose last
// bar stays under cap times the trailing 9-bar average, so an explosive spike
// is not misread as steady accumulation.
func gentleVolumeGrowth(volumes []float64, limit float64) bool {
	n := len(volumes)
	if n < 10 {
		return false
	}
	if !(volumes[n-1] > volumes[n-2] && volumes[n-2] > volumes[n-3]) {
		return false
	}
	avg := 0.0
	for _, v := range volumes[n-10 : n-1] {
		avg += v
	}
	avg /= 9
	return volumes[n-1] < avg*limit
}

// FundingDirection returns the entry constraint implied by the funding rate:
// crowded longs forbid new longs and vice versa. A nil rate constrains
// nothing.
func (c *Classifier) FundingDirection(rate *float64) Direction {
	if rate == nil {
		return Unconstrained
	}
	if *rate > c.params.FundingThreshold {
		return NoLong
	}
	if *rate < -c.params.FundingThreshold {
		return NoShort
	}
	return Unconstrained
}
