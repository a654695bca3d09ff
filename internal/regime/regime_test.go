package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okxquant/internal/market"
)

func testParams() Params {
	return Params{
		MinDailyGain:       0.04,
		VWAPDistance:       0.02,
		VolumeSpikeRatio:   1.5,
		OverheatFunding:    0.0002,
		TrendFundingMin:    -0.0001,
		TrendFundingMax:    0.0002,
		VolumeExplosionCap: 2.0,
		FundingThreshold:   0.0003,
	}
}

func viewParams() market.ViewParams {
	return market.ViewParams{MAFast: 5, MAMid: 15, MASlow: 60, ATRPeriod: 14, ATRBars: 24}
}

// overheatedCache builds a market where every overheat clause holds: 24h
// change 5%, price 2% above VWAP, a volume blow-off followed by three
// declining bars, funding 0.025 bps.
func overheatedCache(t *testing.T, funding float64) (*market.Snapshot, *market.View) {
	t.Helper()
	c := market.NewCache()
	volumes := []float64{10, 10, 10, 10, 60, 50, 40, 30}
	for i, vol := range volumes {
		err := c.AppendCandle(market.Timeframe5m, market.Candle{
			Open: 100, High: 101, Low: 99, Close: 100,
			Volume:    vol,
			Timestamp: time.Unix(int64(i)*300, 0).UTC(),
		})
		require.NoError(t, err)
	}
	c.SetTicker(102, 0.05) // VWAP of constant closes is 100
	c.SetFundingRate(&funding)
	snap := c.Snapshot()
	return snap, market.NewView(snap, viewParams())
}

func TestOverheatedAllClauses(t *testing.T) {
	snap, view := overheatedCache(t, 0.00025)
	cls := NewClassifier(testParams())
	assert.Equal(t, Overheated, cls.Classify(snap, view))
}

func TestOverheatedFundingTooLowIsNeutral(t *testing.T) {
	snap, view := overheatedCache(t, 0.0001)
	cls := NewClassifier(testParams())
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestOverheatedMissingFundingIsNeutral(t *testing.T) {
	snap, view := overheatedCache(t, 0.00025)
	snap.FundingRate = nil
	cls := NewClassifier(testParams())
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestOverheatedSingleClauseFlipsToNeutral(t *testing.T) {
	cls := NewClassifier(testParams())

	snap, view := overheatedCache(t, 0.00025)
	snap.DailyChangePct = 0.01
	assert.Equal(t, Neutral, cls.Classify(snap, view))

	snap, view = overheatedCache(t, 0.00025)
	snap.Price = 100.5 // under the VWAP distance
	assert.Equal(t, Neutral, cls.Classify(snap, view))

	snap, view = overheatedCache(t, 0.00025)
	view.Volumes5m[len(view.Volumes5m)-1] = 45 // breaks the decline
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestUnknownWithoutPrice(t *testing.T) {
	c := market.NewCache()
	snap := c.Snapshot()
	view := market.NewView(snap, viewParams())
	cls := NewClassifier(testParams())
	assert.Equal(t, Unknown, cls.Classify(snap, view))
}

// trendingView fabricates an indicator view satisfying every trending clause.
func trendingView() (*market.Snapshot, *market.View) {
	funding := 0.0001
	snap := &market.Snapshot{Price: 100, FundingRate: &funding}
	volumes15 := []float64{10, 10, 10, 10, 10, 10, 10, 11, 12, 13}
	return snap, &market.View{
		MA5:       market.Value{V: 103, Valid: true},
		MA15:      market.Value{V: 102, Valid: true},
		MA60:      market.Value{V: 101, Valid: true},
		ATR:       market.Value{V: 1.0, Valid: true},
		AvgATR:    market.Value{V: 1.5, Valid: true},
		Volumes15: volumes15,
	}
}

func TestTrendingAllClauses(t *testing.T) {
	snap, view := trendingView()
	cls := NewClassifier(testParams())
	assert.Equal(t, Trending, cls.Classify(snap, view))
}

func TestTrendingExplosiveVolumeRejected(t *testing.T) {
	snap, view := trendingView()
	view.Volumes15[len(view.Volumes15)-1] = 100 // spike over 2x trailing average
	cls := NewClassifier(testParams())
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestTrendingATRAboveAverageRejected(t *testing.T) {
	snap, view := trendingView()
	view.ATR.V = 2.0
	cls := NewClassifier(testParams())
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestTrendingMAOrderRequired(t *testing.T) {
	snap, view := trendingView()
	view.MA60.V = 110
	cls := NewClassifier(testParams())
	assert.Equal(t, Neutral, cls.Classify(snap, view))
}

func TestOverheatedTakesPriorityOverTrending(t *testing.T) {
	// A market satisfying every overheat clause must classify as overheated
	// even if the trending inputs are absent or contradictory.
	snap, view := overheatedCache(t, 0.00025)
	cls := NewClassifier(testParams())
	require.Equal(t, Overheated, cls.Classify(snap, view))
}

func TestFundingDirection(t *testing.T) {
	cls := NewClassifier(testParams())
	high := 0.0005
	low := -0.0005
	mid := 0.0001
	assert.Equal(t, NoLong, cls.FundingDirection(&high))
	assert.Equal(t, NoShort, cls.FundingDirection(&low))
	assert.Equal(t, Unconstrained, cls.FundingDirection(&mid))
	assert.Equal(t, Unconstrained, cls.FundingDirection(nil))
}

func TestZeroFundingIsAValidTrendRate(t *testing.T) {
	snap, view := trendingView()
	zero := 0.0
	snap.FundingRate = &zero
	cls := NewClassifier(testParams())
	assert.Equal(t, Trending, cls.Classify(snap, view))
}
