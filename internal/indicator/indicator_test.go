package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMAInsufficientData(t *testing.T) {
	_, ok := SMA([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestSMATrailingWindow(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-9)
}

func TestEMAInsufficientData(t *testing.T) {
	_, ok := EMA([]float64{1, 2, 3}, 4)
	assert.False(t, ok)
}

func TestEMASeedsWithSMA(t *testing.T) {
	// With exactly period points EMA equals the plain average.
	v, ok := EMA([]float64{2, 4, 6}, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-9)
}

func TestEMAAppliesMultiplier(t *testing.T) {
	// Seed avg(2,4,6)=4, multiplier 2/4=0.5, next point 8: 4 + 0.5*(8-4) = 6.
	v, ok := EMA([]float64{2, 4, 6, 8}, 3)
	require.True(t, ok)
	assert.InDelta(t, 6.0, v, 1e-9)
}

func TestVWAP(t *testing.T) {
	v, ok := VWAP([]float64{10, 20}, []float64{1, 3})
	require.True(t, ok)
	assert.InDelta(t, 17.5, v, 1e-9)
}

func TestVWAPZeroVolume(t *testing.T) {
	_, ok := VWAP([]float64{10, 20}, []float64{0, 0})
	assert.False(t, ok)
}

func TestVWAPMismatchedLengths(t *testing.T) {
	_, ok := VWAP([]float64{10, 20}, []float64{1})
	assert.False(t, ok)
}

func TestATRNeedsPeriodPlusOne(t *testing.T) {
	highs := []float64{2, 3}
	lows := []float64{1, 2}
	closes := []float64{1.5, 2.5}
	_, ok := ATR(highs, lows, closes, 2)
	assert.False(t, ok)
}

func TestATRWilderSmoothing(t *testing.T) {
	// Each close sits inside the next bar's range, so every TR is the plain
	// 1-point high-low and the smoothed value stays 1 regardless of length.
	highs := []float64{2, 3, 4, 5, 6}
	lows := []float64{1, 2, 3, 4, 5}
	closes := []float64{2, 3, 4, 5, 6}
	v, ok := ATR(highs, lows, closes, 2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestATRUsesGapFromPrevClose(t *testing.T) {
	// Second bar gaps above the prior close: TR = |high - prevClose|.
	highs := []float64{10, 20, 21}
	lows := []float64{9, 19, 20}
	closes := []float64{9.5, 19.5, 20.5}
	v, ok := ATR(highs, lows, closes, 2)
	require.True(t, ok)
	// TRs: max(1, 10.5, 9.5)=10.5 and max(1, 1.5, 0.5)=1.5, seed avg = 6.
	assert.InDelta(t, 6.0, v, 1e-9)
}

func TestAvgATRExactWindow(t *testing.T) {
	period, bars := 14, 24
	n := period + bars
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := float64(i)
		highs[i] = base + 2
		lows[i] = base
		closes[i] = base + 1
	}
	v, ok := AvgATR(highs, lows, closes, period, bars)
	require.True(t, ok)
	// Every trailing window is uniform with TR=2, so the mean of all 24
	// recomputed ATRs is 2.
	assert.InDelta(t, 2.0, v, 1e-9)

	_, ok = AvgATR(highs[:n-1], lows[:n-1], closes[:n-1], period, bars)
	assert.False(t, ok, "one candle short of period+bars must be absent")
}

func TestCrossSignal(t *testing.T) {
	assert.Equal(t, CrossDeath, CrossSignal(101, 100, 99, 100))
	assert.Equal(t, CrossGolden, CrossSignal(99, 100, 101, 100))
	assert.Equal(t, CrossNone, CrossSignal(101, 100, 102, 100))
}

func TestDistancePct(t *testing.T) {
	assert.InDelta(t, 0.02, DistancePct(102, 100), 1e-9)
	assert.InDelta(t, 0.02, DistancePct(98, 100), 1e-9)
	assert.Zero(t, DistancePct(5, 0))
}

func TestDepthChangeRatio(t *testing.T) {
	prev := [][2]float64{{100, 10}, {99, 10}, {98, 10}, {97, 10}, {96, 10}}
	cur := [][2]float64{{100, 8}, {99, 8}, {98, 8}, {97, 8}, {96, 8}}
	r, ok := DepthChangeRatio(cur, prev, 5)
	require.True(t, ok)
	assert.InDelta(t, -0.2, r, 1e-9)

	_, ok = DepthChangeRatio(cur[:3], prev, 5)
	assert.False(t, ok)
}

func TestVolumeSpike(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 16}
	assert.True(t, VolumeSpike(flat, 9, 1.5))
	flat[len(flat)-1] = 14
	assert.False(t, VolumeSpike(flat, 9, 1.5))
	assert.False(t, VolumeSpike(flat[:5], 9, 1.5))

	// a shorter window over the same series
	assert.True(t, VolumeSpike([]float64{10, 10, 10, 10, 16}, 4, 1.5))
	assert.False(t, VolumeSpike([]float64{10, 10, 10, 16}, 4, 1.5))
}
