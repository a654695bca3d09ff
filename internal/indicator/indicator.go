// Package indicator provides pure technical-indicator math over price and
// volume series. Every function reports ok=false when the supplied series is
// too short for the requested period; that is the expected state during
// warm-up, not an error.
package indicator

import "math"

// SMA returns the simple moving average of the trailing period values.
func SMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average over the whole series, seeded
// with the plain average of the first period values and a multiplier of
// 2/(period+1).
func EMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	multiplier := 2.0 / float64(period+1)
	ema := 0.0
	for _, v := range series[:period] {
		ema += v
	}
	ema /= float64(period)
	for _, v := range series[period:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema, true
}

// VWAP returns the volume-weighted average price of the paired series.
func VWAP(prices, volumes []float64) (float64, bool) {
	if len(prices) == 0 || len(prices) != len(volumes) {
		return 0, false
	}
	var weighted, total float64
	for i, p := range prices {
		weighted += p * volumes[i]
		total += volumes[i]
	}
	if total == 0 {
		return 0, false
	}
	return weighted / total, true
}

// ATR returns the average true range using Wilder's smoothing: the first
// period true ranges are seeded with their simple average, then
// atr = (atr*(period-1) + tr) / period for each later bar. True range needs
// a previous close, so period+1 candles are required.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 {
		return 0, false
	}
	n := len(closes)
	if len(highs) != n || len(lows) != n || n < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		trs = append(trs, tr)
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

// AvgATR recomputes ATR over the trailing bars windows ending at each of the
// last bars candles and returns their mean. O(bars * len(series)) but bars is
// small (typically 24).
func AvgATR(highs, lows, closes []float64, period, bars int) (float64, bool) {
	if period <= 0 || bars <= 0 {
		return 0, false
	}
	n := len(closes)
	if len(highs) != n || len(lows) != n || n < period+bars {
		return 0, false
	}
	sum := 0.0
	count := 0
	for end := n - bars; end < n; end++ {
		atr, ok := ATR(highs[:end+1], lows[:end+1], closes[:end+1], period)
		if !ok {
			continue
		}
		sum += atr
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Cross describes the relationship change between a fast and slow moving
// average pair across two consecutive bars.
type Cross int

const (
	CrossNone Cross = iota
	CrossGolden
	CrossDeath
)

// CrossSignal detects a golden or death cross given the previous and current
// fast/slow values.
func CrossSignal(prevFast, prevSlow, fast, slow float64) Cross {
	if prevFast <= prevSlow && fast > slow {
		return CrossGolden
	}
	if prevFast >= prevSlow && fast < slow {
		return CrossDeath
	}
	return CrossNone
}

// DistancePct returns |a-b|/b as a fraction. Zero when b is zero.
func DistancePct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Abs(a-b) / b
}

// VolumeSpike reports whether the most recent volume exceeds threshold times
// the average of the prior window bars.
func VolumeSpike(volumes []float64, window int, threshold float64) bool {
	if window <= 0 || len(volumes) < window+1 {
		return false
	}
	recent := volumes[len(volumes)-1]
	sum := 0.0
	for _, v := range volumes[len(volumes)-window-1 : len(volumes)-1] {
		sum += v
	}
	return recent > sum/float64(window)*threshold
}

// DepthChangeRatio compares the aggregate size of the top levels of two
// order-book sides. Positive means depth grew, negative means it shrank.
func DepthChangeRatio(current, previous [][2]float64, levels int) (float64, bool) {
	if len(current) < levels || len(previous) < levels {
		return 0, false
	}
	var cur, prev float64
	for i := 0; i < levels; i++ {
		cur += current[i][1]
		prev += previous[i][1]
	}
	if prev == 0 {
		return 0, false
	}
	return (cur - prev) / prev, true
}
