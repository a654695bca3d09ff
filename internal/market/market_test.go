package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts int64, close float64) Candle {
	return Candle{
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
		Timestamp: time.Unix(ts, 0).UTC(),
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, w.Append(bar(i*300, float64(i))))
	}
	candles := w.Candles()
	require.Len(t, candles, 3)
	assert.Equal(t, 2.0, candles[0].Close)
	assert.Equal(t, 4.0, candles[2].Close)
}

func TestWindowRejectsTimestampRegression(t *testing.T) {
	w := NewWindow(3)
	require.NoError(t, w.Append(bar(600, 1)))
	err := w.Append(bar(300, 2))
	assert.ErrorIs(t, err, ErrTimestampRegression)
}

func TestWindowReplacesFormingBar(t *testing.T) {
	w := NewWindow(3)
	require.NoError(t, w.Append(bar(300, 1)))
	require.NoError(t, w.Append(bar(300, 2)))
	candles := w.Candles()
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].Close)
}

func TestCachePublishesImmutableSnapshots(t *testing.T) {
	c := NewCache()
	before := c.Snapshot()
	assert.False(t, before.HasPrice())

	c.SetTicker(100, 0.05)
	after := c.Snapshot()
	assert.True(t, after.HasPrice())
	assert.Equal(t, 100.0, after.Price)
	// The earlier snapshot is unchanged by later writes.
	assert.False(t, before.HasPrice())
}

func TestCacheKeepsPrevBids(t *testing.T) {
	c := NewCache()
	first := []BookLevel{{100, 10}, {99, 10}}
	second := []BookLevel{{100, 5}, {99, 5}}
	c.SetOrderBook(first, nil)
	c.SetOrderBook(second, nil)
	snap := c.Snapshot()
	require.Len(t, snap.PrevBids, 2)
	assert.Equal(t, 10.0, snap.PrevBids[0][1])
	assert.Equal(t, 5.0, snap.Bids[0][1])
}

func TestCacheRecentExtremes(t *testing.T) {
	c := NewCache()
	for i := int64(0); i < 12; i++ {
		require.NoError(t, c.AppendCandle(Timeframe5m, bar(i*300, 50+float64(i))))
	}
	snap := c.Snapshot()
	// Only the trailing 10 bars count: closes 52..61, highs close+1, lows close-1.
	assert.Equal(t, 62.0, snap.RecentHigh)
	assert.Equal(t, 51.0, snap.RecentLow)
}

func TestViewWarmupValuesAbsent(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.AppendCandle(Timeframe5m, bar(0, 100)))
	v := NewView(c.Snapshot(), ViewParams{MAFast: 5, MAMid: 15, MASlow: 60, ATRPeriod: 14, ATRBars: 24})
	assert.False(t, v.MA5.Valid)
	assert.False(t, v.ATR.Valid)
	assert.False(t, v.AvgATR.Valid)
	assert.True(t, v.VWAP.Valid, "VWAP needs only one bar")
}
