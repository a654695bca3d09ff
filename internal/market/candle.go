package market

import (
	"errors"
	"time"
)

// Candle is one OHLCV bar. Immutable once appended to a window.
type Candle struct {
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	VolumeQuote float64   `json:"volume_quote"`
	Timestamp   time.Time `json:"timestamp"`
}

var ErrTimestampRegression = errors.New("candle timestamp older than window head")

// Window is a bounded, time-ordered candle sequence. When full, appending
// evicts the oldest bar. An update carrying the head timestamp replaces the
// head in place (the venue re-sends the forming bar until it closes), so
// timestamps are strictly non-decreasing.
type Window struct {
	candles  []Candle
	capacity int
}

func NewWindow(capacity int) *Window {
	return &Window{
		candles:  make([]Candle, 0, capacity),
		capacity: capacity,
	}
}

func (w *Window) Append(c Candle) error {
	n := len(w.candles)
	if n > 0 {
		head := w.candles[n-1].Timestamp
		if c.Timestamp.Before(head) {
			return ErrTimestampRegression
		}
		if c.Timestamp.Equal(head) {
			w.candles[n-1] = c
			return nil
		}
	}
	if n == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:n-1]
	}
	w.candles = append(w.candles, c)
	return nil
}

func (w *Window) Len() int { return len(w.candles) }

// Candles returns a copy of the window contents, oldest first.
func (w *Window) Candles() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Closes returns the close series, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
