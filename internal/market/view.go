package market

import "okxquant/internal/indicator"

// Value is an indicator result that may be absent while the candle windows
// are still warming up.
type Value struct {
	V     float64
	Valid bool
}

func value(v float64, ok bool) Value { return Value{V: v, Valid: ok} }

// View holds the derived indicators the classifier and strategies consume,
// computed on demand from one snapshot.
type View struct {
	VWAP      Value
	MA5       Value
	MA15      Value
	MA60      Value
	PrevMA5   Value
	PrevMA15  Value
	MA5x15m   Value
	MA15x15m  Value
	MA60x15m  Value
	ATR       Value
	AvgATR    Value
	Volumes5m []float64
	Volumes15 []float64
}

// ViewParams carries the indicator periods; see config.Market.
type ViewParams struct {
	MAFast    int
	MAMid     int
	MASlow    int
	ATRPeriod int
	ATRBars   int
}

// NewView derives the indicator view from a snapshot. Absent values simply
// keep their dependent checks from firing.
func NewView(s *Snapshot, p ViewParams) *View {
	closes5m := Closes(s.Candles5m)
	closes15 := Closes(s.Candles15m)
	highs := Highs(s.Candles5m)
	lows := Lows(s.Candles5m)
	volumes5m := Volumes(s.Candles5m)
	volumes15 := Volumes(s.Candles15m)

	v := &View{
		VWAP:      value(indicator.VWAP(closes5m, volumes5m)),
		MA5:       value(indicator.SMA(closes5m, p.MAFast)),
		MA15:      value(indicator.SMA(closes5m, p.MAMid)),
		MA60:      value(indicator.SMA(closes5m, p.MASlow)),
		MA5x15m:   value(indicator.SMA(closes15, p.MAFast)),
		MA15x15m:  value(indicator.SMA(closes15, p.MAMid)),
		MA60x15m:  value(indicator.SMA(closes15, p.MASlow)),
		ATR:       value(indicator.ATR(highs, lows, closes5m, p.ATRPeriod)),
		AvgATR:    value(indicator.AvgATR(highs, lows, closes5m, p.ATRPeriod, p.ATRBars)),
		Volumes5m: volumes5m,
		Volumes15: volumes15,
	}
	if len(closes5m) > 1 {
		prev := closes5m[:len(closes5m)-1]
		v.PrevMA5 = value(indicator.SMA(prev, p.MAFast))
		v.PrevMA15 = value(indicator.SMA(prev, p.MAMid))
	}
	return v
}
