// Package strategy owns the per-strategy position lifecycle: a small state
// machine deciding when to enter, scale out of, and fully close one leveraged
// position. The skeleton is shared; entry predicates and sizing parameters
// are supplied per strategy.
package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"okxquant/internal/market"
)

// Status is the lifecycle state of one strategy's position machine.
type Status int

const (
	Idle Status = iota
	WaitingEntry
	InPosition
)

func (s Status) String() string {
	switch s {
	case WaitingEntry:
		return "waiting_entry"
	case InPosition:
		return "in_position"
	default:
		return "idle"
	}
}

// Side is the direction the strategy trades.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// ExitReason names why an open position should be reduced or closed.
type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit1  ExitReason = "take_profit_1r"
	ExitTakeProfit2  ExitReason = "take_profit_2r"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTimeout      ExitReason = "time_out"
)

// Partial reports whether the reason closes only part of the position for
// the given parameter set.
func (r ExitReason) Partial(p Params) bool {
	switch r {
	case ExitTakeProfit1:
		return p.Partial1Ratio > 0 && p.Partial1Ratio < 1
	case ExitTakeProfit2:
		return p.Partial2Ratio > 0 && p.Partial2Ratio < 1
	default:
		return false
	}
}

// Stage labels a partial exit.
type Stage string

const (
	Stage1 Stage = "1r"
	Stage2 Stage = "2r"
)

// Params are the named, per-strategy knobs. Nothing here is shared between
// the two strategy instances; see config for the defaults.
type Params struct {
	Name          string
	Side          Side
	MinConditions int // entry predicates that must hold simultaneously

	RiskPerTrade  float64 // fraction of equity risked per trade
	StopOffset    float64 // stop distance from the reference extremum
	TakeProfit1R  float64 // first target as an R-multiple
	TakeProfit2R  float64 // second target as an R-multiple
	Partial1Ratio float64 // fraction closed at the first target
	Partial2Ratio float64 // fraction closed at the second target; 0 closes all
	TrailingStop  bool
	TrailPct      float64
	MinHold       time.Duration
	MaxHold       time.Duration
}

// Validate rejects parameter sets that would make the machine misbehave at
// decision time rather than at startup.
func (p Params) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if p.MinConditions <= 0 {
		return fmt.Errorf("%s: min-conditions must be > 0", p.Name)
	}
	if p.RiskPerTrade <= 0 || p.RiskPerTrade >= 1 {
		return fmt.Errorf("%s: risk-per-trade must be in (0,1)", p.Name)
	}
	if p.StopOffset <= 0 {
		return fmt.Errorf("%s: stop-offset must be > 0", p.Name)
	}
	if p.TakeProfit1R <= 0 || p.TakeProfit2R <= p.TakeProfit1R {
		return fmt.Errorf("%s: take-profit R-multiples must satisfy 0 < tp1 < tp2", p.Name)
	}
	if p.Partial1Ratio <= 0 || p.Partial1Ratio > 1 {
		return fmt.Errorf("%s: partial-1 ratio must be in (0,1]", p.Name)
	}
	if p.Partial2Ratio < 0 || p.Partial2Ratio >= 1 {
		return fmt.Errorf("%s: partial-2 ratio must be in [0,1)", p.Name)
	}
	if p.TrailingStop && (p.TrailPct <= 0 || p.TrailPct >= 1) {
		return fmt.Errorf("%s: trail-pct must be in (0,1)", p.Name)
	}
	if p.MaxHold <= 0 || p.MaxHold < p.MinHold {
		return fmt.Errorf("%s: hold-time bounds invalid", p.Name)
	}
	return nil
}

// EntryContext is everything the entry predicates may look at for one tick.
type EntryContext struct {
	Price      float64
	VWAP       market.Value
	MA5        market.Value
	MA15       market.Value
	PrevMA5    market.Value
	PrevMA15   market.Value
	Volumes5m  []float64
	Bids       []market.BookLevel
	PrevBids   []market.BookLevel
	RecentHigh float64
	RecentLow  float64
}

// Condition is one named entry predicate result.
type Condition struct {
	Name string
	Met  bool
}

// Rules supplies the strategy-specific entry predicates.
type Rules interface {
	Conditions(ctx EntryContext) []Condition
}

// EntryPlan is the pure output of PrepareEntry: indicative prices and sizing
// before any order is placed. Size zero means the stop distance collapsed
// and the caller must reject the entry.
type EntryPlan struct {
	EntryPrice  float64
	StopPrice   float64
	TakeProfit1 float64
	TakeProfit2 float64
	Size        float64
	RiskAmount  float64
	RiskPerUnit float64
}

// Position is the mutable state of one open (or pending) position. Owned by
// the machine; callers read it through Snapshot().
type Position struct {
	Status         Status    `json:"status"`
	EntryPrice     float64   `json:"entry_price"`
	StopPrice      float64   `json:"stop_price"`
	TakeProfit1    float64   `json:"take_profit_1"`
	TakeProfit2    float64   `json:"take_profit_2"`
	Size           float64   `json:"size"`
	EntryTime      time.Time `json:"entry_time"`
	Partial1Done   bool      `json:"partial_1_done"`
	Partial2Done   bool      `json:"partial_2_done"`
	TrailingActive bool      `json:"trailing_active"`
	LowestSince    float64   `json:"lowest_since_entry"`
	HighestSince   float64   `json:"highest_since_entry"`
	RealizedPnL    float64   `json:"realized_pnl"`
}

// Machine is the shared position state machine. All transitions run on the
// single decision goroutine; the machine is not safe for concurrent use.
type Machine struct {
	params  Params
	rules   Rules
	pos     Position
	reasons []string
	now     func() time.Time
}

func NewMachine(params Params, rules Rules) *Machine {
	return &Machine{params: params, rules: rules, now: time.Now}
}

func (m *Machine) Name() string       { return m.params.Name }
func (m *Machine) Side() Side         { return m.params.Side }
func (m *Machine) Params() Params     { return m.params }
func (m *Machine) Status() Status     { return m.pos.Status }
func (m *Machine) Snapshot() Position { return m.pos }

// Restore reinstates a checkpointed position, e.g. after a restart while a
// position was open.
func (m *Machine) Restore(pos Position) {
	m.pos = pos
}

// TriggerReasons returns the predicate names that satisfied the last firing
// entry check, for the decision journal.
func (m *Machine) TriggerReasons() []string {
	out := make([]string, len(m.reasons))
	copy(out, m.reasons)
	return out
}

// SetWaitingEntry arms the machine. Only an Idle machine transitions; regime
// flicker while a position is pending or open changes nothing.
func (m *Machine) SetWaitingEntry() {
	if m.pos.Status == Idle {
		m.pos.Status = WaitingEntry
	}
}

// Disarm returns a waiting machine to Idle when its regime has gone away.
func (m *Machine) Disarm() {
	if m.pos.Status == WaitingEntry {
		m.pos.Status = Idle
	}
}

// CheckEntry evaluates the strategy's entry predicates and reports true when
// at least MinConditions hold. Only meaningful in WaitingEntry.
func (m *Machine) CheckEntry(ctx EntryContext) bool {
	if m.pos.Status != WaitingEntry {
		return false
	}
	met := 0
	m.reasons = m.reasons[:0]
	for _, c := range m.rules.Conditions(ctx) {
		if c.Met {
			met++
			m.reasons = append(m.reasons, c.Name)
		}
	}
	if met < m.params.MinConditions {
		return false
	}
	slog.Info("entry conditions met",
		"strategy", m.params.Name, "price", ctx.Price, "conditions", met, "reasons", m.reasons)
	return true
}

// PrepareEntry computes the stop, sizing, and take-profit levels for an entry
// at price. reference is the recent extremum the stop hangs off (recent high
// for shorts, pullback low for longs); zero falls back to price. Pure: no
// machine state is touched.
func (m *Machine) PrepareEntry(equity, price, reference float64) EntryPlan {
	if reference == 0 {
		reference = price
	}
	var stop float64
	if m.params.Side == Short {
		stop = reference * (1 + m.params.StopOffset)
	} else {
		stop = reference * (1 - m.params.StopOffset)
	}

	riskAmount := equity * m.params.RiskPerTrade
	stopDistance := math.Abs(price - stop)
	size := 0.0
	if stopDistance > 0 {
		size = roundSize(riskAmount / stopDistance)
	}

	plan := EntryPlan{
		EntryPrice:  price,
		StopPrice:   stop,
		Size:        size,
		RiskAmount:  riskAmount,
		RiskPerUnit: stopDistance,
	}
	plan.TakeProfit1, plan.TakeProfit2 = m.takeProfits(price, stop)
	return plan
}

// OnEntry applies a confirmed fill: the machine transitions to InPosition and
// the take-profit levels are recomputed from the actual fill price, which may
// differ from the indicative price PrepareEntry used.
func (m *Machine) OnEntry(plan EntryPlan, fillPrice, size float64) {
	tp1, tp2 := m.takeProfits(fillPrice, plan.StopPrice)
	m.pos = Position{
		Status:       InPosition,
		EntryPrice:   fillPrice,
		StopPrice:    plan.StopPrice,
		TakeProfit1:  tp1,
		TakeProfit2:  tp2,
		Size:         size,
		EntryTime:    m.now(),
		LowestSince:  fillPrice,
		HighestSince: fillPrice,
	}
	slog.Info("position opened",
		"strategy", m.params.Name, "side", m.params.Side, "fill", fillPrice, "size", size,
		"stop", plan.StopPrice, "tp1", tp1, "tp2", tp2)
}

func (m *Machine) takeProfits(entry, stop float64) (tp1, tp2 float64) {
	risk := math.Abs(stop - entry)
	if m.params.Side == Short {
		return entry - risk*m.params.TakeProfit1R, entry - risk*m.params.TakeProfit2R
	}
	return entry + risk*m.params.TakeProfit1R, entry + risk*m.params.TakeProfit2R
}

// ObservePrice updates the extremums tracked since entry.
func (m *Machine) ObservePrice(price float64) {
	if m.pos.Status != InPosition {
		return
	}
	if price < m.pos.LowestSince {
		m.pos.LowestSince = price
	}
	if price > m.pos.HighestSince {
		m.pos.HighestSince = price
	}
}

// CheckExit returns the first matching exit reason, in priority order:
// stop-loss, first take-profit (once), second take-profit (once), trailing
// stop (when enabled and armed by the second take-profit), max hold time.
// extremum is the since-entry price extremum the trailing stop anchors to;
// the trailing stop only ever ratchets tighter, never loosens.
func (m *Machine) CheckExit(price, extremum float64) ExitReason {
	if m.pos.Status != InPosition {
		return ExitNone
	}
	if m.stopHit(price, m.pos.StopPrice) {
		if m.pos.TrailingActive {
			return ExitTrailingStop
		}
		return ExitStopLoss
	}
	if !m.pos.Partial1Done && m.targetHit(price, m.pos.TakeProfit1) {
		return ExitTakeProfit1
	}
	if !m.pos.Partial2Done && m.targetHit(price, m.pos.TakeProfit2) {
		return ExitTakeProfit2
	}
	if m.params.TrailingStop && m.pos.Partial2Done && extremum > 0 {
		newStop := m.trailingStopFor(extremum)
		if !m.pos.TrailingActive || m.tightens(newStop, m.pos.StopPrice) {
			m.pos.StopPrice = newStop
			m.pos.TrailingActive = true
			slog.Debug("trailing stop moved", "strategy", m.params.Name, "stop", newStop)
		}
		if m.stopHit(price, m.pos.StopPrice) {
			return ExitTrailingStop
		}
	}
	if !m.pos.EntryTime.IsZero() && m.now().Sub(m.pos.EntryTime) > m.params.MaxHold {
		return ExitTimeout
	}
	return ExitNone
}

func (m *Machine) stopHit(price, stop float64) bool {
	if stop == 0 {
		return false
	}
	if m.params.Side == Short {
		return price >= stop
	}
	return price <= stop
}

func (m *Machine) targetHit(price, target float64) bool {
	if target == 0 {
		return false
	}
	if m.params.Side == Short {
		return price <= target
	}
	return price >= target
}

func (m *Machine) trailingStopFor(extremum float64) float64 {
	if m.params.Side == Short {
		return extremum * (1 + m.params.TrailPct)
	}
	return extremum * (1 - m.params.TrailPct)
}

// tightens reports whether candidate moves the stop in the favorable
// direction for this side.
func (m *Machine) tightens(candidate, current float64) bool {
	if m.params.Side == Short {
		return candidate < current
	}
	return candidate > current
}

// PartialSize returns the reduce-only size for the given stage against the
// currently tracked remaining size.
func (m *Machine) PartialSize(stage Stage) float64 {
	switch stage {
	case Stage1:
		return roundSize(m.pos.Size * m.params.Partial1Ratio)
	case Stage2:
		return roundSize(m.pos.Size * m.params.Partial2Ratio)
	}
	return 0
}

// OnPartialExit books a confirmed partial fill: reduces the tracked size,
// latches the stage flag, and returns the realized PnL of the closed slice.
// The position stays open.
func (m *Machine) OnPartialExit(size, price float64, stage Stage) float64 {
	if m.pos.Status != InPosition {
		return 0
	}
	m.pos.Size = roundSize(m.pos.Size - size)
	switch stage {
	case Stage1:
		m.pos.Partial1Done = true
	case Stage2:
		m.pos.Partial2Done = true
	}
	pnl := m.pnl(price, size)
	m.pos.RealizedPnL += pnl
	slog.Info("partial exit",
		"strategy", m.params.Name, "stage", stage, "size", size, "price", price, "pnl", pnl)
	return pnl
}

// OnFullExit books the final fill, returns the total realized PnL of the
// whole trade (partials included), and resets the machine to Idle.
func (m *Machine) OnFullExit(price float64, reason ExitReason) float64 {
	if m.pos.Status != InPosition {
		return 0
	}
	pnl := m.pnl(price, m.pos.Size)
	total := m.pos.RealizedPnL + pnl
	hold := m.now().Sub(m.pos.EntryTime)
	slog.Info("position closed",
		"strategy", m.params.Name, "reason", reason, "size", m.pos.Size, "price", price,
		"pnl", pnl, "trade_pnl", total, "held", hold.Round(time.Second))
	m.Reset()
	return total
}

// Reset force-clears the machine to Idle regardless of current status.
func (m *Machine) Reset() {
	m.pos = Position{}
	m.reasons = nil
}

func (m *Machine) pnl(exit float64, size float64) float64 {
	if m.params.Side == Short {
		return (m.pos.EntryPrice - exit) * size
	}
	return (exit - m.pos.EntryPrice) * size
}

// roundSize quantizes contract sizes to 3 decimals, matching the lot
// granularity of the traded swap.
func roundSize(v float64) float64 {
	return math.Round(v*1000) / 1000
}
