// Package risk is the pre-trade gate and the keeper of the daily account
// statistics every gate decision reads. All checks run before any order is
// placed; a blocked check vetoes the entry for this tick only.
package risk

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"okxquant/internal/strategy"
)

// Level grades a check result.
type Level int

const (
	Safe Level = iota
	Warning
	Danger
	Blocked
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Danger:
		return "danger"
	case Blocked:
		return "blocked"
	default:
		return "safe"
	}
}

// Limits are the configured risk ceilings.
type Limits struct {
	MaxPositionRisk  float64 // max loss-at-stop as a fraction of equity
	MaxDailyDrawdown float64 // fraction of the daily peak equity
	MaxTradesPerDay  int
	FundingThreshold float64 // absolute funding rate ceiling per direction
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionRisk:  0.005,
		MaxDailyDrawdown: 0.02,
		MaxTradesPerDay:  6,
		FundingThreshold: 0.0003,
	}
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Level  Level   `json:"-"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// Report is the combined outcome of CheckAll. Passed is true only when every
// individual check passed; Level is the worst level seen.
type Report struct {
	Passed bool
	Level  Level
	Checks []CheckResult
}

// TradeRecord is one completed trade booked against today's statistics.
type TradeRecord struct {
	Time time.Time `json:"time"`
	PnL  float64   `json:"pnl"`
}

// DailyState is the checkpointable slice of the manager, restored across
// restarts so a crash cannot reset the day's trade count or drawdown anchor.
type DailyState struct {
	Date           string        `json:"date"`
	StartEquity    float64       `json:"start_equity"`
	CurrentEquity  float64       `json:"current_equity"`
	MaxDailyEquity float64       `json:"max_daily_equity"`
	DailyPnL       float64       `json:"daily_pnl"`
	TradesCount    int           `json:"trades_count"`
	History        []TradeRecord `json:"history,omitempty"`
}

// Summary is the end-of-day report.
type Summary struct {
	Date          string
	StartEquity   float64
	CurrentEquity float64
	MaxEquity     float64
	DailyPnL      float64
	DailyPnLPct   float64
	DrawdownPct   float64
	TradesCount   int
}

// Manager holds the daily equity statistics and applies every pre-trade
// check against them. Safe for concurrent use: the decision loop reads it
// while the account reconciler feeds equity updates in.
type Manager struct {
	mu     sync.Mutex
	limits Limits

	startEquity    float64
	currentEquity  float64
	maxDailyEquity float64
	dailyPnL       float64
	dailyTrades    int
	history        []TradeRecord
	lastResetDate  string

	now func() time.Time
}

func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits, now: time.Now}
}

// UpdateEquity feeds a fresh equity reading in, advancing the daily peak and
// rolling the statistics over at the first reading of a new calendar day.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startEquity == 0 {
		m.startEquity = equity
	}
	m.currentEquity = equity
	if equity > m.maxDailyEquity {
		m.maxDailyEquity = equity
	}
	m.resetDailyLocked()
}

// Equity returns the last equity reading fed in.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentEquity
}

// resetDailyLocked clears the per-day statistics when the calendar day has
// changed since the last reading.
func (m *Manager) resetDailyLocked() {
	today := m.now().Format("2006-01-02")
	if m.lastResetDate == today {
		return
	}
	m.lastResetDate = today
	m.dailyTrades = 0
	m.dailyPnL = 0
	m.history = nil
	if m.currentEquity > 0 {
		m.maxDailyEquity = m.currentEquity
	}
	slog.Info("daily risk statistics reset", "date", today)
}

// CheckPositionRisk compares the loss at the stop against the per-trade
// ceiling. Exactly at the ceiling passes; only exceeding it blocks.
func (m *Manager) CheckPositionRisk(equity, entryPrice, stopPrice, size float64) CheckResult {
	riskAmount := math.Abs(entryPrice-stopPrice) * size
	riskPct := 0.0
	if equity > 0 {
		riskPct = riskAmount / equity
	}

	res := CheckResult{Name: "position_risk", Passed: true, Level: Safe, Value: riskPct}
	if riskPct > m.limits.MaxPositionRisk {
		res.Passed = false
		res.Level = Blocked
		res.Reason = "per_trade_risk_exceeded"
		slog.Info("risk rejected", "check", res.Name, "risk_pct", riskPct, "max", m.limits.MaxPositionRisk)
	}
	return res
}

// CheckDailyDrawdown measures the fall from today's equity peak. At or past
// the limit the day is blocked; from 70% of the limit it is a warning.
func (m *Manager) CheckDailyDrawdown() CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDailyDrawdownLocked()
}

func (m *Manager) checkDailyDrawdownLocked() CheckResult {
	res := CheckResult{Name: "daily_drawdown", Passed: true, Level: Safe}
	if m.maxDailyEquity == 0 {
		return res
	}
	drawdown := (m.maxDailyEquity - m.currentEquity) / m.maxDailyEquity
	res.Value = drawdown

	switch {
	case drawdown >= m.limits.MaxDailyDrawdown:
		res.Passed = false
		res.Level = Blocked
		res.Reason = "daily_drawdown_exceeded"
		slog.Info("risk rejected", "check", res.Name, "drawdown", drawdown, "max", m.limits.MaxDailyDrawdown)
	case drawdown >= m.limits.MaxDailyDrawdown*0.7:
		res.Level = Warning
		res.Reason = "approaching_daily_drawdown"
		slog.Warn("daily drawdown approaching limit", "drawdown", drawdown, "max", m.limits.MaxDailyDrawdown)
	}
	return res
}

// CheckTradesLimit enforces the daily trade count cap, warning from 80% of
// the cap.
func (m *Manager) CheckTradesLimit() CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkTradesLimitLocked()
}

func (m *Manager) checkTradesLimitLocked() CheckResult {
	res := CheckResult{Name: "trades_limit", Passed: true, Level: Safe, Value: float64(m.dailyTrades)}

	switch {
	case m.dailyTrades >= m.limits.MaxTradesPerDay:
		res.Passed = false
		res.Level = Blocked
		res.Reason = "daily_trade_limit_reached"
		slog.Info("risk rejected", "check", res.Name, "trades", m.dailyTrades, "max", m.limits.MaxTradesPerDay)
	case float64(m.dailyTrades) >= float64(m.limits.MaxTradesPerDay)*0.8:
		res.Level = Warning
		res.Reason = "approaching_daily_trade_limit"
		slog.Warn("trade count approaching limit", "trades", m.dailyTrades, "max", m.limits.MaxTradesPerDay)
	}
	return res
}

// CheckFunding blocks longs when the funding rate is above the threshold and
// shorts when it is below the negated threshold. A missing rate passes: the
// regime classifier has already required funding data for any entry setup.
func (m *Manager) CheckFunding(rate *float64, side strategy.Side) CheckResult {
	res := CheckResult{Name: "funding_rate", Passed: true, Level: Safe}
	if rate == nil {
		return res
	}
	res.Value = *rate

	if side == strategy.Long && *rate > m.limits.FundingThreshold {
		res.Passed = false
		res.Level = Blocked
		res.Reason = "funding_too_high_for_long"
		slog.Info("risk rejected", "check", res.Name, "rate", *rate, "side", side)
	}
	if side == strategy.Short && *rate < -m.limits.FundingThreshold {
		res.Passed = false
		res.Level = Blocked
		res.Reason = "funding_too_low_for_short"
		slog.Info("risk rejected", "check", res.Name, "rate", *rate, "side", side)
	}
	return res
}

// CheckAll runs every pre-trade check against one proposed entry. All four
// always run so the report names every violation, not just the first.
func (m *Manager) CheckAll(equity, entryPrice, stopPrice, size float64, funding *float64, side strategy.Side) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	checks := []CheckResult{
		m.CheckPositionRisk(equity, entryPrice, stopPrice, size),
		m.checkDailyDrawdownLocked(),
		m.checkTradesLimitLocked(),
		m.CheckFunding(funding, side),
	}

	rep := Report{Passed: true, Level: Safe, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			rep.Passed = false
		}
		if c.Level > rep.Level {
			rep.Level = c.Level
		}
	}
	return rep
}

// IsTradingAllowed is the cheap pre-gate the tick loop consults before doing
// any entry work: the day-scoped checks only, no per-trade inputs needed.
func (m *Manager) IsTradingAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDailyDrawdownLocked().Passed && m.checkTradesLimitLocked().Passed
}

// RecordTrade books one completed trade against today's statistics.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyTrades++
	m.dailyPnL += pnl
	m.history = append(m.history, TradeRecord{Time: m.now(), PnL: pnl})
	slog.Info("trade recorded", "count", m.dailyTrades, "pnl", pnl, "daily_pnl", m.dailyPnL)
}

// DailySummary snapshots today's statistics for logging and shutdown.
func (m *Manager) DailySummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Date:          m.lastResetDate,
		StartEquity:   m.startEquity,
		CurrentEquity: m.currentEquity,
		MaxEquity:     m.maxDailyEquity,
		DailyPnL:      m.dailyPnL,
		TradesCount:   m.dailyTrades,
	}
	if m.startEquity > 0 {
		s.DailyPnLPct = m.dailyPnL / m.startEquity * 100
	}
	if m.maxDailyEquity > 0 {
		s.DrawdownPct = (m.maxDailyEquity - m.currentEquity) / m.maxDailyEquity * 100
	}
	return s
}

// State exports the checkpointable daily statistics.
func (m *Manager) State() DailyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := make([]TradeRecord, len(m.history))
	copy(hist, m.history)
	return DailyState{
		Date:           m.lastResetDate,
		StartEquity:    m.startEquity,
		CurrentEquity:  m.currentEquity,
		MaxDailyEquity: m.maxDailyEquity,
		DailyPnL:       m.dailyPnL,
		TradesCount:    m.dailyTrades,
		History:        hist,
	}
}

// Restore reinstates a checkpoint. A checkpoint from a previous calendar day
// is ignored; the first equity update will start the new day cleanly.
func (m *Manager) Restore(s DailyState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Date != m.now().Format("2006-01-02") {
		slog.Info("stale risk checkpoint ignored", "date", s.Date)
		return
	}
	m.lastResetDate = s.Date
	m.startEquity = s.StartEquity
	m.currentEquity = s.CurrentEquity
	m.maxDailyEquity = s.MaxDailyEquity
	m.dailyPnL = s.DailyPnL
	m.dailyTrades = s.TradesCount
	m.history = append([]TradeRecord(nil), s.History...)
}
