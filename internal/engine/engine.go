// Package engine runs the decision loop: every tick it reads the latest
// market snapshot, classifies the regime, drives the two strategy machines
// through their lifecycles, and turns approved decisions into orders.
package engine

import (
	"context"
	"log/slog"
	"time"

	"okxquant/internal/config"
	"okxquant/internal/exchange"
	"okxquant/internal/market"
	"okxquant/internal/metrics"
	"okxquant/internal/regime"
	"okxquant/internal/risk"
	"okxquant/internal/state"
	"okxquant/internal/strategy"
)

// MarkSetter is implemented by the paper venue; live venues ignore marks.
type MarkSetter interface {
	SetMarkPrice(price float64)
}

// Engine owns the tick loop. All strategy and position mutations happen on
// the loop goroutine; only the market cache and the risk manager are shared
// with other goroutines.
type Engine struct {
	cfg        config.Config
	cache      *market.Cache
	classifier *regime.Classifier
	shortM     *strategy.Machine
	longM      *strategy.Machine
	riskMgr    *risk.Manager
	sink       exchange.OrderSink
	decisions  *DecisionLogger
	store      *state.Store
	mark       MarkSetter
}

func New(
	cfg config.Config,
	cache *market.Cache,
	classifier *regime.Classifier,
	shortM, longM *strategy.Machine,
	riskMgr *risk.Manager,
	sink exchange.OrderSink,
	decisions *DecisionLogger,
	store *state.Store,
) *Engine {
	return &Engine{
		cfg:        cfg,
		cache:      cache,
		classifier: classifier,
		shortM:     shortM,
		longM:      longM,
		riskMgr:    riskMgr,
		sink:       sink,
		decisions:  decisions,
		store:      store,
	}
}

// SetMarkSetter wires the paper venue's mark price to the live feed.
func (e *Engine) SetMarkSetter(m MarkSetter) { e.mark = m }

// Restore reinstates checkpointed positions into the machines.
func (e *Engine) Restore(cp state.Checkpoint) {
	e.riskMgr.Restore(cp.Risk)
	for _, m := range e.machines() {
		if pos, ok := cp.Positions[m.Name()]; ok && pos.Status == strategy.InPosition {
			m.Restore(pos)
			slog.Info("position restored from checkpoint",
				"strategy", m.Name(), "entry", pos.EntryPrice, "size", pos.Size)
		}
	}
}

func (e *Engine) machines() []*strategy.Machine {
	return []*strategy.Machine{e.shortM, e.longM}
}

// Run drives the tick loop until the context is canceled, checkpointing on
// the way out.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval.D())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.checkpoint()
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			e.Tick(ctx)
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// Tick executes one decision cycle. Exits are always evaluated before any
// entry work: an open position must never be orphaned by a new one.
func (e *Engine) Tick(ctx context.Context) {
	snap := e.cache.Snapshot()
	if snap == nil || !snap.HasPrice() {
		metrics.Decisions.WithLabelValues("no_data").Inc()
		return
	}
	if e.mark != nil {
		e.mark.SetMarkPrice(snap.Price)
	}

	view := market.NewView(snap, e.cfg.ViewParams())
	reg := e.classifier.Classify(snap, view)
	metrics.SetRegime(reg.String())

	for _, m := range e.machines() {
		m.ObservePrice(snap.Price)
	}

	if e.handleExits(ctx, snap, reg) {
		e.checkpoint()
		return
	}

	e.handleEntries(ctx, snap, view, reg)
	e.checkpoint()
}

// handleExits checks open positions and executes the first firing exit.
// Returns true when any exit work happened this tick.
func (e *Engine) handleExits(ctx context.Context, snap *market.Snapshot, reg regime.Regime) bool {
	for _, m := range e.machines() {
		if m.Status() != strategy.InPosition {
			continue
		}
		pos := m.Snapshot()
		extremum := pos.HighestSince
		if m.Side() == strategy.Long {
			extremum = pos.LowestSince
		}
		reason := m.CheckExit(snap.Price, extremum)
		if reason == strategy.ExitNone {
			continue
		}
		e.executeExit(ctx, m, snap, reg, reason)
		return true
	}
	return false
}

func (e *Engine) executeExit(ctx context.Context, m *strategy.Machine, snap *market.Snapshot, reg regime.Regime, reason strategy.ExitReason) {
	partial := reason.Partial(m.Params())
	size := m.Snapshot().Size
	stage := strategy.Stage2
	if partial {
		if reason == strategy.ExitTakeProfit1 {
			stage = strategy.Stage1
		}
		size = m.PartialSize(stage)
	}

	dec := Decision{
		Timestamp: time.Now().UTC(),
		Symbol:    e.cfg.Symbol,
		Price:     snap.Price,
		Regime:    reg.String(),
		Strategy:  m.Name(),
		Action:    "exit",
		Exit:      reason,
		Size:      size,
	}
	if partial {
		dec.Action = "partial_exit"
	}

	side := exchange.Sell
	if m.Side() == strategy.Short {
		side = exchange.Buy
	}
	fill, err := e.placeAndConfirm(ctx, exchange.OrderIntent{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Type:       exchange.Market,
		Size:       size,
		ReduceOnly: true,
	})
	if err != nil {
		// position intact; the same exit fires again next tick
		dec.Result = "order_failed"
		dec.RejectReason = err.Error()
		e.decisions.Append(dec)
		metrics.Orders.WithLabelValues(string(side), "failed").Inc()
		metrics.Decisions.WithLabelValues("exit_failed").Inc()
		slog.Error("exit order failed", "strategy", m.Name(), "reason", reason, "err", err)
		return
	}

	dec.OrderID = fill.OrderID
	dec.Result = "filled"
	metrics.Orders.WithLabelValues(string(side), "filled").Inc()
	metrics.ExitReasons.WithLabelValues(m.Name(), string(reason)).Inc()

	if partial {
		dec.PnL = m.OnPartialExit(fill.Size, fill.Price, stage)
		metrics.Decisions.WithLabelValues("partial_exit").Inc()
	} else {
		pnl := m.OnFullExit(fill.Price, reason)
		dec.PnL = pnl
		e.riskMgr.RecordTrade(pnl)
		metrics.Decisions.WithLabelValues("exit").Inc()
	}
	e.decisions.Append(dec)
}

// handleEntries arms and fires the strategy matching the current regime.
// Entries are skipped entirely while any position is open: one position at a
// time, across both strategies.
func (e *Engine) handleEntries(ctx context.Context, snap *market.Snapshot, view *market.View, reg regime.Regime) {
	for _, m := range e.machines() {
		if m.Status() == strategy.InPosition {
			return
		}
	}
	if !e.riskMgr.IsTradingAllowed() {
		metrics.Decisions.WithLabelValues("trading_halted").Inc()
		return
	}

	var target *strategy.Machine
	switch reg {
	case regime.Overheated:
		target = e.shortM
	case regime.Trending:
		target = e.longM
	}

	for _, m := range e.machines() {
		if m != target {
			m.Disarm()
		}
	}
	if target == nil {
		metrics.Decisions.WithLabelValues("hold").Inc()
		return
	}
	target.SetWaitingEntry()

	// funding direction veto ahead of any entry evaluation
	dir := e.classifier.FundingDirection(snap.FundingRate)
	if (dir == regime.NoShort && target.Side() == strategy.Short) ||
		(dir == regime.NoLong && target.Side() == strategy.Long) {
		metrics.Decisions.WithLabelValues("funding_veto").Inc()
		return
	}

	entryCtx := strategy.EntryContext{
		Price:      snap.Price,
		VWAP:       view.VWAP,
		MA5:        view.MA5,
		MA15:       view.MA15,
		PrevMA5:    view.PrevMA5,
		PrevMA15:   view.PrevMA15,
		Volumes5m:  view.Volumes5m,
		Bids:       snap.Bids,
		PrevBids:   snap.PrevBids,
		RecentHigh: snap.RecentHigh,
		RecentLow:  snap.RecentLow,
	}
	if !target.CheckEntry(entryCtx) {
		metrics.Decisions.WithLabelValues("waiting").Inc()
		return
	}

	e.executeEntry(ctx, target, snap, reg)
}

func (e *Engine) executeEntry(ctx context.Context, m *strategy.Machine, snap *market.Snapshot, reg regime.Regime) {
	equity := e.riskMgr.Equity()
	reference := snap.RecentHigh
	if m.Side() == strategy.Long {
		reference = snap.RecentLow
	}
	plan := m.PrepareEntry(equity, snap.Price, reference)

	dec := Decision{
		Timestamp: time.Now().UTC(),
		Symbol:    e.cfg.Symbol,
		Price:     snap.Price,
		Regime:    reg.String(),
		Strategy:  m.Name(),
		Action:    "entry",
		Reasons:   m.TriggerReasons(),
		Size:      plan.Size,
	}

	if plan.Size <= 0 {
		dec.Result = "rejected"
		dec.RejectReason = "zero_size"
		e.decisions.Append(dec)
		metrics.Decisions.WithLabelValues("zero_size").Inc()
		slog.Warn("entry rejected", "strategy", m.Name(), "reason", "zero_size", "equity", equity)
		return
	}

	report := e.riskMgr.CheckAll(equity, plan.EntryPrice, plan.StopPrice, plan.Size, snap.FundingRate, m.Side())
	if !report.Passed {
		dec.Result = "risk_rejected"
		for _, c := range report.Checks {
			if !c.Passed {
				dec.RejectReason = c.Reason
				metrics.RiskRejections.WithLabelValues(c.Name).Inc()
			}
		}
		e.decisions.Append(dec)
		metrics.Decisions.WithLabelValues("risk_rejected").Inc()
		return
	}

	side := exchange.Buy
	if m.Side() == strategy.Short {
		side = exchange.Sell
	}
	fill, err := e.placeAndConfirm(ctx, exchange.OrderIntent{
		Symbol: e.cfg.Symbol,
		Side:   side,
		Type:   exchange.Market,
		Size:   plan.Size,
	})
	if err != nil {
		// no OnEntry: the machine stays in WaitingEntry and may retry
		dec.Result = "order_failed"
		dec.RejectReason = err.Error()
		e.decisions.Append(dec)
		metrics.Orders.WithLabelValues(string(side), "failed").Inc()
		metrics.Decisions.WithLabelValues("entry_failed").Inc()
		slog.Error("entry order failed", "strategy", m.Name(), "err", err)
		return
	}

	m.OnEntry(plan, fill.Price, fill.Size)
	dec.Result = "filled"
	dec.OrderID = fill.OrderID
	dec.Size = fill.Size
	e.decisions.Append(dec)
	metrics.Orders.WithLabelValues(string(side), "filled").Inc()
	metrics.Decisions.WithLabelValues("entry").Inc()
}

// placeAndConfirm places a market order and waits for its fill, canceling
// the order if confirmation times out.
func (e *Engine) placeAndConfirm(ctx context.Context, intent exchange.OrderIntent) (exchange.Fill, error) {
	ack, err := e.sink.PlaceOrder(ctx, intent)
	if err != nil {
		return exchange.Fill{}, err
	}

	fillCtx, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout.D())
	defer cancel()
	fill, err := e.sink.AwaitFill(fillCtx, intent.Symbol, ack)
	if err != nil {
		if cancelErr := e.sink.CancelOrder(ctx, intent.Symbol, ack.OrderID); cancelErr != nil {
			slog.Error("cancel after fill timeout failed", "order_id", ack.OrderID, "err", cancelErr)
		}
		return exchange.Fill{}, err
	}
	return fill, nil
}

func (e *Engine) checkpoint() {
	positions := make(map[string]strategy.Position, 2)
	for _, m := range e.machines() {
		if m.Status() == strategy.InPosition {
			positions[m.Name()] = m.Snapshot()
		}
	}
	cp := state.Checkpoint{Risk: e.riskMgr.State(), Positions: positions}
	if err := e.store.Save(cp); err != nil {
		slog.Error("checkpoint save failed", "err", err)
	}
}
