package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"okxquant/internal/exchange"
	"okxquant/internal/metrics"
	"okxquant/internal/strategy"
)

// FundingSource reads the current funding rate. The websocket feed does not
// carry it, so the reconciler polls it over REST.
type FundingSource interface {
	FundingRate(ctx context.Context, symbol string) (*float64, error)
}

// ReconcileLoop keeps the slow-moving account state fresh: equity into the
// risk manager, the funding rate into the market cache, and a drift check
// between the venue's position and the machines' view of it.
func (e *Engine) ReconcileLoop(ctx context.Context, account exchange.AccountSource, funding FundingSource) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval.D())
	defer ticker.Stop()

	e.reconcileOnce(ctx, account, funding)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce(ctx, account, funding)
		}
	}
}

func (e *Engine) reconcileOnce(ctx context.Context, account exchange.AccountSource, funding FundingSource) {
	equity, err := account.Equity(ctx, e.cfg.Currency)
	if err != nil {
		slog.Warn("equity poll failed", "err", err)
	} else if equity > 0 {
		e.riskMgr.UpdateEquity(equity)
		metrics.Equity.Set(equity)
	}

	rate, err := funding.FundingRate(ctx, e.cfg.Symbol)
	if err != nil {
		slog.Warn("funding rate poll failed", "err", err)
		e.cache.SetFundingRate(nil)
	} else {
		e.cache.SetFundingRate(rate)
	}

	pos, err := account.Position(ctx, e.cfg.Symbol)
	if err != nil {
		slog.Warn("position poll failed", "err", err)
		return
	}
	tracked := 0.0
	for _, m := range e.machines() {
		if m.Status() == strategy.InPosition {
			snap := m.Snapshot()
			if m.Side() == strategy.Short {
				tracked -= snap.Size
			} else {
				tracked += snap.Size
			}
		}
	}
	if math.Abs(pos.Size-tracked) > 1e-9 {
		slog.Warn("position drift detected", "venue", pos.Size, "tracked", tracked)
	}
}
