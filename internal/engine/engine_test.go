package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okxquant/internal/config"
	"okxquant/internal/exchange"
	"okxquant/internal/market"
	"okxquant/internal/regime"
	"okxquant/internal/risk"
	"okxquant/internal/state"
	"okxquant/internal/strategy"
)

type harness struct {
	engine *Engine
	cache  *market.Cache
	paper  *exchange.Paper
	risk   *risk.Manager
	shortM *strategy.Machine
	longM  *strategy.Machine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()

	dir := t.TempDir()
	decisions, err := NewDecisionLogger(filepath.Join(dir, "decisions.ndjson"), "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { decisions.Close() })

	cache := market.NewCache()
	paper := exchange.NewPaper(10000)
	riskMgr := risk.NewManager(cfg.RiskLimits())
	riskMgr.UpdateEquity(10000)

	shortM := strategy.NewOverheatShort(cfg.ShortParams(), cfg.ShortRules())
	longM := strategy.NewTrendLong(cfg.LongParams(), cfg.LongRules())

	eng := New(cfg, cache, regime.NewClassifier(cfg.RegimeParams()), shortM, longM,
		riskMgr, paper, decisions, state.NewStore(filepath.Join(dir, "checkpoint.json")))
	eng.SetMarkSetter(paper)

	return &harness{engine: eng, cache: cache, paper: paper, risk: riskMgr, shortM: shortM, longM: longM}
}

// overheatedShortSetup loads the cache with a market that classifies as
// overheated and satisfies two short entry predicates: a death cross on the
// fast MAs and a bid-depth withdrawal.
func (h *harness) overheatedShortSetup(t *testing.T) {
	t.Helper()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 110, 110, 110, 60}
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 60, 50, 40, 30}
	for i := range closes {
		require.NoError(t, h.cache.AppendCandle(market.Timeframe5m, market.Candle{
			Open: closes[i], High: closes[i], Low: closes[i], Close: closes[i],
			Volume:    volumes[i],
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
		}))
	}

	full := make([]market.BookLevel, 5)
	thin := make([]market.BookLevel, 5)
	for i := range full {
		px := 104 - float64(i)*0.1
		full[i] = market.BookLevel{px, 20}
		thin[i] = market.BookLevel{px, 14}
	}
	h.cache.SetOrderBook(full, nil)
	h.cache.SetOrderBook(thin, nil)

	funding := 0.00025
	h.cache.SetFundingRate(&funding)
	h.cache.SetTicker(104, 0.05)
}

func TestTickEntersShortInOverheatedMarket(t *testing.T) {
	h := newHarness(t)
	h.overheatedShortSetup(t)

	h.engine.Tick(context.Background())

	require.Equal(t, strategy.InPosition, h.shortM.Status())
	pos := h.shortM.Snapshot()
	assert.InDelta(t, 104, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 110.275, pos.StopPrice, 1e-9) // recent high 110 * 1.0025
	assert.InDelta(t, 4.781, pos.Size, 1e-9)        // (10000*0.003)/6.275, lot-rounded

	venue, err := h.paper.Position(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.InDelta(t, -4.781, venue.Size, 1e-9)
}

func TestNoSecondPositionWhileOneIsOpen(t *testing.T) {
	h := newHarness(t)
	h.overheatedShortSetup(t)

	h.engine.Tick(context.Background())
	require.Equal(t, strategy.InPosition, h.shortM.Status())
	sizeAfterEntry := h.shortM.Snapshot().Size

	// same conditions again: no pyramiding, no second strategy arming
	h.engine.Tick(context.Background())
	assert.InDelta(t, sizeAfterEntry, h.shortM.Snapshot().Size, 1e-9)
	assert.Equal(t, strategy.Idle, h.longM.Status())

	venue, _ := h.paper.Position(context.Background(), "ETH-USDT-SWAP")
	assert.InDelta(t, -sizeAfterEntry, venue.Size, 1e-9)
}

func TestTickWithoutPriceDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.engine.Tick(context.Background())
	assert.Equal(t, strategy.Idle, h.shortM.Status())
	assert.Equal(t, strategy.Idle, h.longM.Status())
}

func TestHaltedDayBlocksEntries(t *testing.T) {
	h := newHarness(t)
	h.overheatedShortSetup(t)
	h.risk.UpdateEquity(9790) // past the 2% daily drawdown

	h.engine.Tick(context.Background())
	assert.Equal(t, strategy.Idle, h.shortM.Status())

	venue, _ := h.paper.Position(context.Background(), "ETH-USDT-SWAP")
	assert.Zero(t, venue.Size)
}

type failingSink struct{}

func (failingSink) PlaceOrder(context.Context, exchange.OrderIntent) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, fmt.Errorf("venue unavailable")
}
func (failingSink) AwaitFill(context.Context, string, exchange.OrderAck) (exchange.Fill, error) {
	return exchange.Fill{}, fmt.Errorf("venue unavailable")
}
func (failingSink) CancelOrder(context.Context, string, string) error { return nil }

func TestFailedEntryOrderLeavesMachineWaiting(t *testing.T) {
	h := newHarness(t)
	h.overheatedShortSetup(t)
	h.engine.sink = failingSink{}

	h.engine.Tick(context.Background())

	// no fill, no position; the machine can retry on a later tick
	assert.Equal(t, strategy.WaitingEntry, h.shortM.Status())
}

func TestExitLifecycleThroughTicks(t *testing.T) {
	h := newHarness(t)
	h.shortM.OnEntry(strategy.EntryPlan{StopPrice: 100.25}, 100, 120)

	// first target at 99.75 closes half
	h.cache.SetTicker(99.7, 0)
	h.engine.Tick(context.Background())
	pos := h.shortM.Snapshot()
	require.Equal(t, strategy.InPosition, pos.Status)
	assert.True(t, pos.Partial1Done)
	assert.InDelta(t, 60, pos.Size, 1e-9)

	// second target closes the remainder and books the trade
	h.cache.SetTicker(99.6, 0)
	h.engine.Tick(context.Background())
	assert.Equal(t, strategy.Idle, h.shortM.Status())
	sum := h.risk.DailySummary()
	assert.Equal(t, 1, sum.TradesCount)
	assert.InDelta(t, 42.0, sum.DailyPnL, 1e-9) // 18 at the first target, 24 at the second
}

func TestStopLossExitRecordsLoss(t *testing.T) {
	h := newHarness(t)
	h.shortM.OnEntry(strategy.EntryPlan{StopPrice: 100.25}, 100, 120)

	h.cache.SetTicker(100.3, 0)
	h.engine.Tick(context.Background())

	assert.Equal(t, strategy.Idle, h.shortM.Status())
	sum := h.risk.DailySummary()
	assert.Equal(t, 1, sum.TradesCount)
	assert.InDelta(t, -36.0, sum.DailyPnL, 1e-9) // (100-100.3)*120
}

func TestFailedExitKeepsPositionForRetry(t *testing.T) {
	h := newHarness(t)
	h.shortM.OnEntry(strategy.EntryPlan{StopPrice: 100.25}, 100, 120)
	h.engine.sink = failingSink{}

	h.cache.SetTicker(100.3, 0)
	h.engine.Tick(context.Background())

	// exit order failed: still in position, nothing booked
	assert.Equal(t, strategy.InPosition, h.shortM.Status())
	assert.Zero(t, h.risk.DailySummary().TradesCount)
}

func TestFundingVetoBlocksShortEntry(t *testing.T) {
	h := newHarness(t)
	h.overheatedShortSetup(t)

	// funding deeply negative: shorts are vetoed before entry evaluation,
	// and the overheat classification itself no longer holds either way
	funding := -0.0005
	h.cache.SetFundingRate(&funding)

	h.engine.Tick(context.Background())
	assert.NotEqual(t, strategy.InPosition, h.shortM.Status())
}
