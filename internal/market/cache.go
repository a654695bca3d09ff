package market

import (
	"sync"
	"sync/atomic"
	"time"
)

// BookLevel is one order-book level as [price, size].
type BookLevel = [2]float64

// Snapshot is an immutable view of the market at publish time. The decision
// loop reads whatever snapshot is current; it never blocks on the feed.
type Snapshot struct {
	Price          float64
	DailyChangePct float64
	Candles5m      []Candle
	Candles15m     []Candle
	Bids           []BookLevel
	Asks           []BookLevel
	PrevBids       []BookLevel
	FundingRate    *float64
	RecentHigh     float64
	RecentLow      float64
	At             time.Time
}

// HasPrice reports whether a trade price has been observed yet.
func (s *Snapshot) HasPrice() bool { return s != nil && s.Price > 0 }

// Cache is the single shared mutable resource between the feed goroutine and
// the decision loop. The writer mutates its private state under mu and
// publishes a fresh immutable Snapshot with an atomic pointer swap; readers
// never observe a partial update.
type Cache struct {
	mu       sync.Mutex
	window5m *Window
	window15 *Window

	price       float64
	dailyChange float64
	bids        []BookLevel
	asks        []BookLevel
	prevBids    []BookLevel
	funding     *float64

	current atomic.Pointer[Snapshot]
}

const (
	defaultWindowCapacity = 100
	recentExtremumBars    = 10
)

func NewCache() *Cache {
	c := &Cache{
		window5m: NewWindow(defaultWindowCapacity),
		window15: NewWindow(defaultWindowCapacity),
	}
	c.current.Store(&Snapshot{})
	return c
}

// Snapshot returns the most recently published view. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// SetTicker records the latest trade price and 24h change.
func (c *Cache) SetTicker(price, dailyChangePct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
	c.dailyChange = dailyChangePct
	c.publishLocked()
}

// AppendCandle feeds one bar into the window for the given timeframe.
func (c *Cache) AppendCandle(timeframe string, candle Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.window5m
	if timeframe == Timeframe15m {
		w = c.window15
	}
	if err := w.Append(candle); err != nil {
		return err
	}
	c.publishLocked()
	return nil
}

// SetOrderBook records the top-of-book levels, keeping the previous bid
// depth for depth-drop comparisons.
func (c *Cache) SetOrderBook(bids, asks []BookLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevBids = c.bids
	c.bids = cloneLevels(bids)
	c.asks = cloneLevels(asks)
	c.publishLocked()
}

// SetFundingRate records the latest funding rate; nil means unavailable.
func (c *Cache) SetFundingRate(rate *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate == nil {
		c.funding = nil
	} else {
		v := *rate
		c.funding = &v
	}
	c.publishLocked()
}

const (
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
)

func (c *Cache) publishLocked() {
	candles5m := c.window5m.Candles()
	high, low := recentExtremes(candles5m, recentExtremumBars)
	snap := &Snapshot{
		Price:          c.price,
		DailyChangePct: c.dailyChange,
		Candles5m:      candles5m,
		Candles15m:     c.window15.Candles(),
		Bids:           c.bids,
		Asks:           c.asks,
		PrevBids:       c.prevBids,
		FundingRate:    c.funding,
		RecentHigh:     high,
		RecentLow:      low,
		At:             time.Now().UTC(),
	}
	c.current.Store(snap)
}

func recentExtremes(candles []Candle, bars int) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	start := len(candles) - bars
	if start < 0 {
		start = 0
	}
	high = candles[start].High
	low = candles[start].Low
	for _, c := range candles[start+1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func cloneLevels(levels []BookLevel) []BookLevel {
	out := make([]BookLevel, len(levels))
	copy(out, levels)
	return out
}
