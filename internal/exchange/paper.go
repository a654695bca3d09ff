package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Paper is an in-memory venue for dry runs: every order fills instantly at
// the current mark price (or the limit price, for limit orders). It
// implements OrderSink and AccountSource.
type Paper struct {
	mu       sync.Mutex
	equity   float64
	mark     float64
	position Position
	fills    map[string]Fill
	orderSeq int
}

func NewPaper(startEquity float64) *Paper {
	return &Paper{equity: startEquity, fills: make(map[string]Fill)}
}

// SetMarkPrice moves the simulated mark. The tick loop feeds it the latest
// trade price.
func (p *Paper) SetMarkPrice(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mark = price
}

func (p *Paper) PlaceOrder(_ context.Context, intent OrderIntent) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.mark
	if intent.Type == Limit && intent.LimitPrice != nil {
		price = *intent.LimitPrice
	}
	if price <= 0 {
		return OrderAck{}, fmt.Errorf("paper: no mark price yet")
	}
	if intent.Size <= 0 {
		return OrderAck{}, fmt.Errorf("paper: non-positive size %v", intent.Size)
	}

	p.orderSeq++
	ack := OrderAck{
		OrderID:       fmt.Sprintf("paper-%d", p.orderSeq),
		ClientOrderID: intent.ClientOrderID,
	}
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = uuid.NewString()
	}

	delta := intent.Size
	if intent.Side == Sell {
		delta = -intent.Size
	}
	if intent.ReduceOnly {
		p.position.Size += delta
		realized := 0.0
		if p.position.AvgPrice > 0 {
			realized = (price - p.position.AvgPrice) * -delta
		}
		p.equity += realized
		if p.position.Size == 0 {
			p.position = Position{}
		}
	} else {
		p.position.Size += delta
		p.position.AvgPrice = price
	}

	p.fills[ack.OrderID] = Fill{OrderID: ack.OrderID, Price: price, Size: intent.Size, FilledAt: time.Now()}
	slog.Info("paper fill", "order_id", ack.OrderID, "side", intent.Side, "size", intent.Size, "price", price)
	return ack, nil
}

func (p *Paper) AwaitFill(_ context.Context, _ string, ack OrderAck) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fill, ok := p.fills[ack.OrderID]
	if !ok {
		return Fill{}, fmt.Errorf("paper: unknown order %s", ack.OrderID)
	}
	return fill, nil
}

func (p *Paper) CancelOrder(_ context.Context, _, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fills, orderID)
	return nil
}

func (p *Paper) Equity(_ context.Context, _ string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

func (p *Paper) Position(_ context.Context, _ string) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, nil
}
