// Package exchange defines the venue-facing surface the engine trades
// through. Implementations live in the okx subpackage and in paper.go.
package exchange

import (
	"context"
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderIntent is one order the engine wants placed.
type OrderIntent struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Size          float64
	LimitPrice    *float64 // required for limit orders
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the venue's acceptance of an order, before any fill.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID  string
	Price    float64
	Size     float64
	FilledAt time.Time
}

// Position is the venue's view of the open position.
type Position struct {
	Size          float64
	AvgPrice      float64
	UnrealizedPnL float64
	Side          string
}

// Ticker is a 24h market summary.
type Ticker struct {
	LastPrice float64
	Volume24h float64
	Change24h float64
	High24h   float64
	Low24h    float64
}

// ErrFillTimeout is returned by AwaitFill when the order did not fill
// within the caller's deadline.
var ErrFillTimeout = errors.New("order fill confirmation timed out")

// OrderSink places and manages orders.
type OrderSink interface {
	PlaceOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
	// AwaitFill polls the order until it is filled or ctx expires.
	AwaitFill(ctx context.Context, symbol string, ack OrderAck) (Fill, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// AccountSource reads account and position state.
type AccountSource interface {
	Equity(ctx context.Context, ccy string) (float64, error)
	Position(ctx context.Context, symbol string) (Position, error)
}
