package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"okxquant/internal/market"
)

const (
	publicWSURL = "wss://ws.okx.com:8443/ws/v5/public"
	demoWSURL   = "wss://wspap.okx.com:8443/ws/v5/public?brokerId=9999"

	pingInterval = 20 * time.Second
	readTimeout  = 30 * time.Second

	maxBackoff = 30 * time.Second
)

// Feed maintains the public websocket subscriptions and writes every update
// into the market cache. It owns the connection lifecycle: Run blocks until
// the context is canceled and reconnects on any transport failure.
type Feed struct {
	url    string
	symbol string
	cache  *market.Cache
	dialer *websocket.Dialer
}

func NewFeed(symbol string, demo bool, cache *market.Cache) *Feed {
	url := publicWSURL
	if demo {
		url = demoWSURL
	}
	return &Feed{
		url:    url,
		symbol: symbol,
		cache:  cache,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run drives the reconnect loop. Each successful session resets the backoff.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		start := time.Now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		slog.Warn("market feed disconnected", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsMessage struct {
	Event string          `json:"event"`
	Arg   subscribeArg    `json:"arg"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	sub := map[string]any{
		"op": "subscribe",
		"args": []subscribeArg{
			{Channel: "tickers", InstID: f.symbol},
			{Channel: "candle5m", InstID: f.symbol},
			{Channel: "candle15m", InstID: f.symbol},
			{Channel: "books5", InstID: f.symbol},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("market feed connected", "url", f.url, "symbol", f.symbol)

	// the venue drops idle connections, so ping on a timer
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if string(raw) == "pong" {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("market feed dropped unparsable frame", "err", err)
			continue
		}
		switch {
		case msg.Event == "error":
			return fmt.Errorf("subscription error: code=%s msg=%q", msg.Code, msg.Msg)
		case msg.Event == "subscribe":
			slog.Debug("channel subscribed", "channel", msg.Arg.Channel)
		case len(msg.Data) > 0:
			f.dispatch(msg.Arg.Channel, msg.Data)
		}
	}
}

func (f *Feed) dispatch(channel string, data json.RawMessage) {
	switch channel {
	case "tickers":
		f.handleTicker(data)
	case "candle5m":
		f.handleCandle(market.Timeframe5m, data)
	case "candle15m":
		f.handleCandle(market.Timeframe15m, data)
	case "books5":
		f.handleBooks(data)
	}
}

func (f *Feed) handleTicker(data json.RawMessage) {
	var rows []struct {
		Last    string `json:"last"`
		Open24h string `json:"open24h"`
	}
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return
	}
	last := parseFloat(rows[0].Last)
	change := 0.0
	if open := parseFloat(rows[0].Open24h); open > 0 {
		change = (last - open) / open
	}
	f.cache.SetTicker(last, change)
}

func (f *Feed) handleCandle(timeframe string, data json.RawMessage) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return
	}
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		candle := market.Candle{
			Timestamp:   time.UnixMilli(int64(parseFloat(row[0]))).UTC(),
			Open:        parseFloat(row[1]),
			High:        parseFloat(row[2]),
			Low:         parseFloat(row[3]),
			Close:       parseFloat(row[4]),
			Volume:      parseFloat(row[5]),
			VolumeQuote: parseFloat(row[6]),
		}
		if err := f.cache.AppendCandle(timeframe, candle); err != nil {
			slog.Warn("candle dropped", "timeframe", timeframe, "err", err)
		}
	}
}

func (f *Feed) handleBooks(data json.RawMessage) {
	var rows []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return
	}
	f.cache.SetOrderBook(parseBookLevels(rows[0].Bids), parseBookLevels(rows[0].Asks))
}
