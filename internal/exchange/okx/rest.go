// Package okx implements the exchange interfaces against the OKX v5 API.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"okxquant/internal/exchange"
	"okxquant/internal/market"
)

const (
	defaultBaseURL = "https://www.okx.com"
	tsFormat       = "2006-01-02T15:04:05.000Z"
)

// Credentials are the OKX API credentials. Demo routes orders to the
// simulated-trading environment.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Demo       bool
}

// Client is the REST client. It implements exchange.OrderSink and
// exchange.AccountSource.
type Client struct {
	http  *resty.Client
	creds Credentials
	now   func() time.Time
}

func NewClient(creds Credentials) *Client {
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, creds: creds, now: time.Now}
}

// apiError is a non-zero business code in the response envelope.
type apiError struct {
	Code string
	Msg  string
	Path string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("okx %s: code=%s msg=%q", e.Path, e.Code, e.Msg)
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do signs and executes one request. path must include the query string,
// since the signature covers it.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	req := c.http.R().SetContext(ctx)

	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = string(raw)
		req.SetBody(raw)
	}

	ts := c.now().UTC().Format(tsFormat)
	req.SetHeaders(map[string]string{
		"OK-ACCESS-KEY":        c.creds.APIKey,
		"OK-ACCESS-SIGN":       c.sign(ts, method, path, payload),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": c.creds.Passphrase,
	})
	if c.creds.Demo {
		req.SetHeader("x-simulated-trading", "1")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("okx %s: %w", path, err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("okx %s: http %d: %s", path, resp.StatusCode(), resp.String())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("okx %s: decode envelope: %w", path, err)
	}
	if env.Code != "0" {
		return &apiError{Code: env.Code, Msg: env.Msg, Path: path}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx %s: decode data: %w", path, err)
		}
	}
	return nil
}

func (c *Client) sign(ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Equity returns the per-currency equity from the trading account balance.
func (c *Client) Equity(ctx context.Context, ccy string) (float64, error) {
	var data []struct {
		Details []struct {
			Ccy string `json:"ccy"`
			Eq  string `json:"eq"`
		} `json:"details"`
	}
	if err := c.do(ctx, "GET", "/api/v5/account/balance?ccy="+ccy, nil, &data); err != nil {
		return 0, err
	}
	for _, acct := range data {
		for _, d := range acct.Details {
			if d.Ccy == ccy {
				return parseFloat(d.Eq), nil
			}
		}
	}
	return 0, nil
}

// Position returns the net position for the instrument; a flat instrument
// comes back as the zero value.
func (c *Client) Position(ctx context.Context, symbol string) (exchange.Position, error) {
	var data []struct {
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		Upl     string `json:"upl"`
		PosSide string `json:"posSide"`
	}
	if err := c.do(ctx, "GET", "/api/v5/account/positions?instId="+symbol, nil, &data); err != nil {
		return exchange.Position{}, err
	}
	if len(data) == 0 {
		return exchange.Position{}, nil
	}
	p := data[0]
	return exchange.Position{
		Size:          parseFloat(p.Pos),
		AvgPrice:      parseFloat(p.AvgPx),
		UnrealizedPnL: parseFloat(p.Upl),
		Side:          p.PosSide,
	}, nil
}

// SetLeverage configures isolated-margin leverage for the instrument.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "isolated",
	}
	return c.do(ctx, "POST", "/api/v5/account/set-leverage", body, nil)
}

// PlaceOrder submits an isolated-margin order. Sizes and prices go on the
// wire as decimal strings, never as floats.
func (c *Client) PlaceOrder(ctx context.Context, intent exchange.OrderIntent) (exchange.OrderAck, error) {
	clientID := intent.ClientOrderID
	if clientID == "" {
		clientID = NewClientOrderID()
	}
	body := map[string]any{
		"instId":     intent.Symbol,
		"tdMode":     "isolated",
		"side":       string(intent.Side),
		"ordType":    string(intent.Type),
		"sz":         decimal.NewFromFloat(intent.Size).String(),
		"clOrdId":    clientID,
		"reduceOnly": intent.ReduceOnly,
	}
	if intent.Type == exchange.Limit {
		if intent.LimitPrice == nil {
			return exchange.OrderAck{}, fmt.Errorf("limit order without price")
		}
		body["px"] = decimal.NewFromFloat(*intent.LimitPrice).String()
	}

	var data []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := c.do(ctx, "POST", "/api/v5/trade/order", body, &data); err != nil {
		return exchange.OrderAck{}, err
	}
	if len(data) == 0 {
		return exchange.OrderAck{}, fmt.Errorf("okx place order: empty response")
	}
	if data[0].SCode != "0" && data[0].SCode != "" {
		return exchange.OrderAck{}, &apiError{Code: data[0].SCode, Msg: data[0].SMsg, Path: "/api/v5/trade/order"}
	}

	slog.Info("order placed", "symbol", intent.Symbol, "side", intent.Side, "size", intent.Size,
		"reduce_only", intent.ReduceOnly, "order_id", data[0].OrdID)
	return exchange.OrderAck{OrderID: data[0].OrdID, ClientOrderID: data[0].ClOrdID}, nil
}

// AwaitFill polls the order state once a second until the order fills or the
// context expires.
func (c *Client) AwaitFill(ctx context.Context, symbol string, ack exchange.OrderAck) (exchange.Fill, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		state, err := c.orderState(ctx, symbol, ack.OrderID)
		if err != nil {
			slog.Warn("order state poll failed", "order_id", ack.OrderID, "err", err)
		} else if state.State == "filled" {
			return exchange.Fill{
				OrderID:  ack.OrderID,
				Price:    parseFloat(state.AvgPx),
				Size:     parseFloat(state.AccFillSz),
				FilledAt: c.now(),
			}, nil
		} else if state.State == "canceled" {
			return exchange.Fill{}, fmt.Errorf("order %s canceled before fill", ack.OrderID)
		}

		select {
		case <-ctx.Done():
			return exchange.Fill{}, exchange.ErrFillTimeout
		case <-ticker.C:
		}
	}
}

type orderState struct {
	State     string `json:"state"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
}

func (c *Client) orderState(ctx context.Context, symbol, orderID string) (orderState, error) {
	var data []orderState
	path := "/api/v5/trade/order?instId=" + symbol + "&ordId=" + orderID
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return orderState{}, err
	}
	if len(data) == 0 {
		return orderState{}, fmt.Errorf("order %s not found", orderID)
	}
	return data[0], nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	return c.do(ctx, "POST", "/api/v5/trade/cancel-order", body, nil)
}

// FundingRate returns the current funding rate, or nil when the venue has
// none for the instrument.
func (c *Client) FundingRate(ctx context.Context, symbol string) (*float64, error) {
	var data []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := c.do(ctx, "GET", "/api/v5/public/funding-rate?instId="+symbol, nil, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0].FundingRate == "" {
		return nil, nil
	}
	rate := parseFloat(data[0].FundingRate)
	return &rate, nil
}

// Ticker returns the 24h market summary. The daily change is derived from
// the 24h open.
func (c *Client) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	var data []struct {
		Last      string `json:"last"`
		Open24h   string `json:"open24h"`
		High24h   string `json:"high24h"`
		Low24h    string `json:"low24h"`
		VolCcy24h string `json:"volCcy24h"`
	}
	if err := c.do(ctx, "GET", "/api/v5/market/ticker?instId="+symbol, nil, &data); err != nil {
		return exchange.Ticker{}, err
	}
	if len(data) == 0 {
		return exchange.Ticker{}, fmt.Errorf("okx ticker: empty response")
	}
	t := data[0]
	tick := exchange.Ticker{
		LastPrice: parseFloat(t.Last),
		Volume24h: parseFloat(t.VolCcy24h),
		High24h:   parseFloat(t.High24h),
		Low24h:    parseFloat(t.Low24h),
	}
	if open := parseFloat(t.Open24h); open > 0 {
		tick.Change24h = (tick.LastPrice - open) / open
	}
	return tick, nil
}

// OrderBook returns the top depth levels, prices descending on the bid side.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (bids, asks []market.BookLevel, err error) {
	var data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	path := fmt.Sprintf("/api/v5/market/books?instId=%s&sz=%d", symbol, depth)
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, nil
	}
	return parseBookLevels(data[0].Bids), parseBookLevels(data[0].Asks), nil
}

// Candles returns up to limit closed candles for the timeframe, oldest
// first. Used to warm the indicator windows at startup.
func (c *Client) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	var data [][]string
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d", symbol, timeframe, limit)
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, err
	}

	// rows arrive newest first
	candles := make([]market.Candle, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		row := data[i]
		if len(row) < 7 {
			continue
		}
		ms := int64(parseFloat(row[0]))
		candles = append(candles, market.Candle{
			Timestamp:   time.UnixMilli(ms).UTC(),
			Open:        parseFloat(row[1]),
			High:        parseFloat(row[2]),
			Low:         parseFloat(row[3]),
			Close:       parseFloat(row[4]),
			Volume:      parseFloat(row[5]),
			VolumeQuote: parseFloat(row[6]),
		})
	}
	return candles, nil
}

// NewClientOrderID returns a fresh venue-safe client order ID: 32
// alphanumeric characters.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func parseBookLevels(rows [][]string) []market.BookLevel {
	out := make([]market.BookLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		out = append(out, market.BookLevel{parseFloat(r[0]), parseFloat(r[1])})
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
