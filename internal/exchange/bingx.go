// Package exchange provides venue implementations of the
// model.Exchange capability: a BingX spot REST client for live
// trading and a CSV-file venue for offline replay.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"knifetrader/internal/errs"
	"knifetrader/internal/model"
)

// bingxIntervals maps a timeframe in minutes to the venue's kline
// interval identifier.
var bingxIntervals = map[int]string{
	1:           "1m",
	3:           "3m",
	5:           "5m",
	15:          "15m",
	30:          "30m",
	60:          "1h",
	2 * 60:      "2h",
	4 * 60:      "4h",
	6 * 60:      "6h",
	8 * 60:      "8h",
	12 * 60:     "12h",
	24 * 60:     "1d",
	3 * 24 * 60: "3d",
	7 * 24 * 60: "1w",
}

// BingXConfig configures the BingX spot client.
type BingXConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// BingX is a spot REST client. Requests are signed with HMAC-SHA256
// over the sorted query string. The client keeps a per-symbol cursor
// so consecutive GetCandles calls resume where the previous batch
// ended.
type BingX struct {
	cfg    BingXConfig
	client *http.Client

	mu      sync.Mutex
	cursors map[string]int64 // symbol → next startTime in ms
}

// NewBingX validates credentials and builds the client.
func NewBingX(cfg BingXConfig) (*BingX, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errs.Validation("bingx: api key and secret key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open-api.bingx.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &BingX{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cursors: make(map[string]int64),
	}, nil
}

func (b *BingX) Name() string { return "bingx" }

// Stop releases idle connections.
func (b *BingX) Stop(context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

// GetCandles fetches up to size klines for the symbol, oldest first.
// startTime 0 continues from the internal cursor, so the stream is
// restartable but not rewindable.
func (b *BingX) GetCandles(ctx context.Context, symbol string, timeframe, size int, startTime int64) ([]model.Candle, error) {
	interval, ok := bingxIntervals[timeframe]
	if !ok {
		return nil, errs.Validation("bingx: unsupported timeframe %d minutes", timeframe)
	}
	if startTime == 0 {
		b.mu.Lock()
		startTime = b.cursors[symbol]
		b.mu.Unlock()
	}

	params := map[string]string{
		"symbol":   pair(symbol),
		"interval": interval,
		"limit":    strconv.Itoa(size),
	}
	if startTime > 0 {
		params["startTime"] = strconv.FormatInt(startTime, 10)
	}

	var resp struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data [][]json.Number `json:"data"`
	}
	if err := b.do(ctx, http.MethodGet, "/openApi/spot/v2/market/kline", params, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errs.Transient("bingx kline: code %d: %s", resp.Code, resp.Msg)
	}

	// venue returns newest first
	rows := resp.Data
	candles := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		candle, ts, err := parseKline(rows[i])
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
		b.mu.Lock()
		b.cursors[symbol] = ts
		b.mu.Unlock()
	}
	return candles, nil
}

// parseKline decodes one raw kline row:
// [openTime, open, high, low, close, _, _, volume, ...].
func parseKline(row []json.Number) (model.Candle, int64, error) {
	if len(row) < 8 {
		return model.Candle{}, 0, errs.Transient("bingx kline: short row (%d fields)", len(row))
	}
	ts, err := row[0].Int64()
	if err != nil {
		return model.Candle{}, 0, errs.Transient("bingx kline: bad open time %q", row[0])
	}
	vals := make([]float64, 0, 5)
	for _, idx := range []int{1, 2, 3, 4, 7} {
		v, err := row[idx].Float64()
		if err != nil {
			return model.Candle{}, 0, errs.Transient("bingx kline: bad field %d %q", idx, row[idx])
		}
		vals = append(vals, v)
	}
	return model.Candle{
		Time:   time.UnixMilli(ts).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, ts, nil
}

// PlaceOrder submits a market order and maps the fill.
func (b *BingX) PlaceOrder(ctx context.Context, req model.OrderRequest, clientID string) (model.Order, error) {
	params := map[string]string{
		"symbol":   pair(req.Symbol),
		"type":     "MARKET",
		"side":     string(req.Side),
		"quantity": strconv.FormatFloat(req.Amount, 'f', -1, 64),
	}
	if clientID != "" {
		params["newClientOrderId"] = clientID
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Order struct {
				Price               flexFloat `json:"price"`
				ExecutedQty         flexFloat `json:"executedQty"`
				CummulativeQuoteQty flexFloat `json:"cummulativeQuoteQty"`
				TransactTime        int64     `json:"transactTime"`
				Status              string    `json:"status"`
				Side                string    `json:"side"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := b.do(ctx, http.MethodPost, "/openApi/spot/v1/trade/order", params, &resp); err != nil {
		return model.Order{}, err
	}
	if resp.Code != 0 {
		return model.Order{}, errs.Transient("bingx order: code %d: %s", resp.Code, resp.Msg)
	}

	fill := resp.Data.Order
	return model.Order{
		Time:   time.UnixMilli(fill.TransactTime).UTC(),
		Price:  float64(fill.Price),
		Amount: float64(fill.ExecutedQty),
		Side:   model.OrderSide(fill.Side),
		Status: fill.Status,
		Cost:   float64(fill.CummulativeQuoteQty),
	}, nil
}

// GetBalance returns the free base amount and the free USDT balance.
func (b *BingX) GetBalance(ctx context.Context, symbol string) (float64, float64, error) {
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Balances []struct {
				Asset string    `json:"asset"`
				Free  flexFloat `json:"free"`
			} `json:"balances"`
		} `json:"data"`
	}
	if err := b.do(ctx, http.MethodGet, "/openApi/spot/v1/account/balance", nil, &resp); err != nil {
		return 0, 0, err
	}
	if resp.Code != 0 {
		return 0, 0, errs.Transient("bingx balance: code %d: %s", resp.Code, resp.Msg)
	}

	var held, quote float64
	for _, bal := range resp.Data.Balances {
		switch bal.Asset {
		case symbol:
			held = float64(bal.Free)
		case "USDT":
			quote = float64(bal.Free)
		}
	}
	return held, quote, nil
}

// do performs one signed request and decodes the JSON body into out.
func (b *BingX) do(ctx context.Context, method, path string, params map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.signedURL(path, params), nil)
	if err != nil {
		return fmt.Errorf("bingx: create request: %w", err)
	}
	req.Header.Set("X-BX-APIKEY", b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "bingx: %s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "bingx: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Transient("bingx: %s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.KindTransient, err, "bingx: decode response")
	}
	return nil
}

// signedURL builds path?query&signature=... with the query keys
// sorted, a millisecond timestamp appended, and an HMAC-SHA256
// signature over the whole query string.
func (b *BingX) signedURL(path string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	sb.WriteString("timestamp=")
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := sb.String()

	mac := hmac.New(sha256.New, []byte(b.cfg.SecretKey))
	mac.Write([]byte(query))
	sig := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s%s?%s&signature=%s", b.cfg.BaseURL, path, query, sig)
}

// pair maps a base symbol to the venue's USDT spot pair.
func pair(symbol string) string { return symbol + "-USDT" }

// flexFloat decodes venue numeric fields that arrive as either JSON
// numbers or quoted strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q as float: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
