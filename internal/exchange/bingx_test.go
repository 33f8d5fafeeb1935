package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"knifetrader/internal/errs"
	"knifetrader/internal/model"
)

func newTestBingX(t *testing.T, handler http.Handler) (*BingX, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	venue, err := NewBingX(BingXConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	return venue, srv
}

func TestBingX_RequiresCredentials(t *testing.T) {
	if _, err := NewBingX(BingXConfig{}); !errs.IsValidation(err) {
		t.Errorf("expected validation error without credentials, got %v", err)
	}
}

func TestBingX_SignedRequest(t *testing.T) {
	var captured *url.URL
	venue, _ := newTestBingX(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL
		if got := r.Header.Get("X-BX-APIKEY"); got != "key" {
			t.Errorf("expected api key header, got %q", got)
		}
		w.Write([]byte(`{"code":0,"data":[]}`))
	}))

	if _, err := venue.GetCandles(context.Background(), "BTC", 1, 100, 0); err != nil {
		t.Fatal(err)
	}

	query := captured.RawQuery
	sigIdx := strings.LastIndex(query, "&signature=")
	if sigIdx < 0 {
		t.Fatalf("expected a signature parameter, got %q", query)
	}
	payload, sig := query[:sigIdx], query[sigIdx+len("&signature="):]

	// the signature covers the sorted query including the timestamp
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Errorf("expected signature %s, got %s", want, sig)
	}

	keys := []string{}
	for _, kv := range strings.Split(payload, "&") {
		keys = append(keys, strings.SplitN(kv, "=", 2)[0])
	}
	for i := 1; i < len(keys)-1; i++ { // timestamp is appended last
		if keys[i-1] > keys[i] {
			t.Errorf("expected sorted query keys, got %v", keys)
		}
	}
	if keys[len(keys)-1] != "timestamp" {
		t.Errorf("expected timestamp appended last, got %v", keys)
	}
	if got := captured.Query().Get("symbol"); got != "BTC-USDT" {
		t.Errorf("expected USDT pair, got %q", got)
	}
}

func TestBingX_GetCandlesReversesAndAdvancesCursor(t *testing.T) {
	var starts []string
	venue, _ := newTestBingX(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		starts = append(starts, r.URL.Query().Get("startTime"))
		// newest first, as the venue serves them
		w.Write([]byte(`{"code":0,"data":[
			[1700000060000, 102, 104, 101, 103, 0, 0, 5],
			[1700000000000, 100, 105, 98, 102, 0, 0, 10]
		]}`))
	}))

	candles, err := venue.GetCandles(context.Background(), "BTC", 1, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Time.Before(candles[1].Time) {
		t.Error("expected candles reordered oldest first")
	}
	first := candles[0]
	if first.Open != 100 || first.High != 105 || first.Low != 98 || first.Close != 102 || first.Volume != 10 {
		t.Errorf("unexpected first candle %+v", first)
	}
	if !first.Time.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("unexpected first candle time %v", first.Time)
	}

	// the second poll resumes from the newest seen timestamp
	if _, err := venue.GetCandles(context.Background(), "BTC", 1, 100, 0); err != nil {
		t.Fatal(err)
	}
	if starts[0] != "" {
		t.Errorf("expected no startTime on the first poll, got %q", starts[0])
	}
	if starts[1] != "1700000060000" {
		t.Errorf("expected cursor resume at 1700000060000, got %q", starts[1])
	}
}

func TestBingX_UnsupportedTimeframe(t *testing.T) {
	venue, err := NewBingX(BingXConfig{APIKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := venue.GetCandles(context.Background(), "BTC", 7, 100, 0); !errs.IsValidation(err) {
		t.Errorf("expected validation error for 7m timeframe, got %v", err)
	}
}

func TestBingX_ErrorResponsesAreTransient(t *testing.T) {
	venue, _ := newTestBingX(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":100421,"msg":"rate limited"}`))
	}))
	_, err := venue.GetCandles(context.Background(), "BTC", 1, 100, 0)
	if err == nil || errs.KindOf(err) != errs.KindTransient {
		t.Errorf("expected transient error from venue code, got %v", err)
	}
}

func TestBingX_PlaceOrderParsesStringNumbers(t *testing.T) {
	venue, _ := newTestBingX(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"order":{
			"price":"100.5","executedQty":"2","cummulativeQuoteQty":"201",
			"transactTime":1700000000000,"status":"FILLED","side":"BUY"}}}`))
	}))

	candle := model.Candle{Time: time.UnixMilli(1700000000000).UTC(), Close: 100.5}
	order, err := venue.PlaceOrder(context.Background(), model.BuyRequest("BTC", 2, candle), "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Price != 100.5 || order.Amount != 2 || order.Cost != 201 {
		t.Errorf("unexpected fill %+v", order)
	}
	if order.Side != model.SideBuy || order.Status != "FILLED" {
		t.Errorf("unexpected fill metadata %+v", order)
	}
}

func TestBingX_GetBalanceSplitsBaseAndQuote(t *testing.T) {
	venue, _ := newTestBingX(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"balances":[
			{"asset":"BTC","free":"0.5"},
			{"asset":"ETH","free":"3"},
			{"asset":"USDT","free":"1200.25"}
		]}}`))
	}))

	held, quote, err := venue.GetBalance(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if held != 0.5 || quote != 1200.25 {
		t.Errorf("expected held=0.5 quote=1200.25, got held=%v quote=%v", held, quote)
	}
}
