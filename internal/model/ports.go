package model

import "context"

// ── Capability ports ──
// The core consumes venues, notification and persistence only through
// these narrow contracts; concrete implementations live in
// internal/exchange, internal/notification and internal/store.

// Exchange is the trading venue capability.
type Exchange interface {
	// Name identifies the venue; it is part of the subscription key.
	Name() string

	// GetCandles returns the next batch of candles for the symbol, in
	// time order. startTime restarts the stream from a cursor; pass 0
	// to continue from the venue's internal cursor. An empty batch
	// means no new data yet.
	GetCandles(ctx context.Context, symbol string, timeframe, size int, startTime int64) ([]Candle, error)

	// PlaceOrder submits a market order and returns the fill.
	// clientID is an optional idempotency key.
	PlaceOrder(ctx context.Context, req OrderRequest, clientID string) (Order, error)

	// GetBalance returns the held base amount and the free quote
	// balance for the symbol.
	GetBalance(ctx context.Context, symbol string) (held, quote float64, err error)

	// Stop releases venue resources.
	Stop(ctx context.Context) error
}

// Notifier delivers strategy reports to an external channel.
// Delivery is fire-and-forget: callers log failures, never propagate.
type Notifier interface {
	// PushText sends a short text message.
	PushText(ctx context.Context, text string) error

	// PushReport sends a named multi-line deal report.
	PushReport(ctx context.Context, name, report string) error
}
