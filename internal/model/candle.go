package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV price bar for a fixed time period.
// Prices and amounts are float64 since spot amounts are fractional.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Merge folds an update for the same period into this candle:
// open is kept, high/low widen, close takes the latest value and
// volume accumulates. The update's timestamp wins.
func (c Candle) Merge(upd Candle) Candle {
	return Candle{
		Time:   upd.Time,
		Open:   c.Open,
		High:   max(c.High, upd.High),
		Low:    min(c.Low, upd.Low),
		Close:  upd.Close,
		Volume: c.Volume + upd.Volume,
	}
}

// IsRed reports whether the bar closed below its open.
func (c Candle) IsRed() bool { return c.Open > c.Close }

// IsGreen reports whether the bar closed above its open.
func (c Candle) IsGreen() bool { return c.Open < c.Close }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
