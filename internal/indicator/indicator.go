// Package indicator provides incremental technical indicators over
// candle data.
//
// Indicators are stateless: each step is a pure function of the
// previous bar's field values and the new price. The chart owns the
// fields and passes the prior bar's values back in, which makes
// recomputing a still-forming bar a simple replay from the record
// before it.
package indicator

import "knifetrader/internal/model"

// Fields holds indicator values keyed by indicator-qualified name
// (e.g. "ema_20", "rsi_ema_14"). One Fields instance belongs to
// exactly one chart record.
type Fields map[string]float64

// Get returns the value for key, or def when the key is absent.
// Absent keys carry seed semantics: recurrences start from the
// current observation.
func (f Fields) Get(key string, def float64) float64 {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

// Has reports whether key has been computed.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// Indicator is the contract all indicators implement.
type Indicator interface {
	// Name returns the indicator's display name.
	Name() string

	// Calculate produces this bar's field updates from the prior
	// bar's fields and close. On the first bar prior is nil and
	// prevClose equals price.
	Calculate(prior Fields, prevClose, price float64) Fields

	// Signal derives the directional vote from a bar's fields.
	Signal(fields Fields) model.Signal

	// SellVoter reports whether this indicator takes part in the
	// sell vote. Every indicator always takes part in the buy vote.
	SellVoter() bool
}

// EMAStep advances an exponential moving average by one value with
// smoothing k = 2/(period+1). A zero prev is treated as unseeded and
// the value itself seeds the average.
func EMAStep(prev float64, period int, value float64) float64 {
	if prev == 0 {
		prev = value
	}
	k := 2.0 / float64(period+1)
	return (value-prev)*k + prev
}
