// Package chart maintains a bounded, time-ordered window of candles
// enriched with indicator state, and derives a composite trading
// signal from it.
package chart

import (
	"math"
	"time"

	"knifetrader/internal/errs"
	"knifetrader/internal/indicator"
	"knifetrader/internal/model"
)

// Record is one enriched window entry: the candle plus the indicator
// fields computed for it. Fields are a pure function of the
// immediately prior record and this candle's close.
type Record struct {
	model.Candle
	Fields indicator.Fields
}

// Chart is a fixed-capacity rolling window. Insertion order equals
// time order; inserting beyond capacity evicts the oldest entry.
// A Chart is single-writer: only the worker that owns it calls Add.
type Chart struct {
	timeframe  time.Duration
	size       int
	indicators []indicator.Indicator

	times   []time.Time
	records map[int64]Record // keyed by UnixNano of the bar time
}

// New validates parameters and builds an empty chart.
// timeframe is the bar period, also used as the staleness bound.
func New(size int, timeframe time.Duration, indicators []indicator.Indicator) (*Chart, error) {
	if size <= 0 {
		return nil, errs.Validation("chart size must be positive, got %d", size)
	}
	if timeframe <= 0 {
		return nil, errs.Validation("chart timeframe must be positive, got %v", timeframe)
	}
	if len(indicators) == 0 {
		return nil, errs.Validation("chart needs at least one indicator")
	}
	return &Chart{
		timeframe:  timeframe,
		size:       size,
		indicators: indicators,
		records:    make(map[int64]Record, size+1),
	}, nil
}

// Add incorporates a candle and returns the composite signal for it.
//
// A new timestamp is computed from the previous record and appended,
// evicting the oldest entry once the window is over capacity. A
// timestamp already present means the same bar is still forming: the
// record is recomputed from the record *before* the existing one and
// overwritten in place, so repeated updates of a forming bar are
// idempotent, not appends.
func (c *Chart) Add(candle model.Candle) model.Signal {
	key := candle.Time.UnixNano()
	if _, ok := c.records[key]; !ok {
		prev, hasPrev := c.prior(len(c.times) - 1)
		fields := c.calculate(prev, hasPrev, candle.Close)
		c.times = append(c.times, candle.Time)
		if len(c.times) > c.size {
			oldest := c.times[0]
			c.times = c.times[1:]
			delete(c.records, oldest.UnixNano())
		}
		c.records[key] = Record{Candle: candle, Fields: fields}
		return c.vote(fields)
	}

	prev, hasPrev := c.prior(len(c.times) - 2)
	fields := c.calculate(prev, hasPrev, candle.Close)
	c.records[key] = Record{Candle: candle, Fields: fields}
	return c.vote(fields)
}

// prior returns the record at the given index of the time series, or
// an empty record when the index is out of range (first bar).
func (c *Chart) prior(idx int) (Record, bool) {
	if idx < 0 || idx >= len(c.times) {
		return Record{}, false
	}
	rec := c.records[c.times[idx].UnixNano()]
	return rec, true
}

func (c *Chart) calculate(prev Record, hasPrev bool, price float64) indicator.Fields {
	prevClose := price
	var priorFields indicator.Fields
	if hasPrev {
		prevClose = prev.Close
		priorFields = prev.Fields
	}
	fields := make(indicator.Fields, 8)
	for _, ind := range c.indicators {
		for k, v := range ind.Calculate(priorFields, prevClose, price) {
			fields[k] = v
		}
	}
	return fields
}

// vote aggregates per-indicator signals. BUY needs every indicator to
// vote buy; SELL needs every sell-voting indicator to vote sell.
// Indicators are only ever excluded from the sell vote, never the buy
// vote. Mixed votes resolve to NONE, and BUY wins over SELL.
func (c *Chart) vote(fields indicator.Fields) model.Signal {
	buy, sell := true, true
	sellVoters := 0
	for _, ind := range c.indicators {
		sig := ind.Signal(fields)
		if sig != model.SignalBuy {
			buy = false
		}
		if ind.SellVoter() {
			sellVoters++
			if sig != model.SignalSell {
				sell = false
			}
		}
	}
	// an empty sell-voter set must not produce a vacuous SELL
	if sellVoters == 0 {
		sell = false
	}
	if buy {
		return model.SignalBuy
	}
	if sell {
		return model.SignalSell
	}
	return model.SignalNone
}

// Ready reports whether the window is full. Strategies do not react
// until enough history exists.
func (c *Chart) Ready() bool {
	return len(c.times) == c.size
}

// Online reports whether the newest bar is younger than one timeframe
// at the given instant. Used as a staleness guard in live trading;
// offline replay skips the check.
func (c *Chart) Online(now time.Time) bool {
	if len(c.times) == 0 {
		return false
	}
	return now.Sub(c.times[len(c.times)-1]) < c.timeframe
}

// Len returns the current window length.
func (c *Chart) Len() int { return len(c.times) }

// Timeframe returns the bar period.
func (c *Chart) Timeframe() time.Duration { return c.timeframe }

// Last returns the newest record, if any.
func (c *Chart) Last() (Record, bool) {
	return c.prior(len(c.times) - 1)
}

// First returns the oldest record, if any.
func (c *Chart) First() (Record, bool) {
	return c.prior(0)
}

// Delta is the close-to-close change across the whole window, in
// percent, rounded to two decimals.
func (c *Chart) Delta() float64 {
	first, ok := c.First()
	if !ok {
		return 0
	}
	last, _ := c.Last()
	return math.Round((last.Close-first.Close)/first.Close*100*100) / 100
}

// FindMin scans the closed range [from, to] for the lowest low.
// Linear scan; used for post-trade reporting, not the hot path.
func (c *Chart) FindMin(from, to time.Time) (float64, time.Time, bool) {
	low, at, found := 0.0, time.Time{}, false
	for _, t := range c.times {
		if t.Before(from) || t.After(to) {
			continue
		}
		rec := c.records[t.UnixNano()]
		if !found || rec.Low < low {
			low, at, found = rec.Low, t, true
		}
	}
	return low, at, found
}

// FindMax scans records at or after from for the highest high.
func (c *Chart) FindMax(from time.Time) (float64, time.Time, bool) {
	high, at, found := 0.0, time.Time{}, false
	for _, t := range c.times {
		if t.Before(from) {
			continue
		}
		rec := c.records[t.UnixNano()]
		if !found || rec.High > high {
			high, at, found = rec.High, t, true
		}
	}
	return high, at, found
}
