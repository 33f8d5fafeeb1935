package chart

import (
	"testing"
	"time"

	"knifetrader/internal/errs"
	"knifetrader/internal/indicator"
	"knifetrader/internal/model"
)

// stubIndicator votes a fixed signal and records the previous close it
// was calculated from, which makes forming-bar recomputation visible.
type stubIndicator struct {
	name     string
	signal   model.Signal
	sellVote bool
}

func (s *stubIndicator) Name() string    { return s.name }
func (s *stubIndicator) SellVoter() bool { return s.sellVote }

func (s *stubIndicator) Calculate(_ indicator.Fields, prevClose, price float64) indicator.Fields {
	return indicator.Fields{
		s.name + "_prev": prevClose,
		s.name + "_px":   price,
	}
}

func (s *stubIndicator) Signal(indicator.Fields) model.Signal { return s.signal }

func candleAt(minute int, close float64) model.Candle {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.Candle{
		Time:  t0.Add(time.Duration(minute) * time.Minute),
		Open:  close,
		High:  close + 1,
		Low:   close - 1,
		Close: close,
	}
}

func newTestChart(t *testing.T, size int, inds ...indicator.Indicator) *Chart {
	t.Helper()
	if len(inds) == 0 {
		inds = []indicator.Indicator{&stubIndicator{name: "stub", sellVote: true}}
	}
	c, err := New(size, time.Minute, inds)
	if err != nil {
		t.Fatalf("chart build failed: %v", err)
	}
	return c
}

func TestChart_Validation(t *testing.T) {
	stub := &stubIndicator{name: "stub"}
	if _, err := New(0, time.Minute, []indicator.Indicator{stub}); !errs.IsValidation(err) {
		t.Errorf("expected validation error for zero size, got %v", err)
	}
	if _, err := New(10, 0, []indicator.Indicator{stub}); !errs.IsValidation(err) {
		t.Errorf("expected validation error for zero timeframe, got %v", err)
	}
	if _, err := New(10, time.Minute, nil); !errs.IsValidation(err) {
		t.Errorf("expected validation error for no indicators, got %v", err)
	}
}

func TestChart_EvictsOldestAtCapacity(t *testing.T) {
	c := newTestChart(t, 3)

	for i := 0; i < 5; i++ {
		c.Add(candleAt(i, float64(100+i)))
	}

	if c.Len() != 3 {
		t.Fatalf("expected window length 3, got %d", c.Len())
	}
	first, ok := c.First()
	if !ok || first.Close != 102 {
		t.Errorf("expected oldest close=102 after eviction, got %v", first.Close)
	}
	last, ok := c.Last()
	if !ok || last.Close != 104 {
		t.Errorf("expected newest close=104, got %v", last.Close)
	}
}

func TestChart_FormingBarOverwritesInPlace(t *testing.T) {
	c := newTestChart(t, 10)

	c.Add(candleAt(0, 100))
	c.Add(candleAt(1, 110))
	c.Add(candleAt(1, 120)) // same bar still forming

	if c.Len() != 2 {
		t.Fatalf("expected forming-bar update to keep length 2, got %d", c.Len())
	}

	last, _ := c.Last()
	if last.Close != 120 {
		t.Errorf("expected close=120 after update, got %v", last.Close)
	}
	// recomputed from the record before the forming bar, not from the
	// forming bar's own earlier state
	if got := last.Fields.Get("stub_prev", 0); got != 100 {
		t.Errorf("expected prev close=100 after recompute, got %v", got)
	}
}

func TestChart_FirstBarUsesOwnClose(t *testing.T) {
	c := newTestChart(t, 10)
	c.Add(candleAt(0, 100))

	last, _ := c.Last()
	if got := last.Fields.Get("stub_prev", 0); got != 100 {
		t.Errorf("expected first bar prev close to equal its own close, got %v", got)
	}
}

func TestChart_Vote(t *testing.T) {
	cases := []struct {
		name string
		inds []indicator.Indicator
		want model.Signal
	}{
		{
			name: "unanimous buy",
			inds: []indicator.Indicator{
				&stubIndicator{name: "a", signal: model.SignalBuy, sellVote: true},
				&stubIndicator{name: "b", signal: model.SignalBuy, sellVote: false},
			},
			want: model.SignalBuy,
		},
		{
			name: "split vote resolves to none",
			inds: []indicator.Indicator{
				&stubIndicator{name: "a", signal: model.SignalBuy, sellVote: true},
				&stubIndicator{name: "b", signal: model.SignalNone, sellVote: true},
			},
			want: model.SignalNone,
		},
		{
			name: "sell ignores non sell-voters",
			inds: []indicator.Indicator{
				&stubIndicator{name: "a", signal: model.SignalSell, sellVote: true},
				&stubIndicator{name: "b", signal: model.SignalNone, sellVote: false},
			},
			want: model.SignalSell,
		},
		{
			name: "no sell voters never sells",
			inds: []indicator.Indicator{
				&stubIndicator{name: "a", signal: model.SignalSell, sellVote: false},
				&stubIndicator{name: "b", signal: model.SignalSell, sellVote: false},
			},
			want: model.SignalNone,
		},
	}

	for _, tc := range cases {
		c := newTestChart(t, 10, tc.inds...)
		if got := c.Add(candleAt(0, 100)); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestChart_ReadyAndOnline(t *testing.T) {
	c := newTestChart(t, 2)

	if c.Ready() {
		t.Error("expected empty chart not ready")
	}
	if c.Online(time.Now()) {
		t.Error("expected empty chart offline")
	}

	c.Add(candleAt(0, 100))
	if c.Ready() {
		t.Error("expected partially filled chart not ready")
	}
	c.Add(candleAt(1, 101))
	if !c.Ready() {
		t.Error("expected full chart ready")
	}

	newest := candleAt(1, 101).Time
	if !c.Online(newest.Add(30 * time.Second)) {
		t.Error("expected chart online within one timeframe of the newest bar")
	}
	if c.Online(newest.Add(2 * time.Minute)) {
		t.Error("expected chart offline past one timeframe")
	}
}

func TestChart_DeltaAndScans(t *testing.T) {
	c := newTestChart(t, 5)
	for i, close := range []float64{100, 90, 80, 95, 102} {
		c.Add(candleAt(i, close))
	}

	if got := c.Delta(); got != 2 {
		t.Errorf("expected delta=2.00, got %v", got)
	}

	from := candleAt(0, 0).Time
	to := candleAt(4, 0).Time
	low, at, ok := c.FindMin(from, to)
	if !ok || low != 79 || !at.Equal(candleAt(2, 0).Time) {
		t.Errorf("expected min low=79 at bar 2, got %v at %v", low, at)
	}

	high, at, ok := c.FindMax(from)
	if !ok || high != 103 || !at.Equal(candleAt(4, 0).Time) {
		t.Errorf("expected max high=103 at bar 4, got %v at %v", high, at)
	}
}
