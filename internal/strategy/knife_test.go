package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"knifetrader/config"
	"knifetrader/internal/chart"
	"knifetrader/internal/errs"
	"knifetrader/internal/indicator"
	"knifetrader/internal/model"
)

// scriptIndicator replays an externally set signal, which lets a test
// drive the strategy through exact chart votes.
type scriptIndicator struct {
	sig model.Signal
}

func (s *scriptIndicator) Name() string    { return "script" }
func (s *scriptIndicator) SellVoter() bool { return true }

func (s *scriptIndicator) Calculate(_ indicator.Fields, _, price float64) indicator.Fields {
	return indicator.Fields{"script_px": price}
}

func (s *scriptIndicator) Signal(indicator.Fields) model.Signal { return s.sig }

// simExchange simulates venue balances with instant fills at the
// triggering candle's close.
type simExchange struct {
	balance float64
	amount  float64
}

func (s *simExchange) Name() string { return "sim" }

func (s *simExchange) GetCandles(context.Context, string, int, int, int64) ([]model.Candle, error) {
	return nil, nil
}

func (s *simExchange) PlaceOrder(_ context.Context, req model.OrderRequest, _ string) (model.Order, error) {
	cost := req.Amount * req.Candle.Close
	switch req.Side {
	case model.SideBuy:
		s.balance -= cost
		s.amount += req.Amount
	case model.SideSell:
		s.balance += cost
		s.amount -= req.Amount
	}
	return model.Order{
		Time:   req.Candle.Time,
		Price:  req.Candle.Close,
		Amount: req.Amount,
		Side:   req.Side,
		Status: "FILLED",
		Cost:   cost,
	}, nil
}

func (s *simExchange) GetBalance(context.Context, string) (float64, float64, error) {
	return s.amount, s.balance, nil
}

func (s *simExchange) Stop(context.Context) error { return nil }

func knifeDef(takeProfit float64, tiers []config.TierDef) config.WorkerDef {
	return config.WorkerDef{
		Name:     "test",
		Symbol:   "BTC",
		Exchange: "sim",
		Chart:    config.ChartDef{Size: 2, Timeframe: 1},
		Strategy: config.StrategyDef{Type: TypeKnife, TakeProfit: takeProfit, Tiers: tiers},
	}
}

func defaultTiers() []config.TierDef {
	return []config.TierDef{
		{Drawdown: 0, Fraction: 0.1},
		{Drawdown: 2, Fraction: 0.2},
		{Drawdown: 5, Fraction: 0.3},
		{Drawdown: 8, Fraction: 0.4},
	}
}

type knifeHarness struct {
	strat  *Knife
	script *scriptIndicator
	venue  *simExchange
	deals  chan model.Deal
	next   int
}

func newKnifeHarness(t *testing.T, def config.WorkerDef, balance float64) *knifeHarness {
	t.Helper()
	script := &scriptIndicator{}
	ch, err := chart.New(def.Chart.Size, time.Duration(def.Chart.Timeframe)*time.Minute, []indicator.Indicator{script})
	if err != nil {
		t.Fatalf("chart build failed: %v", err)
	}
	venue := &simExchange{balance: balance}
	deals := make(chan model.Deal, 4)
	strat, err := NewKnife(def, ch, venue, Deps{Deals: deals, OnlineCheck: false})
	if err != nil {
		t.Fatalf("strategy build failed: %v", err)
	}
	return &knifeHarness{strat: strat, script: script, venue: venue, deals: deals}
}

// feed handles one candle at the next minute with the given vote.
func (h *knifeHarness) feed(t *testing.T, sig model.Signal, close float64) {
	t.Helper()
	h.script.sig = sig
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	candle := model.Candle{
		Time:  t0.Add(time.Duration(h.next) * time.Minute),
		Open:  close,
		High:  close,
		Low:   close,
		Close: close,
	}
	h.next++
	if err := h.strat.Handle(context.Background(), candle); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
}

func TestKnife_Validation(t *testing.T) {
	ch, _ := chart.New(2, time.Minute, []indicator.Indicator{&scriptIndicator{}})
	venue := &simExchange{}

	cases := []struct {
		name       string
		takeProfit float64
		tiers      []config.TierDef
	}{
		{"zero take profit", 0, defaultTiers()},
		{"no tiers", 0.5, nil},
		{"nonzero first tier", 0.5, []config.TierDef{{Drawdown: 1, Fraction: 0.5}}},
		{"descending tiers", 0.5, []config.TierDef{{Drawdown: 0, Fraction: 0.1}, {Drawdown: 5, Fraction: 0.2}, {Drawdown: 3, Fraction: 0.3}}},
		{"fraction above one", 0.5, []config.TierDef{{Drawdown: 0, Fraction: 1.5}}},
	}
	for _, tc := range cases {
		if _, err := NewKnife(knifeDef(tc.takeProfit, tc.tiers), ch, venue, Deps{}); !errs.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestKnife_IgnoresSignalsUntilChartReady(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(0.5, defaultTiers()), 1000)

	h.feed(t, model.SignalBuy, 100)

	if h.strat.Position() != nil {
		t.Error("expected no position before the chart window is full")
	}
	if h.venue.balance != 1000 {
		t.Errorf("expected untouched balance, got %v", h.venue.balance)
	}
}

func TestKnife_FullCycle(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(0.5, defaultTiers()), 1000)

	// fill the window, then open on the first BUY vote
	h.feed(t, model.SignalNone, 100)
	h.feed(t, model.SignalBuy, 100)

	pos := h.strat.Position()
	if pos == nil {
		t.Fatal("expected an open position after BUY on a ready chart")
	}
	// first tier: 10% of 1000 at close 100
	if math.Abs(pos.TotalCost-100) > 1e-9 || math.Abs(pos.TotalAmount-1) > 1e-9 {
		t.Fatalf("expected opening buy of cost=100 amount=1, got cost=%v amount=%v", pos.TotalCost, pos.TotalAmount)
	}

	// 3% drawdown crosses the 2% tier: spend 20% of the opening balance
	h.feed(t, model.SignalNone, 97)
	pos = h.strat.Position()
	if len(pos.Orders) != 2 {
		t.Fatalf("expected a second buy at 3%% drawdown, got %d orders", len(pos.Orders))
	}
	if math.Abs(pos.TotalCost-300) > 1e-9 {
		t.Errorf("expected total cost=300 after averaging, got %v", pos.TotalCost)
	}
	wantAvg := 300 / (1 + 200.0/97)
	if math.Abs(pos.AvgPrice-wantAvg) > 1e-9 {
		t.Errorf("expected avg=%v, got %v", wantAvg, pos.AvgPrice)
	}

	// recovery past take-profit sells the whole held amount
	h.feed(t, model.SignalNone, 99)
	if h.strat.Position() != nil {
		t.Fatal("expected a flat strategy after take-profit")
	}

	var deal model.Deal
	select {
	case deal = <-h.deals:
	default:
		t.Fatal("expected a closed deal on the deals channel")
	}

	wantProfit := (1+200.0/97)*99 - 300
	if math.Abs(deal.Position.Profit-wantProfit) > 1e-9 {
		t.Errorf("expected profit=%v, got %v", wantProfit, deal.Position.Profit)
	}
	if math.Abs(h.venue.amount) > 1e-9 {
		t.Errorf("expected nothing held after the close, got %v", h.venue.amount)
	}
	if math.Abs(h.venue.balance-(1000+wantProfit)) > 1e-9 {
		t.Errorf("expected balance=%v, got %v", 1000+wantProfit, h.venue.balance)
	}
}

func TestKnife_CloseLeavesPreexistingHoldings(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(0.5, defaultTiers()), 1000)
	h.venue.amount = 0.5 // base holdings that predate the strategy

	h.feed(t, model.SignalNone, 100)
	h.feed(t, model.SignalBuy, 100) // buys 1.0 for the position
	h.feed(t, model.SignalNone, 101)

	if h.strat.Position() != nil {
		t.Fatal("expected a flat strategy after take-profit")
	}
	if math.Abs(h.venue.amount-0.5) > 1e-9 {
		t.Errorf("expected pre-existing holdings untouched after the close, got %v", h.venue.amount)
	}

	var deal model.Deal
	select {
	case deal = <-h.deals:
	default:
		t.Fatal("expected a closed deal on the deals channel")
	}
	if math.Abs(deal.Position.Profit-1) > 1e-9 {
		t.Errorf("expected profit=1 from the position's own amount, got %v", deal.Position.Profit)
	}
}

func TestKnife_TiersConsumeAscendingOnce(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(10, defaultTiers()), 1000)

	h.feed(t, model.SignalNone, 100)
	h.feed(t, model.SignalBuy, 100)
	h.feed(t, model.SignalNone, 97) // crosses the 2% tier

	pos := h.strat.Position()
	if len(pos.Orders) != 2 {
		t.Fatalf("expected 2 orders after the first averaging step, got %d", len(pos.Orders))
	}

	// similar drawdown again: the 2% tier is spent, the 5% tier is not
	// reached, so no order fires
	h.feed(t, model.SignalNone, 96)
	if got := len(h.strat.Position().Orders); got != 2 {
		t.Errorf("expected no repeat of a consumed tier, got %d orders", got)
	}

	// deep drop crosses the 5% tier relative to the average entry
	h.feed(t, model.SignalNone, 90)
	if got := len(h.strat.Position().Orders); got != 3 {
		t.Errorf("expected the next tier to fire on a deeper drawdown, got %d orders", got)
	}
}

func TestKnife_SkipsAveragingOnDustBalance(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(10, []config.TierDef{
		{Drawdown: 0, Fraction: 1},
		{Drawdown: 2, Fraction: 1},
	}), 1000)

	h.feed(t, model.SignalNone, 100)
	h.feed(t, model.SignalBuy, 100) // spends the whole balance

	if h.venue.balance > 1 {
		t.Fatalf("expected the balance spent, got %v", h.venue.balance)
	}

	h.feed(t, model.SignalNone, 90)
	if got := len(h.strat.Position().Orders); got != 1 {
		t.Errorf("expected averaging skipped below the minimal balance, got %d orders", got)
	}
}

func TestKnife_AveragingCostCappedAtBalance(t *testing.T) {
	h := newKnifeHarness(t, knifeDef(10, []config.TierDef{
		{Drawdown: 0, Fraction: 0.9},
		{Drawdown: 2, Fraction: 0.9},
	}), 1000)

	h.feed(t, model.SignalNone, 100)
	h.feed(t, model.SignalBuy, 100) // spends 900, leaves 100

	h.feed(t, model.SignalNone, 90) // tier wants 900, only 100 remains

	pos := h.strat.Position()
	if len(pos.Orders) != 2 {
		t.Fatalf("expected a capped averaging buy, got %d orders", len(pos.Orders))
	}
	if math.Abs(pos.Orders[1].Cost-100) > 1e-9 {
		t.Errorf("expected cost capped at the remaining balance 100, got %v", pos.Orders[1].Cost)
	}
}
