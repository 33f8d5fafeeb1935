package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"knifetrader/config"
	"knifetrader/internal/chart"
	"knifetrader/internal/errs"
	"knifetrader/internal/metrics"
	"knifetrader/internal/model"
)

// minQuoteBalance is the smallest quote balance worth trading with.
// Averaging steps are skipped entirely below it.
const minQuoteBalance = 1.0

// tier is one pending averaging step for the current position:
// once drawdown exceeds the threshold, cost is spent on a buy.
type tier struct {
	drawdown float64
	cost     float64
}

// Knife buys into falling prices in stages and exits on a small
// profit target.
//
// State machine: FLAT (no position) → OPEN on a BUY signal (first,
// zero-threshold tier spent immediately) → AVERAGING as drawdown
// crosses tier thresholds in ascending order, each tier spent at most
// once → back to FLAT when the price recovers past the take-profit
// threshold and the whole position is sold.
type Knife struct {
	id     string
	name   string
	symbol string

	chart    *chart.Chart
	exchange model.Exchange

	takeProfit  float64
	tiers       []config.TierDef
	onlineCheck bool

	// pending tiers for the current position; rebuilt from the quote
	// balance on every open
	pending  []tier
	position *model.Position

	notifier model.Notifier
	deals    chan<- model.Deal
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewKnife validates the definition and builds a strategy instance.
func NewKnife(def config.WorkerDef, ch *chart.Chart, exchange model.Exchange, deps Deps) (*Knife, error) {
	if def.Strategy.TakeProfit <= 0 {
		return nil, errs.Validation("strategy %s: take_profit must be positive, got %v", def.Name, def.Strategy.TakeProfit)
	}
	if err := validateTiers(def.Name, def.Strategy.Tiers); err != nil {
		return nil, err
	}
	return &Knife{
		id:          fmt.Sprintf("%s-%d", def.Name, time.Now().UnixNano()),
		name:        def.Name,
		symbol:      def.Symbol,
		chart:       ch,
		exchange:    exchange,
		takeProfit:  def.Strategy.TakeProfit,
		tiers:       def.Strategy.Tiers,
		onlineCheck: deps.OnlineCheck,
		notifier:    deps.Notifier,
		deals:       deps.Deals,
		metrics:     deps.Metrics,
		log:         slog.Default().With(slog.String("strategy", def.Name)),
	}, nil
}

// validateTiers enforces the averaging ladder shape: at least one
// tier, the first at zero drawdown (the opening buy), thresholds
// strictly ascending, fractions in (0, 1].
func validateTiers(name string, tiers []config.TierDef) error {
	if len(tiers) == 0 {
		return errs.Validation("strategy %s: at least one averaging tier required", name)
	}
	if tiers[0].Drawdown != 0 {
		return errs.Validation("strategy %s: first tier must have zero drawdown, got %v", name, tiers[0].Drawdown)
	}
	for i, t := range tiers {
		if t.Fraction <= 0 || t.Fraction > 1 {
			return errs.Validation("strategy %s: tier %d fraction must be in (0, 1], got %v", name, i, t.Fraction)
		}
		if i > 0 && t.Drawdown <= tiers[i-1].Drawdown {
			return errs.Validation("strategy %s: tier drawdowns must be strictly ascending", name)
		}
	}
	return nil
}

func (k *Knife) Name() string { return k.name }

// ID returns the unique instance identifier.
func (k *Knife) ID() string { return k.id }

// Position returns the currently open position, or nil when flat.
func (k *Knife) Position() *model.Position { return k.position }

// Handle consumes one candle. The strategy only reacts once the chart
// window is full, and, when the online check is enabled, only while
// the chart is fresh.
func (k *Knife) Handle(ctx context.Context, candle model.Candle) error {
	sig := k.chart.Add(candle)
	if !k.chart.Ready() {
		return nil
	}
	if k.onlineCheck && !k.chart.Online(time.Now()) {
		return nil
	}

	if sig == model.SignalBuy && k.position == nil {
		if err := k.open(ctx, candle); err != nil {
			return err
		}
	}
	if k.position == nil {
		return nil
	}

	delta := round3((candle.Close - k.position.AvgPrice) / k.position.AvgPrice * 100)
	switch {
	case delta > k.takeProfit:
		return k.close(ctx, candle)
	case delta < 0:
		return k.average(ctx, -delta, candle)
	default:
		return nil
	}
}

// open builds the tier ladder from the current quote balance and
// spends the first (zero-threshold) tier as the opening buy.
func (k *Knife) open(ctx context.Context, candle model.Candle) error {
	_, balance, err := k.exchange.GetBalance(ctx, k.symbol)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	k.pending = make([]tier, 0, len(k.tiers))
	for _, t := range k.tiers {
		k.pending = append(k.pending, tier{drawdown: t.Drawdown, cost: balance * t.Fraction})
	}

	first := k.pending[0]
	k.pending = k.pending[1:]
	order, err := k.buy(ctx, first.cost, candle)
	if err != nil {
		return err
	}
	k.position = model.NewPosition(order)
	k.log.Info("position opened",
		slog.Float64("price", order.Price),
		slog.Float64("amount", order.Amount),
		slog.Float64("cost", order.Cost))
	return nil
}

// average consumes the next tier once the drawdown exceeds its
// threshold. The cost is capped at the available balance; the step is
// skipped when nothing is pending, the computed cost is zero, or the
// balance is below the minimal trading unit.
func (k *Knife) average(ctx context.Context, drawdown float64, candle model.Candle) error {
	_, balance, err := k.exchange.GetBalance(ctx, k.symbol)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if balance < minQuoteBalance {
		return nil
	}
	if len(k.pending) == 0 {
		return nil
	}

	cost := 0.0
	if drawdown > k.pending[0].drawdown {
		cost = k.pending[0].cost
		k.pending = k.pending[1:]
	}
	if cost > balance {
		cost = balance
	}
	if cost == 0 {
		return nil
	}

	order, err := k.buy(ctx, cost, candle)
	if err != nil {
		return err
	}
	k.position.AddBuy(order)
	k.log.Info("averaged in",
		slog.Float64("drawdown", drawdown),
		slog.Float64("cost", order.Cost),
		slog.Float64("avg_price", k.position.AvgPrice))
	return nil
}

// close sells the position's full amount, realizes the profit and
// returns the strategy to FLAT.
func (k *Knife) close(ctx context.Context, candle model.Candle) error {
	held, _, err := k.exchange.GetBalance(ctx, k.symbol)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	// base holdings that predate the position are not ours to sell
	amount := held
	if amount > k.position.TotalAmount {
		amount = k.position.TotalAmount
	}

	order, err := k.exchange.PlaceOrder(ctx, model.SellRequest(k.symbol, amount, candle), "")
	if err != nil {
		return fmt.Errorf("place sell order: %w", err)
	}
	if k.metrics != nil {
		k.metrics.OrdersPlaced.WithLabelValues(string(model.SideSell)).Inc()
	}
	if err := k.position.AddSell(order); err != nil {
		return err
	}

	position := *k.position
	k.position = nil
	k.pending = nil

	k.log.Info("position closed",
		slog.Float64("profit", position.Profit),
		slog.Duration("duration", position.Duration()))
	if k.metrics != nil {
		k.metrics.DealsClosed.Inc()
		k.metrics.RealizedProfit.Add(position.Profit)
	}
	k.report(ctx, position)
	return nil
}

func (k *Knife) buy(ctx context.Context, cost float64, candle model.Candle) (model.Order, error) {
	amount := cost / candle.Close
	order, err := k.exchange.PlaceOrder(ctx, model.BuyRequest(k.symbol, amount, candle), "")
	if err != nil {
		return model.Order{}, fmt.Errorf("place buy order: %w", err)
	}
	if k.metrics != nil {
		k.metrics.OrdersPlaced.WithLabelValues(string(model.SideBuy)).Inc()
	}
	return order, nil
}

// report pushes the deal to the notifier and hands it to the
// persistence collaborators. Both are fire-and-forget: a full deals
// channel or a failed push is logged, never propagated.
func (k *Knife) report(ctx context.Context, position model.Position) {
	deal := model.Deal{
		StrategyID: k.id,
		Strategy:   k.name,
		Symbol:     k.symbol,
		ClosedAt:   position.Orders[len(position.Orders)-1].Time,
		Position:   position,
	}

	if k.deals != nil {
		select {
		case k.deals <- deal:
		default:
			k.log.Warn("deals channel full, dropping deal record")
		}
	}

	if k.notifier != nil {
		summary := k.summarize(position)
		if err := k.notifier.PushText(ctx, fmt.Sprintf("%s %s closed: profit %.2f", k.name, k.symbol, position.Profit)); err != nil {
			k.log.Warn("push text failed", slog.String("error", err.Error()))
		}
		name := fmt.Sprintf("%s-deal", deal.ClosedAt.Format("2006.01.02-15.04.05"))
		if err := k.notifier.PushReport(ctx, name, summary); err != nil {
			k.log.Warn("push report failed", slog.String("error", err.Error()))
		}
	}
}

// summarize renders the post-trade report: entry, average, worst
// drawdown over the position's lifetime, duration and profit.
func (k *Knife) summarize(position model.Position) string {
	start := position.Orders[0]
	last := position.Orders[len(position.Orders)-1]
	loss := round2((position.AvgPrice - start.Price) / start.Price * 100)

	summary := fmt.Sprintf("symbol=%s start=%.2f avg=%.2f loss=%.2f%%",
		k.symbol, start.Price, position.AvgPrice, loss)
	if low, _, ok := k.chart.FindMin(start.Time, last.Time); ok {
		minLoss := round2((low - start.Price) / start.Price * 100)
		summary += fmt.Sprintf(" min=%.2f min_loss=%.2f%%", low, minLoss)
	}
	summary += fmt.Sprintf(" duration=%s profit=%.2f", position.Duration(), round2(position.Profit))
	return summary
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
