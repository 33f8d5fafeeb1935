// Package puller decouples venue polling from per-strategy candle
// consumption. One poll goroutine runs per subscription key and
// broadcasts every fetched candle to all consumer queues registered
// for that key.
package puller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"knifetrader/internal/metrics"
	"knifetrader/internal/model"
)

const defaultQueueSize = 1024

// subscription is one poll loop's state: a venue/symbol pair and the
// queues its candles fan out to.
type subscription struct {
	exchange  model.Exchange
	symbol    string
	timeframe int
	batchSize int
	interval  time.Duration
	queues    []chan model.Candle
}

func (s *subscription) info() string {
	return fmt.Sprintf("%s %s tf=%dm interval=%s", s.exchange.Name(), s.symbol, s.timeframe, s.interval)
}

// Puller owns all subscriptions and their poll goroutines.
// Subscribe before Start; subscriptions live until Stop.
type Puller struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	queueSize int

	mu     sync.Mutex
	subs   map[string]*subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Puller.
type Option func(*Puller)

// WithQueueSize overrides the consumer queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Puller) { p.queueSize = n }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Puller) { p.metrics = m }
}

// New creates a Puller.
func New(log *slog.Logger, opts ...Option) *Puller {
	p := &Puller{
		log:       log.With(slog.String("component", "puller")),
		queueSize: defaultQueueSize,
		subs:      make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a consumer for (venue, symbol, interval) and
// returns its queue. The first subscriber for a key creates the
// subscription; later subscribers for the same key append a queue
// instead of spawning another poll loop.
func (p *Puller) Subscribe(exchange model.Exchange, symbol string, timeframe, batchSize int, interval time.Duration) <-chan model.Candle {
	key := fmt.Sprintf("%s-%s-%d", exchange.Name(), symbol, int(interval.Seconds()))
	queue := make(chan model.Candle, p.queueSize)

	p.mu.Lock()
	sub, ok := p.subs[key]
	if !ok {
		sub = &subscription{
			exchange:  exchange,
			symbol:    symbol,
			timeframe: timeframe,
			batchSize: batchSize,
			interval:  interval,
		}
		p.subs[key] = sub
	}
	sub.queues = append(sub.queues, queue)
	p.mu.Unlock()

	p.log.Info("subscribed", slog.String("key", key), slog.Int("queues", len(sub.queues)))
	return queue
}

// Start spawns one poll goroutine per registered subscription.
func (p *Puller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		p.wg.Add(1)
		go p.loop(ctx, sub)
	}
	p.log.Info("started", slog.Int("subscriptions", len(p.subs)))
}

// Stop cancels all poll loops and waits for them to observe the
// cancellation at their next loop boundary. In-flight fetches and
// sleeps finish that step before exiting.
func (p *Puller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("stopped")
}

// loop polls the venue forever. Errors are logged and retried after
// the fixed poll interval with no backoff growth and no retry cap. A
// venue that fails on every call polls forever without crashing the
// process.
func (p *Puller) loop(ctx context.Context, sub *subscription) {
	defer p.wg.Done()
	p.log.Info("start pulling", slog.String("sub", sub.info()))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("stopped pulling", slog.String("sub", sub.info()))
			return
		default:
		}

		candles, err := sub.exchange.GetCandles(ctx, sub.symbol, sub.timeframe, sub.batchSize, 0)
		if err != nil {
			p.log.Warn("pull failed",
				slog.String("sub", sub.info()),
				slog.String("error", err.Error()))
			if p.metrics != nil {
				p.metrics.PollErrors.WithLabelValues(sub.exchange.Name(), sub.symbol).Inc()
			}
		} else {
			for _, candle := range candles {
				p.broadcast(ctx, sub, candle)
			}
			if p.metrics != nil && len(candles) > 0 {
				p.metrics.CandlesPulled.WithLabelValues(sub.exchange.Name(), sub.symbol).Add(float64(len(candles)))
			}
		}

		select {
		case <-ctx.Done():
			p.log.Info("stopped pulling", slog.String("sub", sub.info()))
			return
		case <-time.After(sub.interval):
		}
	}
}

// broadcast delivers one candle to every queue of the subscription
// concurrently. A slow consumer does not delay delivery to its
// siblings within the round, but the poll loop waits for the whole
// round before fetching again, so each queue sees candles in venue
// order.
func (p *Puller) broadcast(ctx context.Context, sub *subscription, candle model.Candle) {
	var wg sync.WaitGroup
	for _, queue := range sub.queues {
		wg.Add(1)
		go func(q chan model.Candle) {
			defer wg.Done()
			select {
			case q <- candle:
				if p.metrics != nil {
					p.metrics.FanoutDeliveries.Inc()
				}
			case <-ctx.Done():
			}
		}(queue)
	}
	wg.Wait()
}

// QueueStats returns (len, cap) per queue across all subscriptions,
// for saturation reporting.
func (p *Puller) QueueStats() []metrics.QueueStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stats []metrics.QueueStat
	for key, sub := range p.subs {
		for i, q := range sub.queues {
			stats = append(stats, metrics.QueueStat{
				Name: fmt.Sprintf("%s#%d", key, i),
				Len:  len(q),
				Cap:  cap(q),
			})
		}
	}
	return stats
}
