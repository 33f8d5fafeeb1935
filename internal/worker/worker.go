// Package worker runs one consumer loop per strategy instance,
// draining a single candle queue and feeding the bound strategy.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"knifetrader/internal/metrics"
	"knifetrader/internal/model"
	"knifetrader/internal/strategy"
)

// Worker drains one queue and feeds candles to its strategy one at a
// time. A handling error or panic is logged and the loop moves on to
// the next candle, so one bad candle never kills the worker or its
// siblings.
type Worker struct {
	name     string
	strategy strategy.Strategy
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a worker bound to a strategy instance.
func New(name string, strat strategy.Strategy, log *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		name:     name,
		strategy: strat,
		log:      log.With(slog.String("worker", name)),
		metrics:  m,
	}
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Run consumes candles until ctx is cancelled or the queue closes.
// Candle timestamps are normalized to local time before handling.
func (w *Worker) Run(ctx context.Context, queue <-chan model.Candle) {
	w.log.Info("run streaming")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stop streaming")
			return
		case candle, ok := <-queue:
			if !ok {
				w.log.Info("queue closed, stop streaming")
				return
			}
			candle.Time = candle.Time.Local()

			start := time.Now()
			if err := w.handle(ctx, candle); err != nil {
				w.log.Error("handle failed",
					slog.Time("candle", candle.Time),
					slog.String("error", err.Error()))
				if w.metrics != nil {
					w.metrics.HandleErrors.WithLabelValues(w.name).Inc()
				}
			}
			if w.metrics != nil {
				w.metrics.HandleDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// handle isolates strategy faults: a panic inside Handle becomes an
// error for this candle only.
func (w *Worker) handle(ctx context.Context, candle model.Candle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return w.strategy.Handle(ctx, candle)
}

// Manager owns a set of workers and their goroutines. Workers are
// added before Start; Stop waits for all loops to exit.
type Manager struct {
	log     *slog.Logger
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type entry struct {
	worker *Worker
	queue  <-chan model.Candle
}

// NewManager creates an empty manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{log: log.With(slog.String("component", "workers"))}
}

// Add binds a worker to its consumer queue.
func (m *Manager) Add(w *Worker, queue <-chan model.Candle) {
	m.entries = append(m.entries, entry{worker: w, queue: queue})
}

// Start launches all worker loops.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, e := range m.entries {
		e := e
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			e.worker.Run(ctx, e.queue)
		}()
	}
	m.log.Info("running workers", slog.Int("count", len(m.entries)))
}

// Stop cancels all workers and waits for their loops to finish. A
// worker blocked on an empty queue exits on the cancellation.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.log.Info("workers stopped")
}
