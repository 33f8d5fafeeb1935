// Package metrics exposes Prometheus metrics for the trading engine.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the candle pipeline and
// the position strategies.
type Metrics struct {
	CandlesPulled    *prometheus.CounterVec // labels: exchange, symbol
	PollErrors       *prometheus.CounterVec // labels: exchange, symbol
	FanoutDeliveries prometheus.Counter
	QueueSaturation  *prometheus.GaugeVec // labels: queue

	HandleDur    prometheus.Histogram
	HandleErrors *prometheus.CounterVec // labels: worker

	OrdersPlaced   *prometheus.CounterVec // labels: side
	DealsClosed    prometheus.Counter
	RealizedProfit prometheus.Gauge
}

// New registers and returns all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		CandlesPulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_candles_pulled_total",
			Help: "Candles fetched from the venue",
		}, []string{"exchange", "symbol"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_poll_errors_total",
			Help: "Venue poll attempts that failed",
		}, []string{"exchange", "symbol"}),
		FanoutDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_fanout_deliveries_total",
			Help: "Candles delivered to consumer queues",
		}),
		QueueSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_queue_saturation_pct",
			Help: "Consumer queue fill percentage (len/cap * 100)",
		}, []string{"queue"}),
		HandleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_handle_duration_seconds",
			Help:    "Strategy handle latency per candle",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		HandleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_handle_errors_total",
			Help: "Candle handling errors caught by the worker loop",
		}, []string{"worker"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_placed_total",
			Help: "Orders placed at the venue by side",
		}, []string{"side"}),
		DealsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_deals_closed_total",
			Help: "Positions fully closed",
		}),
		RealizedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_realized_profit",
			Help: "Cumulative realized profit in quote currency",
		}),
	}

	prometheus.MustRegister(
		m.CandlesPulled, m.PollErrors, m.FanoutDeliveries, m.QueueSaturation,
		m.HandleDur, m.HandleErrors,
		m.OrdersPlaced, m.DealsClosed, m.RealizedProfit,
	)
	return m
}

// QueueStat is a queue occupancy sample.
type QueueStat struct {
	Name string
	Len  int
	Cap  int
}

// WatchQueues periodically samples queue saturation until ctx ends.
func (m *Metrics) WatchQueues(ctx context.Context, interval time.Duration, sample func() []QueueStat) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range sample() {
				if st.Cap == 0 {
					continue
				}
				m.QueueSaturation.WithLabelValues(st.Name).Set(float64(st.Len) / float64(st.Cap) * 100)
			}
		}
	}
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", slog.String("error", err.Error()))
	}
}
