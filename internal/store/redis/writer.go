// Package redis keeps a live view of strategy state: the latest deal
// per strategy in a hash, and a capped stream of deal events for
// downstream consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"knifetrader/internal/model"
)

const (
	dealStream       = "trader:deals"
	dealStreamMaxLen = 1000
	latestKeyPrefix  = "trader:strategy:"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer mirrors closed deals into Redis.
type Writer struct {
	client *goredis.Client
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Writer and pings the server.
func New(cfg WriterConfig, log *slog.Logger) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log = log.With(slog.String("component", "redis"))
	log.Info("connected", slog.String("addr", cfg.Addr))
	return &Writer{client: client, log: log}, nil
}

// Run drains deals and writes each as a latest-state hash update plus
// a stream entry. Blocks until ctx is cancelled or the channel closes.
func (w *Writer) Run(ctx context.Context, deals <-chan model.Deal) {
	for {
		select {
		case <-ctx.Done():
			return
		case deal, ok := <-deals:
			if !ok {
				return
			}
			if err := w.writeDeal(ctx, deal); err != nil {
				w.log.Error("write deal failed",
					slog.String("strategy", deal.Strategy),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Writer) writeDeal(ctx context.Context, deal model.Deal) error {
	pos := deal.Position

	pipe := w.client.Pipeline()
	pipe.HSet(ctx, latestKeyPrefix+deal.Strategy, map[string]any{
		"symbol":    deal.Symbol,
		"profit":    pos.Profit,
		"avg_price": pos.AvgPrice,
		"orders":    len(pos.Orders),
		"closed_at": deal.ClosedAt.Unix(),
	})
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: dealStream,
		MaxLen: dealStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"strategy": deal.Strategy,
			"symbol":   deal.Symbol,
			"profit":   pos.Profit,
			"deal":     mustJSON(deal),
		},
	})
	_, err := pipe.Exec(ctx)
	return err
}

func mustJSON(deal model.Deal) string {
	b, _ := json.Marshal(deal)
	return string(b)
}

// Close releases the client.
func (w *Writer) Close() error { return w.client.Close() }
