package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"knifetrader/config"
	"knifetrader/internal/api"
	"knifetrader/internal/chart"
	"knifetrader/internal/errs"
	"knifetrader/internal/exchange"
	"knifetrader/internal/gateway"
	"knifetrader/internal/indicator"
	"knifetrader/internal/logger"
	"knifetrader/internal/metrics"
	"knifetrader/internal/model"
	"knifetrader/internal/notification"
	"knifetrader/internal/portfolio"
	"knifetrader/internal/puller"
	redisstore "knifetrader/internal/store/redis"
	sqlitestore "knifetrader/internal/store/sqlite"
	"knifetrader/internal/strategy"
	"knifetrader/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.Init("trader", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting")

	// ---- Worker definitions ----
	defs, err := config.LoadWorkers(cfg.WorkersFile)
	if err != nil {
		log.Error("load workers failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("workers loaded", slog.Int("count", len(defs)), slog.String("file", cfg.WorkersFile))

	// ---- Shutdown context ----
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics ----
	prom := metrics.New()
	go metrics.Serve(ctx, cfg.MetricsAddr, log)

	// ---- SQLite deal store ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("sqlite init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlWriter.Close()

	// ---- Redis live-state mirror (optional) ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, continuing without live state", slog.String("error", err.Error()))
		redisWriter = nil
	} else {
		defer redisWriter.Close()
	}

	// ---- HTTP surface: WebSocket stream + portfolio API ----
	hub := gateway.NewHub(log)
	go hub.Run(ctx)

	tracker := portfolio.New()
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: api.NewRouter(tracker, hub)}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("gateway listening", slog.String("addr", cfg.GatewayAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gateway server failed", slog.String("error", err.Error()))
		}
	}()

	// ---- Deal fan-out: strategies → portfolio, sqlite, redis, gateway ----
	deals := make(chan model.Deal, 64)
	sqliteDeals := make(chan model.Deal, 64)
	var redisDeals chan model.Deal
	if redisWriter != nil {
		redisDeals = make(chan model.Deal, 64)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case deal := <-deals:
				tracker.Record(deal)
				hub.Publish("deal", deal)
				select {
				case sqliteDeals <- deal:
				case <-ctx.Done():
					return
				}
				if redisDeals != nil {
					select {
					case redisDeals <- deal:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	go sqlWriter.Run(ctx, sqliteDeals)
	if redisWriter != nil {
		go redisWriter.Run(ctx, redisDeals)
	}

	// ---- Notifier ----
	var notifier model.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Info("telegram notifications enabled")
	} else {
		notifier = notification.NewLogNotifier(log)
	}

	// ---- Exchanges, shared across workers by name ----
	exchanges := make(map[string]model.Exchange)
	venue := func(name string) (model.Exchange, error) {
		if ex, ok := exchanges[name]; ok {
			return ex, nil
		}
		ex, err := buildExchange(name, cfg)
		if err != nil {
			return nil, err
		}
		exchanges[name] = ex
		return ex, nil
	}

	// ---- Build workers ----
	pull := puller.New(log, puller.WithMetrics(prom))
	manager := worker.NewManager(log)
	deps := strategy.Deps{
		Notifier:    notifier,
		Deals:       deals,
		Metrics:     prom,
		OnlineCheck: cfg.OnlineCheck,
	}

	for _, def := range defs {
		ex, err := venue(def.Exchange)
		if err != nil {
			log.Error("exchange init failed",
				slog.String("worker", def.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		inds, err := indicator.Build(def.Chart.Indicators)
		if err != nil {
			log.Error("indicator build failed",
				slog.String("worker", def.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		ch, err := chart.New(def.Chart.Size, time.Duration(def.Chart.Timeframe)*time.Minute, inds)
		if err != nil {
			log.Error("chart build failed",
				slog.String("worker", def.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		strat, err := strategy.Build(def, ch, ex, deps)
		if err != nil {
			log.Error("strategy build failed",
				slog.String("worker", def.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		params, _ := json.Marshal(def.Strategy)
		if err := sqlWriter.RegisterStrategy(strat.ID(), def.Name, def.Symbol, params); err != nil {
			log.Error("strategy registration failed",
				slog.String("worker", def.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}

		queue := pull.Subscribe(ex, def.Symbol, def.Chart.Timeframe, def.BatchSize,
			time.Duration(def.PullInterval)*time.Second)
		manager.Add(worker.New(def.Name, strat, log, prom), queue)
	}

	// ---- Run ----
	go prom.WatchQueues(ctx, 5*time.Second, pull.QueueStats)
	manager.Start(ctx)
	pull.Start(ctx)
	log.Info("pipeline ready", slog.Int("workers", len(defs)))

	<-ctx.Done()
	log.Info("shutdown signal received")

	// Stop the candle source first so workers drain, then workers.
	pull.Stop()
	manager.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	for name, ex := range exchanges {
		if err := ex.Stop(stopCtx); err != nil {
			log.Warn("exchange stop failed", slog.String("exchange", name), slog.String("error", err.Error()))
		}
	}
	log.Info("shutdown complete")
}

func buildExchange(name string, cfg *config.Config) (model.Exchange, error) {
	switch name {
	case "bingx":
		return exchange.NewBingX(exchange.BingXConfig{
			BaseURL:   cfg.BingXBaseURL,
			APIKey:    cfg.BingXAPIKey,
			SecretKey: cfg.BingXSecretKey,
		})
	case "csv":
		return exchange.NewCSV(exchange.CSVConfig{
			Path:           cfg.CSVPath,
			InitialBalance: cfg.CSVInitialBalance,
		})
	default:
		return nil, errs.Validation("unknown exchange %q", name)
	}
}
