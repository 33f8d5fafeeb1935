// cmd/backtest replays historical candles from CSV files through a
// knife strategy to evaluate parameters without live market data.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/BTC.csv --balance=10000 --take-profit=0.5 --tiers=0:0.1,2:0.2,5:0.3,8:0.4
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"knifetrader/config"
	"knifetrader/internal/chart"
	"knifetrader/internal/exchange"
	"knifetrader/internal/indicator"
	"knifetrader/internal/logger"
	"knifetrader/internal/model"
	"knifetrader/internal/notification"
	"knifetrader/internal/strategy"
)

func main() {
	csvPath := flag.String("csv", "", "CSV candle file or directory of *.csv files")
	balance := flag.Float64("balance", 10000, "Initial quote balance")
	symbol := flag.String("symbol", "BTC", "Symbol label for reports")
	takeProfit := flag.Float64("take-profit", 0.5, "Take-profit percent")
	tiersStr := flag.String("tiers", "0:0.1,2:0.2,5:0.3,8:0.4", "Averaging tiers as drawdown:fraction,...")
	size := flag.Int("size", 100, "Chart window size in candles")
	tf := flag.Int("tf", 1, "Candle timeframe in minutes")
	indStr := flag.String("indicators", "triple_ema:20:100:300,rsi:14:7:30", "Indicators as type:params, comma separated")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log := logger.Init("backtest", logger.ParseLevel(*logLevel))

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: --csv is required")
		os.Exit(1)
	}

	tiers, err := parseTiers(*tiersStr)
	if err != nil {
		fatal(err)
	}
	indConfigs, err := parseIndicators(*indStr)
	if err != nil {
		fatal(err)
	}

	venue, err := exchange.NewCSV(exchange.CSVConfig{
		Path:           *csvPath,
		InitialBalance: *balance,
	})
	if err != nil {
		fatal(err)
	}

	inds, err := indicator.Build(indConfigs)
	if err != nil {
		fatal(err)
	}
	ch, err := chart.New(*size, time.Duration(*tf)*time.Minute, inds)
	if err != nil {
		fatal(err)
	}

	def := config.WorkerDef{
		Name:     "backtest",
		Symbol:   *symbol,
		Exchange: venue.Name(),
		Chart:    config.ChartDef{Size: *size, Timeframe: *tf, Indicators: indConfigs},
		Strategy: config.StrategyDef{Type: strategy.TypeKnife, TakeProfit: *takeProfit, Tiers: tiers},
	}

	deals := make(chan model.Deal, 1024)
	strat, err := strategy.Build(def, ch, venue, strategy.Deps{
		Notifier: notification.NewLogNotifier(log),
		Deals:    deals,
		// replayed candles are historical; never gate on freshness
		OnlineCheck: false,
	})
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	candles, err := venue.GetCandles(ctx, *symbol, *tf, 0, 0)
	if err != nil {
		fatal(err)
	}

	start := time.Now()
	for _, candle := range candles {
		if err := strat.Handle(ctx, candle); err != nil {
			log.Error("handle failed",
				slog.Time("candle", candle.Time),
				slog.String("error", err.Error()))
		}
	}
	elapsed := time.Since(start)

	closed := drain(deals)
	var profit float64
	for _, deal := range closed {
		profit += deal.Position.Profit
	}
	held, quote, _ := venue.GetBalance(ctx, *symbol)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", len(candles))
	fmt.Printf("║  Deals closed:      %-16d ║\n", len(closed))
	fmt.Printf("║  Realized profit:   %-16.2f ║\n", profit)
	fmt.Printf("║  Final quote:       %-16.2f ║\n", quote)
	fmt.Printf("║  Held amount:       %-16.6f ║\n", held)
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Truncate(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

func drain(deals chan model.Deal) []model.Deal {
	var closed []model.Deal
	for {
		select {
		case deal := <-deals:
			closed = append(closed, deal)
		default:
			return closed
		}
	}
}

// parseTiers parses "0:0.1,2:0.2" into tier definitions.
func parseTiers(s string) ([]config.TierDef, error) {
	var tiers []config.TierDef
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid tier %q, want drawdown:fraction", part)
		}
		drawdown, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tier drawdown %q: %w", fields[0], err)
		}
		fraction, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tier fraction %q: %w", fields[1], err)
		}
		tiers = append(tiers, config.TierDef{Drawdown: drawdown, Fraction: fraction})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no tiers specified")
	}
	return tiers, nil
}

// parseIndicators parses "triple_ema:20:100:300,rsi:14:7:30" into
// indicator configs. Omitted parameters take indicator defaults.
func parseIndicators(s string) ([]indicator.Config, error) {
	var cfgs []indicator.Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		nums := make([]int, 0, len(fields)-1)
		for _, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("invalid indicator parameter %q: %w", f, err)
			}
			nums = append(nums, n)
		}
		switch fields[0] {
		case indicator.TypeTripleEMA:
			cfg := indicator.Config{Type: indicator.TypeTripleEMA}
			if len(nums) >= 3 {
				cfg.Fast, cfg.Medium, cfg.Slow = nums[0], nums[1], nums[2]
			}
			cfgs = append(cfgs, cfg)
		case indicator.TypeRSI:
			cfg := indicator.Config{Type: indicator.TypeRSI}
			if len(nums) >= 3 {
				cfg.Period, cfg.EMAPeriod, cfg.Zone = nums[0], nums[1], float64(nums[2])
			}
			cfgs = append(cfgs, cfg)
		default:
			return nil, fmt.Errorf("unknown indicator type %q", fields[0])
		}
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no indicators specified")
	}
	return cfgs, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "backtest:", err)
	os.Exit(1)
}
