package exchange

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"knifetrader/internal/errs"
	"knifetrader/internal/model"
)

// CSVConfig configures the offline venue.
type CSVConfig struct {
	// Path is a CSV file or a directory of CSV files replayed in
	// name order. Rows are time,open,high,low,close,volume with the
	// time in epoch seconds.
	Path string

	// InitialBalance is the starting quote balance.
	InitialBalance float64
}

// CSV is an offline venue for backtesting: candles come from files,
// orders fill instantly at the triggering candle's close, and balance
// bookkeeping is simulated in memory.
type CSV struct {
	path string

	mu      sync.Mutex
	balance float64
	amount  float64
	drained bool
}

// NewCSV validates the path and builds the venue.
func NewCSV(cfg CSVConfig) (*CSV, error) {
	if cfg.Path == "" {
		return nil, errs.Validation("csv exchange: path is required")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, errs.Validation("csv exchange: %v", err)
	}
	return &CSV{path: cfg.Path, balance: cfg.InitialBalance}, nil
}

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Stop(context.Context) error { return nil }

// GetCandles returns the full history on the first call and nothing
// afterwards, so a poll loop driving it simply idles once replay is
// done. Consecutive rows sharing a timestamp are folded together with
// candle merge semantics.
func (c *CSV) GetCandles(ctx context.Context, _ string, _, _ int, _ int64) ([]model.Candle, error) {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return nil, nil
	}
	c.drained = true
	c.mu.Unlock()

	files, err := c.files()
	if err != nil {
		return nil, err
	}

	var candles []model.Candle
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readCandleFile(file)
		if err != nil {
			return nil, err
		}
		for _, candle := range rows {
			n := len(candles)
			if n > 0 && candles[n-1].Time.Equal(candle.Time) {
				candles[n-1] = candles[n-1].Merge(candle)
				continue
			}
			candles = append(candles, candle)
		}
	}
	return candles, nil
}

func (c *CSV) files() ([]string, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "csv exchange: stat %s", c.path)
	}
	if !info.IsDir() {
		return []string{c.path}, nil
	}
	files, err := filepath.Glob(filepath.Join(c.path, "*.csv"))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "csv exchange: glob %s", c.path)
	}
	sort.Strings(files)
	return files, nil
}

func readCandleFile(path string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "csv exchange: open %s", path)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "csv exchange: read %s", path)
	}

	candles := make([]model.Candle, 0, len(records))
	for _, rec := range records {
		if len(rec) < 6 {
			return nil, errs.Transient("csv exchange: %s: short row (%d fields)", path, len(rec))
		}
		vals := make([]float64, 6)
		for i := 0; i < 6; i++ {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, errs.Transient("csv exchange: %s: bad field %q", path, rec[i])
			}
			vals[i] = v
		}
		sec := int64(vals[0])
		candles = append(candles, model.Candle{
			Time:   time.Unix(sec, 0).UTC(),
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return candles, nil
}

// PlaceOrder fills instantly at the candle close and mutates the
// simulated balances.
func (c *CSV) PlaceOrder(_ context.Context, req model.OrderRequest, _ string) (model.Order, error) {
	cost := req.Amount * req.Candle.Close

	c.mu.Lock()
	defer c.mu.Unlock()
	switch req.Side {
	case model.SideBuy:
		c.balance -= cost
		c.amount += req.Amount
	case model.SideSell:
		c.balance += cost
		c.amount -= req.Amount
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

// GetBalance returns the simulated held amount and quote balance.
func (c *CSV) GetBalance(_ context.Context, _ string) (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amount, c.balance, nil
}
