// Package sqlite persists finalized strategy, position and order
// records. The writer drains a channel so the trading core never
// blocks on persistence.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"knifetrader/internal/model"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to the database file, e.g. "data/trader.db"
}

// Writer is a single-goroutine SQLite writer.
type Writer struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and ensures the schema.
func New(cfg WriterConfig, log *slog.Logger) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With(slog.String("component", "sqlite"))
	log.Info("opened database", slog.String("path", cfg.DBPath))
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS strategies (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			params     TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS positions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			status      TEXT NOT NULL,
			avg_price   REAL NOT NULL,
			total_cost  REAL NOT NULL,
			profit      REAL NOT NULL,
			opened_at   INTEGER NOT NULL,
			closed_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id INTEGER NOT NULL REFERENCES positions(id),
			ts          INTEGER NOT NULL,
			price       REAL NOT NULL,
			amount      REAL NOT NULL,
			side        TEXT NOT NULL,
			status      TEXT NOT NULL,
			cost        REAL NOT NULL
		);
	`)
	return err
}

// RegisterStrategy records a strategy instance at startup.
func (w *Writer) RegisterStrategy(id, name, symbol string, params []byte) error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO strategies (id, name, symbol, params)
		VALUES (?, ?, ?, ?)
	`, id, name, symbol, string(params))
	if err != nil {
		return fmt.Errorf("sqlite insert strategy: %w", err)
	}
	return nil
}

// Run drains deals from the channel and writes each in one
// transaction. Blocks until ctx is cancelled or the channel closes.
func (w *Writer) Run(ctx context.Context, deals <-chan model.Deal) {
	for {
		select {
		case <-ctx.Done():
			return
		case deal, ok := <-deals:
			if !ok {
				return
			}
			if err := w.writeDeal(deal); err != nil {
				w.log.Error("write deal failed",
					slog.String("strategy", deal.Strategy),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Writer) writeDeal(deal model.Deal) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	pos := deal.Position
	res, err := tx.Exec(`
		INSERT INTO positions (strategy_id, symbol, status, avg_price, total_cost, profit, opened_at, closed_at)
		VALUES (?, ?, 'CLOSED', ?, ?, ?, ?, ?)
	`, deal.StrategyID, deal.Symbol, pos.AvgPrice, pos.TotalCost, pos.Profit,
		pos.Orders[0].Time.Unix(), deal.ClosedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert position: %w", err)
	}
	posID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite last insert id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO orders (position_id, ts, price, amount, side, status, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare orders: %w", err)
	}
	defer stmt.Close()

	for _, order := range pos.Orders {
		if _, err := stmt.Exec(posID, order.Time.Unix(), order.Price, order.Amount,
			string(order.Side), order.Status, order.Cost); err != nil {
			return fmt.Errorf("sqlite insert order: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (w *Writer) Close() error { return w.db.Close() }
