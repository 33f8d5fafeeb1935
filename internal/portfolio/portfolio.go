// Package portfolio tracks realized performance per strategy from the
// stream of closed deals.
package portfolio

import (
	"sort"
	"sync"
	"time"

	"knifetrader/internal/model"
)

// StrategyStats is the realized performance of one strategy instance.
type StrategyStats struct {
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	DealsClosed    int       `json:"deals_closed"`
	RealizedProfit float64   `json:"realized_profit"`
	LastProfit     float64   `json:"last_profit"`
	LastClosedAt   time.Time `json:"last_closed_at"`
}

// Tracker aggregates closed deals into per-strategy stats. Safe for
// concurrent use: the deal tee writes, the HTTP API reads.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*StrategyStats // key = strategy name
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{stats: make(map[string]*StrategyStats)}
}

// Record folds one closed deal into the strategy's stats.
func (t *Tracker) Record(deal model.Deal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[deal.Strategy]
	if !ok {
		st = &StrategyStats{Strategy: deal.Strategy, Symbol: deal.Symbol}
		t.stats[deal.Strategy] = st
	}
	st.DealsClosed++
	st.RealizedProfit += deal.Position.Profit
	st.LastProfit = deal.Position.Profit
	st.LastClosedAt = deal.ClosedAt
}

// Snapshot returns per-strategy stats ordered by strategy name.
func (t *Tracker) Snapshot() []StrategyStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]StrategyStats, 0, len(t.stats))
	for _, st := range t.stats {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Strategy < result[j].Strategy })
	return result
}

// TotalRealizedProfit sums realized profit across all strategies.
func (t *Tracker) TotalRealizedProfit() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for _, st := range t.stats {
		total += st.RealizedProfit
	}
	return total
}
