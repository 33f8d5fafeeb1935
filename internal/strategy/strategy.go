// Package strategy provides trading strategies driven by chart
// signals, and the registry that resolves strategy configuration to
// constructors.
//
// A strategy instance owns one chart and at most one open position.
// It is mutated only by the single worker loop bound to it, so no
// locking is needed.
package strategy

import (
	"context"

	"knifetrader/config"
	"knifetrader/internal/chart"
	"knifetrader/internal/errs"
	"knifetrader/internal/metrics"
	"knifetrader/internal/model"
)

// Strategy is the contract the worker loop drives.
type Strategy interface {
	// Name returns the strategy instance name.
	Name() string

	// ID returns the unique instance identifier used as the
	// persistence key for deals.
	ID() string

	// Handle consumes one candle: updates the chart, derives the
	// signal and advances the position state machine.
	Handle(ctx context.Context, candle model.Candle) error
}

// Strategy type identifiers accepted in configuration.
const TypeKnife = "knife"

// Deps carries the optional collaborators a strategy reports to.
type Deps struct {
	Notifier model.Notifier
	Deals    chan<- model.Deal
	Metrics  *metrics.Metrics

	// OnlineCheck gates trading on chart freshness; disabled for
	// offline replay.
	OnlineCheck bool
}

// Build resolves a worker definition against the closed strategy type
// set. Unknown types are rejected eagerly.
func Build(def config.WorkerDef, ch *chart.Chart, exchange model.Exchange, deps Deps) (Strategy, error) {
	switch def.Strategy.Type {
	case TypeKnife:
		return NewKnife(def, ch, exchange, deps)
	default:
		return nil, errs.Validation("unknown strategy type %q", def.Strategy.Type)
	}
}
