package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"knifetrader/internal/errs"
	"knifetrader/internal/indicator"
)

// WorkerDef describes one strategy worker: the symbol it trades, the
// venue it polls, its chart window and its strategy parameters.
type WorkerDef struct {
	Name         string      `yaml:"name"`
	Symbol       string      `yaml:"symbol"`
	Exchange     string      `yaml:"exchange"`      // "bingx" or "csv"
	PullInterval int         `yaml:"pull_interval"` // seconds between polls
	BatchSize    int         `yaml:"batch_size"`    // candles per fetch
	Chart        ChartDef    `yaml:"chart"`
	Strategy     StrategyDef `yaml:"strategy"`
}

// ChartDef configures the rolling window.
type ChartDef struct {
	Size       int                `yaml:"size"`
	Timeframe  int                `yaml:"timeframe"` // minutes per bar
	Indicators []indicator.Config `yaml:"indicators"`
}

// StrategyDef configures the position strategy.
type StrategyDef struct {
	Type       string    `yaml:"type"`
	TakeProfit float64   `yaml:"take_profit"` // percent
	Tiers      []TierDef `yaml:"tiers"`
}

// TierDef is one averaging step: once drawdown (percent below the
// average entry) exceeds Drawdown, Fraction of the quote balance is
// spent on an additional buy.
type TierDef struct {
	Drawdown float64 `yaml:"drawdown"`
	Fraction float64 `yaml:"fraction"`
}

type workersFile struct {
	Workers []WorkerDef `yaml:"workers"`
}

// LoadWorkers reads and validates worker definitions from a YAML file.
// Structural problems are validation errors and abort startup; the
// indicator and strategy types are resolved later against their
// registries.
func LoadWorkers(path string) ([]WorkerDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workers file %s: %w", path, err)
	}
	var file workersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "parse workers file %s", path)
	}
	if len(file.Workers) == 0 {
		return nil, errs.Validation("workers file %s defines no workers", path)
	}

	seen := make(map[string]bool, len(file.Workers))
	for i := range file.Workers {
		def := &file.Workers[i]
		applyDefaults(def)
		if err := validate(def); err != nil {
			return nil, err
		}
		if seen[def.Name] {
			return nil, errs.Validation("duplicate worker name %q", def.Name)
		}
		seen[def.Name] = true
	}
	return file.Workers, nil
}

func applyDefaults(def *WorkerDef) {
	if def.PullInterval == 0 {
		def.PullInterval = 5
	}
	if def.BatchSize == 0 {
		def.BatchSize = 1000
	}
	if def.Chart.Size == 0 {
		def.Chart.Size = 100
	}
	if def.Chart.Timeframe == 0 {
		def.Chart.Timeframe = 1
	}
}

func validate(def *WorkerDef) error {
	if def.Name == "" {
		return errs.Validation("worker name must not be empty")
	}
	if def.Symbol == "" {
		return errs.Validation("worker %s: symbol must not be empty", def.Name)
	}
	if def.Exchange == "" {
		return errs.Validation("worker %s: exchange must not be empty", def.Name)
	}
	if def.PullInterval < 0 {
		return errs.Validation("worker %s: pull_interval must be positive", def.Name)
	}
	if len(def.Chart.Indicators) == 0 {
		return errs.Validation("worker %s: chart needs at least one indicator", def.Name)
	}
	return nil
}
