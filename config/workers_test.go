package config

import (
	"os"
	"path/filepath"
	"testing"

	"knifetrader/internal/errs"
)

func writeWorkersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWorkers_DefaultsAndParsing(t *testing.T) {
	path := writeWorkersFile(t, `
workers:
  - name: btc-knife
    symbol: BTC
    exchange: bingx
    chart:
      indicators:
        - type: triple_ema
        - type: rsi
          sell_vote: false
    strategy:
      type: knife
      take_profit: 0.5
      tiers:
        - {drawdown: 0, fraction: 0.1}
        - {drawdown: 2, fraction: 0.2}
`)

	defs, err := LoadWorkers(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(defs))
	}

	def := defs[0]
	if def.PullInterval != 5 {
		t.Errorf("expected default pull_interval=5, got %d", def.PullInterval)
	}
	if def.BatchSize != 1000 {
		t.Errorf("expected default batch_size=1000, got %d", def.BatchSize)
	}
	if def.Chart.Size != 100 || def.Chart.Timeframe != 1 {
		t.Errorf("expected default chart size=100 timeframe=1, got %d/%d", def.Chart.Size, def.Chart.Timeframe)
	}
	if len(def.Chart.Indicators) != 2 {
		t.Fatalf("expected 2 indicators, got %d", len(def.Chart.Indicators))
	}
	rsi := def.Chart.Indicators[1]
	if rsi.SellVote == nil || *rsi.SellVote {
		t.Error("expected sell_vote=false parsed for the rsi indicator")
	}
	if def.Strategy.TakeProfit != 0.5 || len(def.Strategy.Tiers) != 2 {
		t.Errorf("unexpected strategy definition %+v", def.Strategy)
	}
}

func TestLoadWorkers_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty file", "workers: []\n"},
		{"missing symbol", `
workers:
  - name: w1
    exchange: csv
    chart:
      indicators: [{type: rsi}]
`},
		{"missing indicators", `
workers:
  - name: w1
    symbol: BTC
    exchange: csv
`},
		{"duplicate names", `
workers:
  - name: w1
    symbol: BTC
    exchange: csv
    chart:
      indicators: [{type: rsi}]
  - name: w1
    symbol: ETH
    exchange: csv
    chart:
      indicators: [{type: rsi}]
`},
	}

	for _, tc := range cases {
		path := writeWorkersFile(t, tc.content)
		if _, err := LoadWorkers(path); !errs.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestLoadWorkers_MissingFile(t *testing.T) {
	if _, err := LoadWorkers(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing workers file")
	}
}
