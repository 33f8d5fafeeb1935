package indicator

import "knifetrader/internal/errs"

// Indicator type identifiers accepted in configuration.
const (
	TypeTripleEMA = "triple_ema"
	TypeRSI       = "rsi"
)

// Config describes one indicator instance in worker configuration.
// Zero parameter values take the indicator's defaults.
type Config struct {
	Type string `yaml:"type"`

	// triple_ema
	Fast   int `yaml:"fast"`
	Medium int `yaml:"medium"`
	Slow   int `yaml:"slow"`

	// rsi
	Period    int     `yaml:"period"`
	EMAPeriod int     `yaml:"ema_period"`
	Zone      float64 `yaml:"zone"`

	// SellVote excludes the indicator from the sell vote when false.
	// It never excludes an indicator from the buy vote.
	SellVote *bool `yaml:"sell_vote"`
}

func (c Config) sellVote() bool {
	return c.SellVote == nil || *c.SellVote
}

// Build resolves a list of indicator configs against the closed type
// set. Unknown types are rejected eagerly so a misconfigured strategy
// never starts.
func Build(cfgs []Config) ([]Indicator, error) {
	inds := make([]Indicator, 0, len(cfgs))
	for _, cfg := range cfgs {
		ind, err := buildOne(cfg)
		if err != nil {
			return nil, err
		}
		inds = append(inds, ind)
	}
	return inds, nil
}

func buildOne(cfg Config) (Indicator, error) {
	switch cfg.Type {
	case TypeTripleEMA:
		fast, medium, slow := cfg.Fast, cfg.Medium, cfg.Slow
		if fast == 0 {
			fast = 20
		}
		if medium == 0 {
			medium = 100
		}
		if slow == 0 {
			slow = 300
		}
		return NewTripleEMA(fast, medium, slow, cfg.sellVote())
	case TypeRSI:
		period, emaPeriod, zone := cfg.Period, cfg.EMAPeriod, cfg.Zone
		if period == 0 {
			period = 14
		}
		if emaPeriod == 0 {
			emaPeriod = 7
		}
		if zone == 0 {
			zone = 30
		}
		return NewRSI(period, emaPeriod, zone, cfg.sellVote())
	default:
		return nil, errs.Validation("unknown indicator type %q", cfg.Type)
	}
}
