package indicator

import (
	"fmt"

	"knifetrader/internal/errs"
	"knifetrader/internal/model"
)

// TripleEMA runs three independent EMA recurrences with fast, medium
// and slow periods.
//
// Buy signal: slow > medium > fast, meaning price has fallen below all
// three averages with the long trend on top. Sell signal: the inverted
// stack.
type TripleEMA struct {
	fast     int
	medium   int
	slow     int
	sellVote bool
}

// NewTripleEMA validates periods and builds the indicator.
// Periods must be positive and strictly ascending fast < medium < slow.
func NewTripleEMA(fast, medium, slow int, sellVote bool) (*TripleEMA, error) {
	if fast <= 0 || medium <= 0 || slow <= 0 {
		return nil, errs.Validation("triple_ema periods must be positive, got %d/%d/%d", fast, medium, slow)
	}
	if !(fast < medium && medium < slow) {
		return nil, errs.Validation("triple_ema periods must be ascending, got %d/%d/%d", fast, medium, slow)
	}
	return &TripleEMA{fast: fast, medium: medium, slow: slow, sellVote: sellVote}, nil
}

func (t *TripleEMA) Name() string {
	return fmt.Sprintf("EMA(%d, %d, %d)", t.fast, t.medium, t.slow)
}

func (t *TripleEMA) SellVoter() bool { return t.sellVote }

func (t *TripleEMA) fastKey() string   { return fmt.Sprintf("ema_%d", t.fast) }
func (t *TripleEMA) mediumKey() string { return fmt.Sprintf("ema_%d", t.medium) }
func (t *TripleEMA) slowKey() string   { return fmt.Sprintf("ema_%d", t.slow) }

func (t *TripleEMA) Calculate(prior Fields, _, price float64) Fields {
	return Fields{
		t.fastKey():   EMAStep(prior.Get(t.fastKey(), price), t.fast, price),
		t.mediumKey(): EMAStep(prior.Get(t.mediumKey(), price), t.medium, price),
		t.slowKey():   EMAStep(prior.Get(t.slowKey(), price), t.slow, price),
	}
}

func (t *TripleEMA) Signal(fields Fields) model.Signal {
	fast := fields.Get(t.fastKey(), 0)
	medium := fields.Get(t.mediumKey(), 0)
	slow := fields.Get(t.slowKey(), 0)
	if slow > medium && medium > fast {
		return model.SignalBuy
	}
	if slow < medium && medium < fast {
		return model.SignalSell
	}
	return model.SignalNone
}
