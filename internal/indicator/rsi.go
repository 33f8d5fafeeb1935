package indicator

import (
	"fmt"

	"knifetrader/internal/errs"
	"knifetrader/internal/model"
)

// rsiEpsilon keeps the relative-strength division defined when the
// average loss is zero.
const rsiEpsilon = 0.0001

// RSI is a relative strength index with 1/period running smoothing of
// gains and losses, plus an EMA of the raw oscillator to filter noise.
// Signals fire on the smoothed value: buy below the zone threshold,
// sell above 100-zone.
type RSI struct {
	period    int
	emaPeriod int
	zone      float64
	sellVote  bool
}

// NewRSI validates parameters and builds the indicator.
// zone is the oversold threshold in [1, 50).
func NewRSI(period, emaPeriod int, zone float64, sellVote bool) (*RSI, error) {
	if period <= 1 {
		return nil, errs.Validation("rsi period must be > 1, got %d", period)
	}
	if emaPeriod <= 0 {
		return nil, errs.Validation("rsi ema_period must be positive, got %d", emaPeriod)
	}
	if zone < 1 || zone >= 50 {
		return nil, errs.Validation("rsi zone must be in [1, 50), got %v", zone)
	}
	return &RSI{period: period, emaPeriod: emaPeriod, zone: zone, sellVote: sellVote}, nil
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d, ema %d, zone %v)", r.period, r.emaPeriod, r.zone)
}

func (r *RSI) SellVoter() bool { return r.sellVote }

func (r *RSI) rawKey() string      { return fmt.Sprintf("rsi_%d", r.period) }
func (r *RSI) smoothedKey() string { return fmt.Sprintf("rsi_ema_%d", r.period) }
func (r *RSI) gainKey() string     { return fmt.Sprintf("avg_gain_%d", r.period) }
func (r *RSI) lossKey() string     { return fmt.Sprintf("avg_loss_%d", r.period) }

func (r *RSI) Calculate(prior Fields, prevClose, price float64) Fields {
	diff := price - prevClose
	gain, loss := 0.0, 0.0
	if diff > 0 {
		gain = diff
	} else if diff < 0 {
		loss = -diff
	}

	p := float64(r.period)
	avgGain := (prior.Get(r.gainKey(), gain)*(p-1) + gain) / p
	avgLoss := (prior.Get(r.lossKey(), loss)*(p-1) + loss) / p

	rs := avgGain / (avgLoss + rsiEpsilon)
	rsi := 100 - (100 / (1 + rs))

	return Fields{
		r.gainKey():     avgGain,
		r.lossKey():     avgLoss,
		r.rawKey():      rsi,
		r.smoothedKey(): EMAStep(prior.Get(r.smoothedKey(), rsi), r.emaPeriod, rsi),
	}
}

func (r *RSI) Signal(fields Fields) model.Signal {
	if !fields.Has(r.smoothedKey()) {
		return model.SignalNone
	}
	smoothed := fields.Get(r.smoothedKey(), 0)
	if smoothed < r.zone {
		return model.SignalBuy
	}
	if smoothed > 100-r.zone {
		return model.SignalSell
	}
	return model.SignalNone
}
