package model

// Signal is a directional trading suggestion derived from indicator state.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "NONE"
	}
}
