package model

import (
	"time"

	"knifetrader/internal/errs"
)

// Position tracks one open position as a chronological list of fills.
//
// Invariants: AvgPrice = TotalCost/TotalAmount while TotalAmount > 0;
// Profit accumulates only on sells; TotalAmount and TotalCost move up
// on buys and down on sells, never below zero.
type Position struct {
	Orders      []Order `json:"orders"`
	TotalAmount float64 `json:"total_amount"`
	TotalCost   float64 `json:"total_cost"`
	AvgPrice    float64 `json:"avg_price"`
	Profit      float64 `json:"profit"`
}

// NewPosition opens a position with its first buy fill.
func NewPosition(order Order) *Position {
	p := &Position{}
	p.AddBuy(order)
	return p
}

// AddBuy records a buy fill and re-averages the entry price.
func (p *Position) AddBuy(order Order) {
	p.Orders = append(p.Orders, order)
	p.TotalCost += order.Cost
	p.TotalAmount += order.Amount
	p.AvgPrice = p.TotalCost / p.TotalAmount
}

// AddSell records a sell fill, realizing profit against the cost basis
// held before the sell. Selling with nothing held, or more than held,
// is an invariant violation.
func (p *Position) AddSell(order Order) error {
	if p.TotalAmount <= 0 {
		return errs.Invariant("sell with zero held amount")
	}
	if order.Amount > p.TotalAmount {
		return errs.Invariant("sell amount %.8f exceeds held %.8f", order.Amount, p.TotalAmount)
	}
	p.Orders = append(p.Orders, order)
	p.TotalAmount -= order.Amount
	p.Profit += order.Cost - p.TotalCost
	p.TotalCost = p.AvgPrice * p.TotalAmount
	return nil
}

// Duration is the time between the first and the last fill.
func (p *Position) Duration() time.Duration {
	if len(p.Orders) == 0 {
		return 0
	}
	return p.Orders[len(p.Orders)-1].Time.Sub(p.Orders[0].Time)
}

// UnrealizedProfit values the held amount at the given price against
// the current cost basis.
func (p *Position) UnrealizedProfit(price float64) float64 {
	return price*p.TotalAmount - p.TotalCost
}
