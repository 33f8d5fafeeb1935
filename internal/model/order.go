package model

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest describes an order to be placed at the venue.
// Candle is the bar that triggered the request; offline venues fill
// against its close price.
type OrderRequest struct {
	Symbol string    `json:"symbol"`
	Side   OrderSide `json:"side"`
	Amount float64   `json:"amount"`
	Candle Candle    `json:"candle"`
}

// BuyRequest builds a market buy request for the given base amount.
func BuyRequest(symbol string, amount float64, candle Candle) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: SideBuy, Amount: amount, Candle: candle}
}

// SellRequest builds a market sell request for the given base amount.
func SellRequest(symbol string, amount float64, candle Candle) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: SideSell, Amount: amount, Candle: candle}
}

// Order is a venue fill record. It is created exactly once per fill
// and never mutated afterwards.
type Order struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Amount float64   `json:"amount"`
	Side   OrderSide `json:"side"`
	Status string    `json:"status"`
	Cost   float64   `json:"cost"` // quote currency spent or received
}
