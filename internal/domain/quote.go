package domain

import "github.com/shopspring/decimal"

// Quote is an order a strategy wants resting on the book.
type Quote struct {
	Pair         string
	Side         Side
	Price        decimal.Decimal // human price
	Quantity     decimal.Decimal // human base quantity
	ProfitMargin int             // bips
}

// TakeOrder is a market order a strategy wants executed immediately.
type TakeOrder struct {
	Pair         string
	Side         Side
	Quantity     decimal.Decimal // human base quantity
	ProfitMargin int
}

// Delta is the output of one strategy evaluation.
type Delta struct {
	Make   []Quote
	Cancel []Order
	Take   []TakeOrder
}

// Empty reports whether the delta has nothing to do.
func (d Delta) Empty() bool {
	return len(d.Make) == 0 && len(d.Cancel) == 0 && len(d.Take) == 0
}
