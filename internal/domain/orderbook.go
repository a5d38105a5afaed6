package domain

import "github.com/shopspring/decimal"

// BookLevel is the aggregate quantity resting at one price.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook holds both sides of a pair's book. Bids[0] is the best bid and
// Asks[len(Asks)-1] is the best ask.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BestBid returns the highest bid, if any.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[len(b.Asks)-1], true
}

// Clone returns a copy that shares no slices with b.
func (b OrderBook) Clone() OrderBook {
	return OrderBook{
		Bids: append([]BookLevel{}, b.Bids...),
		Asks: append([]BookLevel{}, b.Asks...),
	}
}
