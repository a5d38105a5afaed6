package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a public trade on a pair.
type Trade struct {
	ID        string
	Pair      string
	Side      Side
	Price     decimal.Decimal // human price
	Quantity  decimal.Decimal // base units
	Timestamp time.Time
}
