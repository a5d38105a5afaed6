package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the read-only view a strategy gets for one cycle.
type Snapshot struct {
	Pairs            []string
	Orders           map[string][]Order
	Books            map[string]OrderBook
	Trades           map[string][]Trade
	Inventory        map[string]decimal.Decimal // on-chain units
	InitialInventory map[string]decimal.Decimal // on-chain units
	Market           Market
	Now              time.Time
}

// CloneTokens copies a token balance map.
func CloneTokens(tokens map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tokens))
	for k, v := range tokens {
		out[k] = v
	}
	return out
}
