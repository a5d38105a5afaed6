package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Account identifies the wallet an order is placed from.
type Account struct {
	WalletID   string
	Address    string
	Blockchain string
}

// Gateway places and queries orders on the exchange. Quantities passed in are
// human base quantities and prices are human prices.
type Gateway interface {
	CreateOrder(ctx context.Context, acct Account, pair string, side Side, price, quantity decimal.Decimal, postOnly bool) (Order, error)
	CreateMarketOrder(ctx context.Context, acct Account, pair string, side Side, quantity decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, acct Account, orderID string) error
	FetchOrder(ctx context.Context, orderID string) (Order, error)
	FetchBalances(ctx context.Context, acct Account) (Balances, error)
}

// MarketSource lists exchange metadata.
type MarketSource interface {
	Assets(ctx context.Context) (map[string]Asset, error)
	Pairs(ctx context.Context) (map[string]Pair, error)
}
