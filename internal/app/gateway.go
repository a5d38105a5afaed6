package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
)

// chainGateway routes exchange calls to the client of the account's
// blockchain. Each client is bound to that chain's contract.
type chainGateway struct {
	clients  map[string]*switcheo.Client
	fallback *switcheo.Client
}

func newChainGateway(clients map[string]*switcheo.Client) *chainGateway {
	chains := make([]string, 0, len(clients))
	for c := range clients {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	g := &chainGateway{clients: clients}
	if len(chains) > 0 {
		g.fallback = clients[chains[0]]
	}
	return g
}

func (g *chainGateway) client(acct domain.Account) (*switcheo.Client, error) {
	c, ok := g.clients[acct.Blockchain]
	if !ok {
		return nil, fmt.Errorf("gateway: blockchain %q: %w", acct.Blockchain, domain.ErrNotFound)
	}
	return c, nil
}

func (g *chainGateway) CreateOrder(ctx context.Context, acct domain.Account, pair string, side domain.Side, price, quantity decimal.Decimal, postOnly bool) (domain.Order, error) {
	c, err := g.client(acct)
	if err != nil {
		return domain.Order{}, err
	}
	return c.CreateOrder(ctx, acct, pair, side, price, quantity, postOnly)
}

func (g *chainGateway) CreateMarketOrder(ctx context.Context, acct domain.Account, pair string, side domain.Side, quantity decimal.Decimal) (domain.Order, error) {
	c, err := g.client(acct)
	if err != nil {
		return domain.Order{}, err
	}
	return c.CreateMarketOrder(ctx, acct, pair, side, quantity)
}

func (g *chainGateway) CancelOrder(ctx context.Context, acct domain.Account, orderID string) error {
	c, err := g.client(acct)
	if err != nil {
		return err
	}
	return c.CancelOrder(ctx, acct, orderID)
}

// FetchOrder is chain independent; order ids are global on the exchange.
func (g *chainGateway) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if g.fallback == nil {
		return domain.Order{}, fmt.Errorf("gateway: fetch order %s: no clients: %w", orderID, domain.ErrNotFound)
	}
	return g.fallback.FetchOrder(ctx, orderID)
}

func (g *chainGateway) FetchBalances(ctx context.Context, acct domain.Account) (domain.Balances, error) {
	c, err := g.client(acct)
	if err != nil {
		return domain.Balances{}, err
	}
	return c.FetchBalances(ctx, acct)
}

func (g *chainGateway) UseMarket(m domain.Market) {
	for _, c := range g.clients {
		c.UseMarket(m)
	}
}

var _ domain.Gateway = (*chainGateway)(nil)
