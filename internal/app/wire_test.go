package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/moonbot/internal/config"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
)

type memMarketCache struct {
	market *domain.Market
	ttl    time.Duration
}

func (c *memMarketCache) SetMarket(_ context.Context, m domain.Market, ttl time.Duration) error {
	c.market, c.ttl = &m, ttl
	return nil
}

func (c *memMarketCache) GetMarket(context.Context) (domain.Market, error) {
	if c.market == nil {
		return domain.Market{}, domain.ErrNotFound
	}
	return *c.market, nil
}

type fakeSource struct {
	calls int
	err   error
}

func (s *fakeSource) Assets(context.Context) (map[string]domain.Asset, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return map[string]domain.Asset{"ETH": {Symbol: "ETH", Decimals: 18}}, nil
}

func (s *fakeSource) Pairs(context.Context) (map[string]domain.Pair, error) {
	return map[string]domain.Pair{"JRC_ETH": {Name: "JRC_ETH", Base: "JRC", Quote: "ETH"}}, nil
}

func TestLoadMarketFillsCacheOnMiss(t *testing.T) {
	ctx := context.Background()
	cache := &memMarketCache{}
	src := &fakeSource{}

	m, err := loadMarket(ctx, cache, src, time.Hour, quiet())
	require.NoError(t, err)
	assert.Contains(t, m.Pairs, "JRC_ETH")
	require.NotNil(t, cache.market)
	assert.Equal(t, time.Hour, cache.ttl)

	src.err = errors.New("exchange down")
	m, err = loadMarket(ctx, cache, src, time.Hour, quiet())
	require.NoError(t, err)
	assert.Equal(t, int32(18), m.Assets["ETH"].Decimals)
	assert.Equal(t, 1, src.calls)
}

func TestLoadMarketPropagatesSourceErrors(t *testing.T) {
	_, err := loadMarket(context.Background(), &memMarketCache{}, &fakeSource{err: errors.New("exchange down")}, time.Hour, quiet())
	assert.EqualError(t, err, "exchange down")
}

func TestChainGatewayRejectsUnknownChain(t *testing.T) {
	g := newChainGateway(map[string]*switcheo.Client{
		"neo": switcheo.NewClient("http://127.0.0.1:1", "neo", "", time.Second),
	})
	_, err := g.FetchBalances(context.Background(), domain.Account{Address: "0xabc", Blockchain: "eos"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = g.CancelOrder(context.Background(), domain.Account{Blockchain: "eth"}, "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = newChainGateway(nil).FetchOrder(context.Background(), "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStrategyDefaultsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.StrategyDefaults = map[string]config.StrategyDefaultConfig{
		"simple_mm": {Description: "fixed spread", Settings: map[string]any{"spread": 0.01}},
	}
	got := strategyDefaults(&cfg)
	assert.Equal(t, "fixed spread", got["simple_mm"].Description)
	assert.Equal(t, 0.01, got["simple_mm"].Settings["spread"])
}
