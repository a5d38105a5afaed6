package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
)

// tradeCache mirrors one pair's recent trades, most recent first.
type tradeCache struct {
	pair   string
	logger *slog.Logger

	mu     sync.Mutex
	load   future
	trades []domain.Trade
}

func newTradeCache(s Stream, room switcheo.BookRoom, alerter domain.Alerter, logger *slog.Logger) *tradeCache {
	c := &tradeCache{pair: room.Pair, logger: logger, load: newFuture()}
	s.On(eventConnect, func([]byte) { joinRoom(s, room, logger) })
	s.On("all", c.onSnapshot)
	s.On("updates", c.onUpdates)
	watchLifecycle(s, "trades:"+room.Pair, alerter, logger)
	return c
}

func (c *tradeCache) decode(payload []byte, all bool) ([]domain.Trade, bool) {
	var p switcheo.TradesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Error("decode trades", slog.String("error", err.Error()))
		return nil, false
	}
	src := p.Events
	if all {
		src = p.Trades
	}
	out := make([]domain.Trade, 0, len(src))
	for i := range src {
		out = append(out, src[i].ToDomainTrade(c.pair))
	}
	return out, true
}

func (c *tradeCache) onSnapshot(payload []byte) {
	trades, ok := c.decode(payload, true)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = trades
	c.load.resolve()
}

func (c *tradeCache) onUpdates(payload []byte) {
	trades, ok := c.decode(payload, false)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load.loading {
		return
	}
	c.trades = append(trades, c.trades...)
}

func (c *tradeCache) get(ctx context.Context) ([]domain.Trade, error) {
	if err := waitReady(ctx, &c.mu, &c.load); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	return append([]domain.Trade{}, c.trades...), nil
}
