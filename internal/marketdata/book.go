package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
	"github.com/shopspring/decimal"
)

// bookCache mirrors one pair's aggregated book. Both sides are kept in
// descending price order, so Bids[0] is the best bid and the last ask is
// the best ask.
type bookCache struct {
	stream Stream
	room   switcheo.BookRoom
	logger *slog.Logger

	mu   sync.Mutex
	load future
	book domain.OrderBook
}

func newBookCache(s Stream, room switcheo.BookRoom, alerter domain.Alerter, logger *slog.Logger) *bookCache {
	c := &bookCache{stream: s, room: room, logger: logger, load: newFuture()}
	s.On(eventConnect, func([]byte) { joinRoom(s, room, logger) })
	s.On("all", c.onSnapshot)
	s.On("updates", c.onUpdates)
	watchLifecycle(s, "books:"+room.Pair, alerter, logger)
	return c
}

func (c *bookCache) onSnapshot(payload []byte) {
	var snap switcheo.BookSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.logger.Error("decode book snapshot", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book = snap.ToDomain()
	c.load.resolve()
}

func (c *bookCache) onUpdates(payload []byte) {
	var u switcheo.BookUpdates
	if err := json.Unmarshal(payload, &u); err != nil {
		c.logger.Error("decode book update", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load.loading {
		c.logger.Debug("book update before snapshot dropped", slog.Int("events", len(u.Events)))
		return
	}
	for _, d := range u.Events {
		cancel := d.Type == "cancel"
		if d.Side == string(domain.SideBuy) {
			c.book.Bids = applyDelta(c.book.Bids, d.Price, d.Delta, cancel)
		} else {
			c.book.Asks = applyDelta(c.book.Asks, d.Price, d.Delta, cancel)
		}
	}
}

// applyDelta changes the quantity at price by delta. A level that reaches
// zero or below is removed. A cancel at a missing level is a no-op; a new
// level is inserted before the first level with a lower price.
func applyDelta(levels []domain.BookLevel, price, delta decimal.Decimal, cancel bool) []domain.BookLevel {
	for i := range levels {
		if !levels[i].Price.Equal(price) {
			continue
		}
		qty := levels[i].Quantity.Add(delta)
		if qty.Sign() <= 0 {
			return slices.Delete(levels, i, i+1)
		}
		levels[i].Quantity = qty
		return levels
	}
	if cancel || delta.Sign() <= 0 {
		return levels
	}

	level := domain.BookLevel{Price: price, Quantity: delta}
	for i := range levels {
		if levels[i].Price.LessThan(price) {
			return slices.Insert(levels, i, level)
		}
	}
	return append(levels, level)
}

func (c *bookCache) get(ctx context.Context) (domain.OrderBook, error) {
	if err := waitReady(ctx, &c.mu, &c.load); err != nil {
		return domain.OrderBook{}, err
	}
	defer c.mu.Unlock()
	return c.book.Clone(), nil
}

// waitReady blocks until f resolves. On success mu is held and the caller
// must unlock it.
func waitReady(ctx context.Context, mu *sync.Mutex, f *future) error {
	for {
		mu.Lock()
		if !f.loading {
			return nil
		}
		ready := f.ready
		mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func joinRoom(s Stream, room any, logger *slog.Logger) {
	for _, event := range []string{"join", "all"} {
		if err := s.Emit(event, room); err != nil {
			logger.Error("subscribe failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
}
