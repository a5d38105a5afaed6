package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
)

// orderCache mirrors one account's open orders, grouped by pair.
type orderCache struct {
	stream   Stream
	room     switcheo.OrderRoom
	pageSize int
	logger   *slog.Logger

	mu      sync.Mutex
	load    future
	pages   []domain.Order
	pending [][]byte
	byPair  map[string][]domain.Order
}

func newOrderCache(s Stream, room switcheo.OrderRoom, pageSize int, alerter domain.Alerter, logger *slog.Logger) *orderCache {
	c := &orderCache{
		stream:   s,
		room:     room,
		pageSize: pageSize,
		logger:   logger,
		load:     newFuture(),
		byPair:   make(map[string][]domain.Order),
	}
	s.On(eventConnect, c.onConnect)
	s.On("all", func(p []byte) { c.onPage(p, true) })
	s.On("more", func(p []byte) { c.onPage(p, false) })
	s.On("updates", c.onUpdates)
	watchLifecycle(s, "orders:"+room.Address, alerter, logger)
	return c
}

func (c *orderCache) onConnect([]byte) {
	c.mu.Lock()
	c.load.reset()
	c.pages = nil
	c.pending = nil
	c.mu.Unlock()

	joinRoom(c.stream, c.room, c.logger)
}

// onPage accumulates one page. A full page asks for the next one; a short
// page completes the load.
func (c *orderCache) onPage(payload []byte, first bool) {
	var page switcheo.OrderPage
	if err := json.Unmarshal(payload, &page); err != nil {
		c.logger.Error("decode orders page", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if first {
		c.pages = c.pages[:0]
	}
	for i := range page.Orders {
		c.pages = append(c.pages, page.Orders[i].ToDomainOrder())
	}

	if len(page.Orders) == c.pageSize {
		more := c.room
		more.BeforeID = c.pages[len(c.pages)-1].ID
		c.mu.Unlock()
		if err := c.stream.Emit("more", more); err != nil {
			c.logger.Error("orders request more failed", slog.String("error", err.Error()))
		}
		return
	}
	defer c.mu.Unlock()

	grouped := make(map[string][]domain.Order)
	for _, o := range c.pages {
		grouped[o.Pair] = append(grouped[o.Pair], o)
	}
	c.byPair = grouped
	c.pages = nil

	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		c.applyUpdates(p)
	}
	c.load.resolve()
	c.logger.Debug("orders loaded", slog.Int("pairs", len(grouped)), slog.Int("queued_updates", len(pending)))
}

func (c *orderCache) onUpdates(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load.loading {
		c.pending = append(c.pending, payload)
		return
	}
	c.applyUpdates(payload)
}

// applyUpdates merges pushed orders. Caller holds c.mu.
func (c *orderCache) applyUpdates(payload []byte) {
	var u switcheo.OrderUpdates
	if err := json.Unmarshal(payload, &u); err != nil {
		c.logger.Error("decode orders update", slog.String("error", err.Error()))
		return
	}
	switch u.Type {
	case "new", "update":
	default:
		c.logger.Warn("unhandled orders update type", slog.String("type", u.Type))
		return
	}

	for i := range u.Events {
		incoming := u.Events[i].ToDomainOrder()
		if u.Type == "new" && !incoming.IsOpen() {
			continue
		}
		c.merge(incoming)
	}
}

func (c *orderCache) merge(incoming domain.Order) {
	list := c.byPair[incoming.Pair]
	for i := range list {
		if list[i].ID != incoming.ID {
			continue
		}
		if isStale(list[i], incoming) {
			return
		}
		list[i] = incoming
		return
	}
	c.byPair[incoming.Pair] = append(list, incoming)
}

// isStale reports whether incoming is older than stored. More make fills
// means newer; at equal fill counts a closed order is newer than an open one.
func isStale(stored, incoming domain.Order) bool {
	if len(stored.MakeFills) != len(incoming.MakeFills) {
		return len(stored.MakeFills) > len(incoming.MakeFills)
	}
	return !stored.IsOpen() && incoming.IsOpen()
}

// get blocks until loaded and returns a copy of the pair's orders, creating
// an empty list for unknown pairs.
func (c *orderCache) get(ctx context.Context, pair string) ([]domain.Order, error) {
	if err := waitReady(ctx, &c.mu, &c.load); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	list, ok := c.byPair[pair]
	if !ok {
		c.byPair[pair] = []domain.Order{}
	}
	return domain.CloneOrders(list), nil
}

// clearClosed drops every order that is no longer open.
func (c *orderCache) clearClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pair, list := range c.byPair {
		open := list[:0]
		for _, o := range list {
			if o.IsOpen() {
				open = append(open, o)
			}
		}
		c.byPair[pair] = open
	}
}
