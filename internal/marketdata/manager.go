package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
)

const (
	DefaultPageSize    = 50
	DefaultSettleDelay = 250 * time.Millisecond
)

// Config tunes the Manager.
type Config struct {
	// ContractHashes maps a blockchain ("neo", "eth", "eos") to the exchange
	// contract whose rooms are joined.
	ContractHashes map[string]string
	PageSize       int
	SettleDelay    time.Duration
}

// Manager owns every stream subscription. Subscriptions are created on first
// use and shared by all bots for the life of the process.
type Manager struct {
	dialer  Dialer
	market  domain.Market
	cfg     Config
	alerter domain.Alerter
	logger  *slog.Logger

	mu      sync.Mutex
	orders  map[string]*orderCache
	books   map[string]*bookCache
	trades  map[string]*tradeCache
	streams map[string]Stream // "<channel>:<key>"
}

// NewManager creates a Manager. alerter may be nil.
func NewManager(dialer Dialer, market domain.Market, cfg Config, alerter domain.Alerter, logger *slog.Logger) *Manager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Manager{
		dialer:  dialer,
		market:  market,
		cfg:     cfg,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "marketdata")),
		orders:  make(map[string]*orderCache),
		books:   make(map[string]*bookCache),
		trades:  make(map[string]*tradeCache),
		streams: make(map[string]Stream),
	}
}

// Orders returns the account's orders on pair, subscribing on first use and
// waiting until the initial load completes.
func (m *Manager) Orders(ctx context.Context, acct domain.Account, pair string) ([]domain.Order, error) {
	m.mu.Lock()
	c, ok := m.orders[acct.Address]
	if !ok {
		room := switcheo.OrderRoom{
			ContractHash: m.cfg.ContractHashes[acct.Blockchain],
			Address:      acct.Address,
			Status:       string(domain.OrderStatusOpen),
		}
		s := m.dialer.Dial("orders")
		c = newOrderCache(s, room, m.cfg.PageSize, m.alerter, m.logger.With(slog.String("room", "orders:"+acct.Address)))
		m.orders[acct.Address] = c
		m.streams["orders:"+acct.Address] = s
		s.Connect()
	}
	m.mu.Unlock()

	orders, err := c.get(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("marketdata: orders %s %s: %w", acct.Address, pair, err)
	}
	return orders, nil
}

// Book returns a copy of the pair's order book, waiting for the first snapshot.
func (m *Manager) Book(ctx context.Context, pair string) (domain.OrderBook, error) {
	m.mu.Lock()
	c, ok := m.books[pair]
	if !ok {
		room, err := m.bookRoom(pair)
		if err != nil {
			m.mu.Unlock()
			return domain.OrderBook{}, fmt.Errorf("marketdata: book %s: %w", pair, err)
		}
		s := m.dialer.Dial("books")
		c = newBookCache(s, room, m.alerter, m.logger.With(slog.String("room", "books:"+pair)))
		m.books[pair] = c
		m.streams["books:"+pair] = s
		s.Connect()
	}
	m.mu.Unlock()

	book, err := c.get(ctx)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("marketdata: book %s: %w", pair, err)
	}
	return book, nil
}

// Trades returns the pair's recent trades, most recent first.
func (m *Manager) Trades(ctx context.Context, pair string) ([]domain.Trade, error) {
	m.mu.Lock()
	c, ok := m.trades[pair]
	if !ok {
		room, err := m.bookRoom(pair)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("marketdata: trades %s: %w", pair, err)
		}
		s := m.dialer.Dial("trades")
		c = newTradeCache(s, room, m.alerter, m.logger.With(slog.String("room", "trades:"+pair)))
		m.trades[pair] = c
		m.streams["trades:"+pair] = s
		s.Connect()
	}
	m.mu.Unlock()

	trades, err := c.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketdata: trades %s: %w", pair, err)
	}
	return trades, nil
}

// ResetOrders reconnects the account's orders stream, which reloads it from
// scratch, then waits the settle delay.
func (m *Manager) ResetOrders(ctx context.Context, acct domain.Account) error {
	m.reconnect("orders:" + acct.Address)
	return m.settle(ctx)
}

// ResetBook reconnects the pair's book stream, then waits the settle delay.
func (m *Manager) ResetBook(ctx context.Context, pair string) error {
	m.reconnect("books:" + pair)
	return m.settle(ctx)
}

// ClearClosedOrders drops closed orders from every account cache.
func (m *Manager) ClearClosedOrders() {
	m.mu.Lock()
	caches := make([]*orderCache, 0, len(m.orders))
	for _, c := range m.orders {
		caches = append(caches, c)
	}
	m.mu.Unlock()

	for _, c := range caches {
		c.clearClosed()
	}
}

// Close disconnects every stream.
func (m *Manager) Close() {
	m.mu.Lock()
	streams := make([]Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.Disconnect()
	}
}

func (m *Manager) reconnect(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.logger.Info("resetting stream", slog.String("stream", key))
	s.Disconnect()
	s.Connect()
}

func (m *Manager) settle(ctx context.Context) error {
	t := time.NewTimer(m.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bookRoom picks the contract by the chain of the pair's quote asset.
// Caller holds m.mu.
func (m *Manager) bookRoom(pair string) (switcheo.BookRoom, error) {
	info, err := m.market.Lookup(pair)
	if err != nil {
		return switcheo.BookRoom{}, err
	}
	return switcheo.BookRoom{ContractHash: m.cfg.ContractHashes[info.Blockchain()], Pair: pair}, nil
}
