package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

const sideKey = "side"

// KeepAliveMakerSettings configures the maker half of a keep-alive pair.
type KeepAliveMakerSettings struct {
	PairSettings `yaml:",inline"`

	// Quantity is "amount~variance" in human base units.
	Quantity string `yaml:"quantity"`
	// Heartbeat bounds in seconds.
	MinInterval int `yaml:"minInterval"`
	MaxInterval int `yaml:"maxInterval"`
	// Counterparty is the bot id of the keep_alive_taker.
	Counterparty int64 `yaml:"counterparty"`
}

// KeepAliveMaker keeps a quiet pair trading. Once no trade has printed for a
// random heartbeat it rests an order strictly inside the spread and tells
// its counterparty to take it.
type KeepAliveMaker struct {
	*base
	cfg      KeepAliveMakerSettings
	amount   decimal.Decimal
	variance decimal.Decimal
	deps     Deps

	mu        sync.Mutex
	side      domain.Side
	heartbeat time.Duration
}

// NewKeepAliveMaker is the keep_alive_maker factory.
func NewKeepAliveMaker(deps Deps, settings map[string]any) (Strategy, error) {
	var cfg KeepAliveMakerSettings
	if err := DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MinInterval < 0 || cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("%w: need 0 <= minInterval <= maxInterval", domain.ErrInvalidSettings)
	}
	if deps.Bus == nil || deps.Inbox == nil {
		return nil, fmt.Errorf("%w: keep_alive_maker needs a signal bus", domain.ErrInvalidSettings)
	}
	amount, variance, err := parseRange(cfg.Quantity)
	if err != nil {
		return nil, err
	}
	m := &KeepAliveMaker{
		base:     newBase(NameKeepAliveMaker, deps, cfg.PairSettings, settings),
		cfg:      cfg,
		amount:   amount,
		variance: variance,
		deps:     deps,
		side:     domain.SideSell,
	}
	m.resetHeartbeat()
	return m, nil
}

// Init restores the side the maker was last quoting.
func (m *KeepAliveMaker) Init(ctx context.Context) error {
	if m.deps.Store == nil {
		return nil
	}
	v, ok, err := m.deps.Store.Get(ctx, sideKey)
	if err != nil {
		m.logger.Warn("load side", slog.String("error", err.Error()))
		return nil
	}
	if ok && (v == string(domain.SideBuy) || v == string(domain.SideSell)) {
		m.mu.Lock()
		m.side = domain.Side(v)
		m.mu.Unlock()
	}
	return nil
}

func (m *KeepAliveMaker) resetHeartbeat() {
	secs := m.cfg.MinInterval
	if n := m.cfg.MaxInterval - m.cfg.MinInterval; n > 0 {
		secs += m.deps.Rand.IntN(n + 1)
	}
	m.heartbeat = time.Duration(secs) * time.Second
}

// ComputeCurrentDelta always cancels the maker's open orders. When there were
// none and the pair is quiet it makes one order and publishes the counter
// trade.
func (m *KeepAliveMaker) ComputeCurrentDelta(ctx context.Context, snap domain.Snapshot) (domain.Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := domain.Delta{Cancel: snap.Orders[m.pair]}
	now := snap.Now
	if now.IsZero() {
		now = time.Now()
	}
	var last time.Time
	if trades := snap.Trades[m.pair]; len(trades) > 0 {
		last = trades[0].Timestamp
	}
	if len(delta.Cancel) > 0 || now.Sub(last) <= m.heartbeat {
		return delta, nil
	}

	info, err := snap.Market.Lookup(m.pair)
	if err != nil {
		return delta, fmt.Errorf("keep_alive_maker: %w", err)
	}

	qty := m.amount
	if m.variance.IsPositive() {
		qty = m.amount.Sub(m.variance).Add(m.variance.Mul(two).Mul(decimal.NewFromFloat(m.deps.Rand.Float64())))
	}
	qty = floorTo(qty, info.Base.Precision)

	book := snap.Books[m.pair]
	ask, okAsk := book.BestAsk()
	bid, okBid := book.BestBid()
	if !okAsk || !okBid {
		m.logger.Warn("book has an empty side, cannot place a safe maker-taker trade")
		return delta, nil
	}
	minTick := decimal.New(1, -info.Pair.Precision)
	between := ask.Price.Sub(bid.Price).Div(minTick).Floor().IntPart() - 1
	if between <= 0 {
		m.logger.Warn("spread is too small to do a safe maker-taker trade")
		return delta, nil
	}
	offset := 1 + m.deps.Rand.Int64N(between)
	price := floorTo(ask.Price.Sub(minTick.Mul(decimal.NewFromInt(offset))), info.Pair.Precision)

	if !m.sufficient(snap, info, qty, price) {
		m.flip(ctx)
	}
	if !m.sufficient(snap, info, qty, price) {
		return delta, fmt.Errorf("keep_alive_maker: both sides: %w", domain.ErrInsufficientInventory)
	}

	delta.Make = append(delta.Make, domain.Quote{Pair: m.pair, Side: m.side, Price: price, Quantity: qty})

	msg, err := json.Marshal(domain.InboxMessage{Quantity: qty, Side: m.side.Opposite()})
	if err != nil {
		return delta, fmt.Errorf("keep_alive_maker: encode: %w", err)
	}
	if err := m.deps.Bus.Publish(ctx, m.deps.Inbox(m.cfg.Counterparty), msg); err != nil {
		m.logger.Error("publish counter trade",
			slog.Int64("counterparty", m.cfg.Counterparty),
			slog.String("error", err.Error()),
		)
	}
	m.resetHeartbeat()
	return delta, nil
}

// sufficient checks the current side against actual inventory.
func (m *KeepAliveMaker) sufficient(snap domain.Snapshot, info domain.PairInfo, qty, price decimal.Decimal) bool {
	raw := info.RawQuantity(qty)
	if m.side == domain.SideSell {
		return snap.Inventory[info.Base.Symbol].GreaterThan(raw)
	}
	proceeds := raw.Mul(info.RawPrice(price)).Ceil()
	return snap.Inventory[info.Quote.Symbol].GreaterThan(proceeds)
}

func (m *KeepAliveMaker) flip(ctx context.Context) {
	m.side = m.side.Opposite()
	m.logger.Info("switching side", slog.String("side", string(m.side)))
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.Set(ctx, sideKey, string(m.side)); err != nil {
		m.logger.Warn("persist side", slog.String("error", err.Error()))
	}
}
