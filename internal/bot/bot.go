// Package bot runs one market-making bot: a strategy bound to a wallet, its
// inventory ledger and the market data it trades on.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/executor"
	"github.com/alanyoungcy/moonbot/internal/strategy"
)

// MarketData is the subset of the market data manager a bot reads.
type MarketData interface {
	Orders(ctx context.Context, acct domain.Account, pair string) ([]domain.Order, error)
	Book(ctx context.Context, pair string) (domain.OrderBook, error)
	Trades(ctx context.Context, pair string) ([]domain.Trade, error)
	ResetOrders(ctx context.Context, acct domain.Account) error
	ResetBook(ctx context.Context, pair string) error
}

// Ledger tracks the bot's virtual inventory.
type Ledger interface {
	Tokens() map[string]decimal.Decimal
	InitialTokens() map[string]decimal.Decimal
	UpdateInventory(ctx context.Context, orders []domain.Order)
	ProcessExecutedOrders(ctx context.Context, orders []domain.Order)
	Reset(ctx context.Context) error
}

// Executor sends instructions to the exchange.
type Executor interface {
	Cancel(ctx context.Context, acct domain.Account, orders []domain.Order) []executor.Result
	Make(ctx context.Context, acct domain.Account, quotes []domain.Quote) []executor.Result
	Take(ctx context.Context, acct domain.Account, takes []domain.TakeOrder) []executor.Result
}

// Records persists bot definitions.
type Records interface {
	Save(rec domain.BotRecord) error
	Delete(id int64) error
}

// Config wires a Bot.
type Config struct {
	Record     domain.BotRecord
	Account    domain.Account
	Strategy   strategy.Strategy
	Ledger     Ledger
	MarketData MarketData
	Executor   Executor
	Records    Records
	Market     domain.Market
	Alerter    domain.Alerter
	Logger     *slog.Logger
}

// Bot owns one strategy and executes its deltas each cycle.
type Bot struct {
	account domain.Account
	ledger  Ledger
	md      MarketData
	exec    Executor
	records Records
	market  domain.Market
	alerter domain.Alerter
	logger  *slog.Logger
	now     func() time.Time

	// work serialises cycles with strategy swaps.
	work     sync.Mutex
	strategy strategy.Strategy

	mu           sync.Mutex
	record       domain.BotRecord
	pairs        []string
	errorCount   int
	resyncOrders bool
	resyncBook   bool
	lastCycle    time.Duration
}

// New creates a Bot from cfg. The record's status is taken as is; call
// Start to initialise the strategy of a bot that is already running.
func New(cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Record.Status == "" {
		cfg.Record.Status = domain.BotStopped
	}
	return &Bot{
		account:  cfg.Account,
		ledger:   cfg.Ledger,
		md:       cfg.MarketData,
		exec:     cfg.Executor,
		records:  cfg.Records,
		market:   cfg.Market,
		alerter:  cfg.Alerter,
		strategy: cfg.Strategy,
		record:   cfg.Record,
		pairs:    cfg.Strategy.RequiredPairs(),
		now:      time.Now,
		logger: logger.With(
			slog.String("component", "bot"),
			slog.Int64("bot_id", cfg.Record.ID),
			slog.String("bot_name", cfg.Record.Name),
		),
	}
}

func (b *Bot) ID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record.ID
}

func (b *Bot) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record.Name
}

// Account is the wallet the bot trades from.
func (b *Bot) Account() domain.Account { return b.account }

// Ledger exposes the bot's inventory for audits.
func (b *Bot) Ledger() Ledger { return b.ledger }

// Record returns a copy of the persisted definition.
func (b *Bot) Record() domain.BotRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record
	rec.InitialInventory = maps.Clone(b.record.InitialInventory)
	rec.Strategy.Settings = maps.Clone(b.record.Strategy.Settings)
	return rec
}

// Pairs lists the pairs the current strategy trades.
func (b *Bot) Pairs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.pairs)
}

func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record.Status == domain.BotRunning
}

// ErrorCount is the number of failures seen since the bot was created.
func (b *Bot) ErrorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCount
}

// LastCycle is how long the most recent DoWork took.
func (b *Bot) LastCycle() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCycle
}

func (b *Bot) Summary() domain.BotSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BotSummary{
		ID:         b.record.ID,
		Name:       b.record.Name,
		Strategy:   b.record.Strategy.Name,
		Pairs:      slices.Clone(b.pairs),
		Status:     b.record.Status,
		ErrorCount: b.errorCount,
	}
}

// Start initialises the strategy and marks the bot running.
func (b *Bot) Start(ctx context.Context) error {
	b.work.Lock()
	err := b.strategy.Init(ctx)
	b.work.Unlock()
	if err != nil {
		return fmt.Errorf("bot: start %d: %w", b.ID(), err)
	}
	if err := b.setStatus(domain.BotRunning); err != nil {
		return err
	}
	b.logger.Info("bot started")
	return nil
}

// Stop marks the bot stopped and releases strategy resources. Resting
// orders are left on the book.
func (b *Bot) Stop(_ context.Context) error {
	if err := b.setStatus(domain.BotStopped); err != nil {
		return err
	}
	b.work.Lock()
	err := b.strategy.Close()
	b.work.Unlock()
	if err != nil {
		b.logger.Warn("strategy close failed", slog.String("error", err.Error()))
	}
	b.logger.Info("bot stopped")
	return nil
}

// Shutdown releases strategy resources without touching the saved status,
// so a restarted process resumes the bot.
func (b *Bot) Shutdown() error {
	b.work.Lock()
	defer b.work.Unlock()
	return b.strategy.Close()
}

// Reconfigure swaps in a strategy built from new settings. A running bot
// initialises the new strategy before the swap.
func (b *Bot) Reconfigure(ctx context.Context, next strategy.Strategy) error {
	running := b.IsRunning()
	if running {
		if err := next.Init(ctx); err != nil {
			return fmt.Errorf("bot: reconfigure %d: %w", b.ID(), err)
		}
	}

	b.work.Lock()
	prev := b.strategy
	b.strategy = next
	b.work.Unlock()
	if err := prev.Close(); err != nil {
		b.logger.Warn("strategy close failed", slog.String("error", err.Error()))
	}

	b.mu.Lock()
	b.record.Strategy = domain.StrategySpec{Name: next.Name(), Settings: next.Settings()}
	b.pairs = next.RequiredPairs()
	rec := b.record
	b.mu.Unlock()
	if err := b.save(rec); err != nil {
		return err
	}
	b.logger.Info("bot reconfigured", slog.String("strategy", next.Name()))
	return nil
}

// Delete stops the bot and removes its record and stored inventory.
func (b *Bot) Delete(ctx context.Context) error {
	if err := b.Stop(ctx); err != nil {
		return err
	}
	if b.records != nil {
		if err := b.records.Delete(b.ID()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if err := b.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("bot: delete %d: %w", b.ID(), err)
	}
	b.logger.Info("bot deleted")
	return nil
}

// DoWork runs one cycle if the bot is running and reports how long it took.
// Failures are counted, never returned.
func (b *Bot) DoWork(ctx context.Context) time.Duration {
	if !b.IsRunning() {
		return 0
	}
	b.work.Lock()
	defer b.work.Unlock()

	start := b.now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.countError(fmt.Errorf("bot: panic: %v", r))
			}
		}()
		if err := b.cycle(ctx); err != nil {
			b.countError(err)
			if errors.Is(err, domain.ErrInvariantViolated) {
				b.halt(ctx, err)
			}
		}
	}()
	elapsed := b.now().Sub(start)

	b.mu.Lock()
	b.lastCycle = elapsed
	b.mu.Unlock()
	b.logger.Debug("cycle done", slog.Duration("elapsed", elapsed))
	return elapsed
}

func (b *Bot) cycle(ctx context.Context) error {
	if err := b.resync(ctx); err != nil {
		return err
	}

	snap, all, err := b.snapshot(ctx)
	if err != nil {
		return err
	}
	b.ledger.UpdateInventory(ctx, all)
	snap.Inventory = b.ledger.Tokens()
	snap.InitialInventory = b.ledger.InitialTokens()

	delta, err := b.strategy.ComputeCurrentDelta(ctx, snap)
	if err != nil {
		return fmt.Errorf("bot: compute delta: %w", err)
	}
	if delta.Empty() {
		return nil
	}
	b.logger.Info("applying delta",
		slog.Int("cancel", len(delta.Cancel)),
		slog.Int("make", len(delta.Make)),
		slog.Int("take", len(delta.Take)),
	)

	// Cancels finish before makes so released inventory can be requoted.
	for _, r := range b.exec.Cancel(ctx, b.account, delta.Cancel) {
		if r.Err == nil {
			continue
		}
		b.countError(r.Err)
		if errors.Is(r.Err, domain.ErrOrderAlreadyClosed) {
			b.flag(&b.resyncOrders)
		}
	}

	var executed []domain.Order
	for _, r := range b.exec.Make(ctx, b.account, delta.Make) {
		if r.Err != nil {
			b.countError(r.Err)
			if errors.Is(r.Err, domain.ErrStalePrice) {
				b.flag(&b.resyncBook)
			}
			continue
		}
		executed = append(executed, r.Order)
	}
	for _, r := range b.exec.Take(ctx, b.account, delta.Take) {
		if r.Err != nil {
			b.countError(r.Err)
			continue
		}
		executed = append(executed, r.Order)
	}
	b.ledger.ProcessExecutedOrders(ctx, executed)
	return nil
}

// snapshot gathers the strategy's view. all holds every tracked order of the
// bot, while the snapshot only carries open ones.
func (b *Bot) snapshot(ctx context.Context) (domain.Snapshot, []domain.Order, error) {
	pairs := b.strategy.RequiredPairs()
	snap := domain.Snapshot{
		Pairs:  pairs,
		Orders: make(map[string][]domain.Order, len(pairs)),
		Books:  make(map[string]domain.OrderBook, len(pairs)),
		Trades: make(map[string][]domain.Trade, len(pairs)),
		Market: b.market,
		Now:    b.now(),
	}
	var all []domain.Order
	for _, pair := range pairs {
		orders, err := b.md.Orders(ctx, b.account, pair)
		if err != nil {
			return snap, nil, fmt.Errorf("bot: orders %s: %w", pair, err)
		}
		book, err := b.md.Book(ctx, pair)
		if err != nil {
			return snap, nil, fmt.Errorf("bot: book %s: %w", pair, err)
		}
		trades, err := b.md.Trades(ctx, pair)
		if err != nil {
			return snap, nil, fmt.Errorf("bot: trades %s: %w", pair, err)
		}
		all = append(all, orders...)

		open := make([]domain.Order, 0, len(orders))
		for _, o := range orders {
			if o.IsOpen() {
				open = append(open, o.Clone())
			}
		}
		snap.Orders[pair] = open
		snap.Books[pair] = book.Clone()
		snap.Trades[pair] = trades
	}
	return snap, all, nil
}

func (b *Bot) resync(ctx context.Context) error {
	b.mu.Lock()
	orders, book := b.resyncOrders, b.resyncBook
	b.mu.Unlock()

	if orders {
		b.logger.Info("resyncing orders")
		if err := b.md.ResetOrders(ctx, b.account); err != nil {
			return fmt.Errorf("bot: resync orders: %w", err)
		}
	}
	if book {
		for _, pair := range b.strategy.RequiredPairs() {
			b.logger.Info("resyncing book", slog.String("pair", pair))
			if err := b.md.ResetBook(ctx, pair); err != nil {
				return fmt.Errorf("bot: resync book %s: %w", pair, err)
			}
		}
	}

	b.mu.Lock()
	if orders {
		b.resyncOrders = false
	}
	if book {
		b.resyncBook = false
	}
	b.mu.Unlock()
	return nil
}

func (b *Bot) flag(f *bool) {
	b.mu.Lock()
	*f = true
	b.mu.Unlock()
}

func (b *Bot) countError(err error) {
	b.mu.Lock()
	b.errorCount++
	n := b.errorCount
	b.mu.Unlock()
	b.logger.Error("cycle error",
		slog.String("error", err.Error()),
		slog.Int("error_count", n),
	)
}

// halt stops a bot whose strategy detected a loss it cannot trade through.
func (b *Bot) halt(ctx context.Context, cause error) {
	if b.alerter != nil {
		b.alerter.Alert(ctx, domain.Alert{
			Level:   domain.AlertCritical,
			Title:   "Bot halted",
			Message: cause.Error(),
			Tags:    map[string]string{"bot_id": fmt.Sprint(b.ID()), "bot_name": b.Name()},
			At:      b.now(),
		})
	}
	if err := b.setStatus(domain.BotStopped); err != nil {
		b.logger.Error("halt: save failed", slog.String("error", err.Error()))
	}
	// The work lock is held by the caller, so the strategy is closed here
	// rather than through Stop.
	if err := b.strategy.Close(); err != nil {
		b.logger.Warn("strategy close failed", slog.String("error", err.Error()))
	}
}

func (b *Bot) setStatus(state domain.BotState) error {
	b.mu.Lock()
	b.record.Status = state
	rec := b.record
	b.mu.Unlock()
	return b.save(rec)
}

func (b *Bot) save(rec domain.BotRecord) error {
	if b.records == nil {
		return nil
	}
	if err := b.records.Save(rec); err != nil {
		return fmt.Errorf("bot: save %d: %w", rec.ID, err)
	}
	return nil
}
