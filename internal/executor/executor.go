package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

const (
	defaultConcurrency = 8
	defaultCancelTTL   = 30 * time.Second
)

// Config tunes an Executor.
type Config struct {
	// OrdersPerSecond caps requests per wallet; zero disables the limit.
	OrdersPerSecond int
	Concurrency     int
	// CancelTTL is how long a successful cancel suppresses repeats.
	CancelTTL time.Duration
}

// Result is the outcome of one instruction in a batch.
type Result struct {
	// Order is the placed order for makes and takes, the target for cancels.
	Order   domain.Order
	Err     error
	Skipped bool
}

// Executor runs batches of cancel, make and take instructions against the
// exchange concurrently. A failed instruction never stops its siblings.
type Executor struct {
	gateway domain.Gateway
	limiter domain.RateLimiter
	cfg     Config
	dedup   *Dedup
	logger  *slog.Logger
}

// New creates an Executor. limiter may be nil.
func New(gateway domain.Gateway, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CancelTTL <= 0 {
		cfg.CancelTTL = defaultCancelTTL
	}
	return &Executor{
		gateway: gateway,
		limiter: limiter,
		cfg:     cfg,
		dedup:   NewDedup(cfg.CancelTTL),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Cancel cancels every order. Orders repeated in the batch or cancelled
// within the TTL are skipped.
func (e *Executor) Cancel(ctx context.Context, acct domain.Account, orders []domain.Order) []Result {
	e.dedup.Cleanup()
	inBatch := make(map[string]bool, len(orders))
	skip := make([]bool, len(orders))
	for i, o := range orders {
		skip[i] = inBatch[o.ID] || e.dedup.Seen(o.ID)
		inBatch[o.ID] = true
	}

	return e.run(ctx, acct, len(orders), func(ctx context.Context, i int) Result {
		o := orders[i]
		if skip[i] {
			return Result{Order: o, Skipped: true}
		}
		err := domain.ClassifyExecutionError(e.gateway.CancelOrder(ctx, acct, o.ID))
		if err != nil {
			e.logger.Warn("cancel failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			return Result{Order: o, Err: fmt.Errorf("executor: cancel %s: %w", o.ID, err)}
		}
		e.dedup.Mark(o.ID)
		e.logger.Info("order cancelled", slog.String("order_id", o.ID))
		return Result{Order: o}
	})
}

// Make places post-only limit orders for every quote.
func (e *Executor) Make(ctx context.Context, acct domain.Account, quotes []domain.Quote) []Result {
	return e.run(ctx, acct, len(quotes), func(ctx context.Context, i int) Result {
		q := quotes[i]
		log := e.logger.With(
			slog.String("pair", q.Pair),
			slog.String("side", string(q.Side)),
			slog.String("price", q.Price.String()),
			slog.String("quantity", q.Quantity.String()),
		)
		o, err := e.gateway.CreateOrder(ctx, acct, q.Pair, q.Side, q.Price, q.Quantity, true)
		if err != nil {
			err = domain.ClassifyExecutionError(err)
			log.Warn("make failed", slog.String("error", err.Error()))
			return Result{Err: fmt.Errorf("executor: make %s %s@%s: %w", q.Side, q.Quantity, q.Price, err)}
		}
		o.Profit = q.ProfitMargin
		log.Info("order made", slog.String("order_id", o.ID))
		return Result{Order: o}
	})
}

// Take places market orders.
func (e *Executor) Take(ctx context.Context, acct domain.Account, takes []domain.TakeOrder) []Result {
	return e.run(ctx, acct, len(takes), func(ctx context.Context, i int) Result {
		t := takes[i]
		o, err := e.gateway.CreateMarketOrder(ctx, acct, t.Pair, t.Side, t.Quantity)
		if err != nil {
			err = domain.ClassifyExecutionError(err)
			e.logger.Warn("take failed",
				slog.String("pair", t.Pair),
				slog.String("side", string(t.Side)),
				slog.String("error", err.Error()),
			)
			return Result{Err: fmt.Errorf("executor: take %s %s: %w", t.Side, t.Quantity, err)}
		}
		o.Profit = t.ProfitMargin
		e.logger.Info("order taken", slog.String("order_id", o.ID), slog.Int("fills", len(o.Fills)))
		return Result{Order: o}
	})
}

func (e *Executor) run(ctx context.Context, acct domain.Account, n int, fn func(context.Context, int) Result) []Result {
	results := make([]Result, n)
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := e.throttle(ctx, acct); err != nil {
				results[i] = Result{Err: fmt.Errorf("executor: rate limit: %w", err)}
				return nil
			}
			results[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) throttle(ctx context.Context, acct domain.Account) error {
	if e.limiter == nil || e.cfg.OrdersPerSecond <= 0 {
		return nil
	}
	return e.limiter.Wait(ctx, "orders:"+acct.Address, e.cfg.OrdersPerSecond, time.Second)
}
