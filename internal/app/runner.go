package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/domain"
)

// ErrNoBots is returned by Runner.Run once the last bot has been removed.
var ErrNoBots = errors.New("no active bots left")

// RunnerConfig paces the scheduler.
type RunnerConfig struct {
	// WorkLoop is the time budget of one round over every bot.
	WorkLoop time.Duration
	// AuditEvery is the number of bot visits between housekeeping runs.
	AuditEvery  int
	ErrorCutoff int
	LeaseTTL    time.Duration
}

// Runner visits bots round-robin, spreading each round's budget across the
// bots that remain in it.
type Runner struct {
	fleet   *bot.Fleet
	locks   domain.LockManager // nil runs without leases
	audit   func(ctx context.Context)
	alerter domain.Alerter
	cfg     RunnerConfig
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration)

	leases map[int64]func()
}

// NewRunner creates a Runner. audit runs before the first round and then
// every cfg.AuditEvery visits.
func NewRunner(fleet *bot.Fleet, locks domain.LockManager, audit func(ctx context.Context), alerter domain.Alerter, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.AuditEvery <= 0 {
		cfg.AuditEvery = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	return &Runner{
		fleet:   fleet,
		locks:   locks,
		audit:   audit,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "runner")),
		sleep:   sleepCtx,
		leases:  make(map[int64]func()),
	}
}

// Run loops until ctx is cancelled, returning nil, or until error cutoffs
// have removed every bot, returning ErrNoBots.
func (r *Runner) Run(ctx context.Context) error {
	defer r.releaseAll()

	visits := 0
	for ctx.Err() == nil {
		if visits%r.cfg.AuditEvery == 0 {
			if r.audit != nil {
				r.audit(ctx)
			}
			visits = 0
		}

		bots := r.fleet.List()
		if len(bots) == 0 {
			r.sleep(ctx, r.cfg.WorkLoop)
			visits++
			continue
		}

		remaining := r.cfg.WorkLoop
		worked, retired := false, false
		for i, b := range bots {
			if ctx.Err() != nil {
				return nil
			}
			if b.ErrorCount() > r.cfg.ErrorCutoff {
				r.retire(ctx, b)
				if r.fleet.Len() == 0 {
					r.logger.WarnContext(ctx, "shutting down: no active bots left")
					return ErrNoBots
				}
				retired = true
				break
			}
			visits++

			if !b.IsRunning() {
				r.release(b.ID())
				continue
			}
			if !r.lease(ctx, b.ID()) {
				continue
			}

			worked = true
			remaining -= b.DoWork(ctx)
			pause := remaining / time.Duration(len(bots)-i)
			if pause > 0 {
				r.sleep(ctx, pause)
			}
			remaining -= pause
		}

		// A round with every bot stopped or leased elsewhere still takes the
		// full budget, so housekeeping keeps its pace.
		if !worked && !retired {
			r.sleep(ctx, remaining)
		}
	}
	return nil
}

// retire drops a bot that exceeded its error budget.
func (r *Runner) retire(ctx context.Context, b *bot.Bot) {
	r.logger.WarnContext(ctx, "shutting off bot: too many errors",
		slog.Int64("bot_id", b.ID()),
		slog.String("bot_name", b.Name()),
		slog.Int("error_count", b.ErrorCount()),
	)
	if r.alerter != nil {
		r.alerter.Alert(ctx, domain.Alert{
			Level:   domain.AlertCritical,
			Title:   "Bot shut off",
			Message: fmt.Sprintf("Maximum errors exceeded. Shutting off bot %s for %v", b.Name(), b.Pairs()),
			Tags:    map[string]string{"bot_id": strconv.FormatInt(b.ID(), 10)},
			At:      time.Now(),
		})
	}
	r.release(b.ID())
	r.fleet.Remove(b.ID())
}

// lease acquires or extends the bot's single-runner lock. A bot whose lock
// is held by another process is skipped.
func (r *Runner) lease(ctx context.Context, id int64) bool {
	if r.locks == nil {
		return true
	}
	key := "bot:" + strconv.FormatInt(id, 10)
	if _, ok := r.leases[id]; ok {
		err := r.locks.Extend(ctx, key, r.cfg.LeaseTTL)
		if err == nil {
			return true
		}
		r.logger.WarnContext(ctx, "bot lease lost", slog.Int64("bot_id", id), slog.String("error", err.Error()))
		delete(r.leases, id)
	}
	unlock, err := r.locks.Acquire(ctx, key, r.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.WarnContext(ctx, "bot is leased by another runner, skipping", slog.Int64("bot_id", id))
		} else {
			r.logger.ErrorContext(ctx, "bot lease failed", slog.Int64("bot_id", id), slog.String("error", err.Error()))
		}
		return false
	}
	r.leases[id] = unlock
	return true
}

func (r *Runner) release(id int64) {
	if unlock, ok := r.leases[id]; ok {
		unlock()
		delete(r.leases, id)
	}
}

func (r *Runner) releaseAll() {
	for id := range r.leases {
		r.release(id)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
