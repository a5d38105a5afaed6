package strategy

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// base holds what every strategy shares: its name, settings and the
// one-shot insufficient inventory alert.
type base struct {
	name     string
	botID    int64
	pair     string
	pairs    []string
	settings map[string]any
	alerter  domain.Alerter
	logger   *slog.Logger

	mu     sync.Mutex
	warned map[string]bool
}

func newBase(name string, deps Deps, common PairSettings, settings map[string]any) *base {
	return &base{
		name:     name,
		botID:    deps.BotID,
		pair:     common.Pair,
		pairs:    common.pairs(),
		settings: maps.Clone(settings),
		alerter:  deps.Alerter,
		logger: deps.Logger.With(
			slog.String("strategy", name),
			slog.Int64("bot_id", deps.BotID),
			slog.String("pair", common.Pair),
		),
		warned: make(map[string]bool),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) RequiredPairs() []string { return append([]string(nil), b.pairs...) }

func (b *base) Settings() map[string]any { return maps.Clone(b.settings) }

func (b *base) Init(context.Context) error { return nil }

func (b *base) Close() error { return nil }

// warnInsufficientInventory logs every time and alerts once per token.
func (b *base) warnInsufficientInventory(ctx context.Context, token string) {
	b.logger.Warn("inventory depleted", slog.String("token", token))

	b.mu.Lock()
	seen := b.warned[token]
	b.warned[token] = true
	b.mu.Unlock()
	if seen || b.alerter == nil {
		return
	}
	b.alerter.Alert(ctx, domain.Alert{
		Level:   domain.AlertWarning,
		Title:   "Insufficient inventory",
		Message: "Insufficient inventory of " + token + " for " + b.pair,
		Tags: map[string]string{
			"bot_id": strconv.FormatInt(b.botID, 10),
			"token":  token,
			"pair":   b.pair,
		},
		At: time.Now(),
	})
}
