package strategy

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Strategy defines the contract for quoting strategies. A strategy is
// configured once and evaluated once per bot cycle.
type Strategy interface {
	Name() string
	RequiredPairs() []string
	Init(ctx context.Context) error
	ComputeCurrentDelta(ctx context.Context, snap domain.Snapshot) (domain.Delta, error)
	Settings() map[string]any
	Close() error
}

// Deps are the collaborators handed to a strategy factory.
type Deps struct {
	BotID int64
	// Store is scoped to "<botID>:<strategy>".
	Store   domain.HashStore
	Bus     domain.SignalBus
	Inbox   func(botID int64) string
	Alerter domain.Alerter
	Logger  *slog.Logger
	Rand    *rand.Rand
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return d
}
