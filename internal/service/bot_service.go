package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/strategy"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

// BotBuilder turns bot records into live bots.
type BotBuilder interface {
	// Build wires a bot for rec, including its ledger and strategy. The bot
	// is returned stopped; the caller starts it.
	Build(ctx context.Context, rec domain.BotRecord) (*bot.Bot, error)
	// Strategy builds only the strategy of rec.
	Strategy(ctx context.Context, rec domain.BotRecord) (strategy.Strategy, error)
}

// StrategyDefaults is the operator-facing description and default settings
// of one strategy.
type StrategyDefaults struct {
	Description string         `json:"description"`
	Settings    map[string]any `json:"settings"`
}

// CreateBotRequest describes a new bot. Settings override the strategy's
// defaults key by key.
type CreateBotRequest struct {
	Name             string            `json:"name"`
	Wallet           string            `json:"wallet"`
	Strategy         string            `json:"strategy"`
	Settings         map[string]any    `json:"settings"`
	InitialInventory map[string]string `json:"initial_inventory"`
}

// BotService implements the operator commands on the fleet.
type BotService struct {
	fleet    *bot.Fleet
	wallets  *wallet.Set
	builder  BotBuilder
	registry *strategy.Registry
	defaults map[string]StrategyDefaults
	logger   *slog.Logger
}

func NewBotService(
	fleet *bot.Fleet,
	wallets *wallet.Set,
	builder BotBuilder,
	registry *strategy.Registry,
	defaults map[string]StrategyDefaults,
	logger *slog.Logger,
) *BotService {
	return &BotService{
		fleet:    fleet,
		wallets:  wallets,
		builder:  builder,
		registry: registry,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "bot_service")),
	}
}

// Status summarises every bot.
func (s *BotService) Status() domain.StatusReport {
	bots := s.fleet.List()
	report := domain.StatusReport{TotalBots: len(bots), Bots: make([]domain.BotSummary, 0, len(bots))}
	for _, b := range bots {
		sum := b.Summary()
		if sum.Status == domain.BotRunning {
			report.RunningBots++
		}
		report.Bots = append(report.Bots, sum)
	}
	return report
}

// Get returns the saved definition of one bot.
func (s *BotService) Get(id int64) (domain.BotRecord, error) {
	b, err := s.fleet.Get(id)
	if err != nil {
		return domain.BotRecord{}, err
	}
	return b.Record(), nil
}

func (s *BotService) Start(ctx context.Context, id int64) error {
	b, err := s.fleet.Get(id)
	if err != nil {
		return err
	}
	if b.IsRunning() {
		return nil
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("service: start bot: %w", err)
	}
	s.logger.InfoContext(ctx, "bot started", slog.Int64("bot_id", id))
	return nil
}

func (s *BotService) Stop(ctx context.Context, id int64) error {
	b, err := s.fleet.Get(id)
	if err != nil {
		return err
	}
	if err := b.Stop(ctx); err != nil {
		return fmt.Errorf("service: stop bot: %w", err)
	}
	s.logger.InfoContext(ctx, "bot stopped", slog.Int64("bot_id", id))
	return nil
}

// Delete stops the bot, removes its record and stored inventory and drops it
// from the fleet.
func (s *BotService) Delete(ctx context.Context, id int64) error {
	b, err := s.fleet.Get(id)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx); err != nil {
		return fmt.Errorf("service: delete bot: %w", err)
	}
	s.fleet.Remove(id)
	s.logger.InfoContext(ctx, "bot deleted", slog.Int64("bot_id", id))
	return nil
}

// Configure rebuilds the bot's strategy with settings, which replace the
// current settings entirely.
func (s *BotService) Configure(ctx context.Context, id int64, settings map[string]any) (domain.BotRecord, error) {
	b, err := s.fleet.Get(id)
	if err != nil {
		return domain.BotRecord{}, err
	}
	rec := b.Record()
	rec.Strategy.Settings = maps.Clone(settings)
	next, err := s.builder.Strategy(ctx, rec)
	if err != nil {
		return domain.BotRecord{}, fmt.Errorf("service: configure bot %d: %w", id, err)
	}
	if err := b.Reconfigure(ctx, next); err != nil {
		return domain.BotRecord{}, fmt.Errorf("service: configure bot %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "bot reconfigured", slog.Int64("bot_id", id))
	return b.Record(), nil
}

// Create builds, saves and registers a new stopped bot under the next free id.
func (s *BotService) Create(ctx context.Context, req CreateBotRequest) (domain.BotRecord, error) {
	if err := s.validate(req); err != nil {
		return domain.BotRecord{}, err
	}

	settings := maps.Clone(s.defaults[req.Strategy].Settings)
	if settings == nil {
		settings = make(map[string]any, len(req.Settings))
	}
	maps.Copy(settings, req.Settings)

	rec := domain.BotRecord{
		ID:               s.fleet.NextID(),
		Name:             req.Name,
		Wallet:           req.Wallet,
		InitialInventory: maps.Clone(req.InitialInventory),
		Status:           domain.BotStopped,
		Strategy:         domain.StrategySpec{Name: req.Strategy, Settings: settings},
	}
	b, err := s.builder.Build(ctx, rec)
	if err != nil {
		return domain.BotRecord{}, fmt.Errorf("service: create bot: %w", err)
	}
	if err := s.fleet.Add(b); err != nil {
		return domain.BotRecord{}, fmt.Errorf("service: create bot: %w", err)
	}
	// Stop persists the record.
	if err := b.Stop(ctx); err != nil {
		s.fleet.Remove(rec.ID)
		return domain.BotRecord{}, fmt.Errorf("service: create bot: %w", err)
	}
	s.logger.InfoContext(ctx, "bot created",
		slog.Int64("bot_id", rec.ID),
		slog.String("strategy", rec.Strategy.Name),
	)
	return b.Record(), nil
}

func (s *BotService) validate(req CreateBotRequest) error {
	var problems []string
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, err := s.wallets.Get(req.Wallet); err != nil {
		problems = append(problems, fmt.Sprintf("unknown wallet %q", req.Wallet))
	}
	if !s.registry.Has(req.Strategy) {
		return fmt.Errorf("service: create bot: strategy %q: %w", req.Strategy, domain.ErrUnknownStrategy)
	}
	if len(problems) > 0 {
		return fmt.Errorf("service: create bot: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidSettings)
	}
	return nil
}

// Wallets lists the loaded wallets.
func (s *BotService) Wallets() []wallet.Info {
	list := s.wallets.List()
	out := make([]wallet.Info, 0, len(list))
	for _, w := range list {
		out = append(out, w.Info())
	}
	return out
}

// Strategies lists every strategy a bot can run. Configured descriptions
// take precedence over the built-in ones.
func (s *BotService) Strategies() []strategy.Info {
	infos := s.registry.ListInfo()
	for i, info := range infos {
		if d, ok := s.defaults[info.Name]; ok && d.Description != "" {
			infos[i].Description = d.Description
		}
	}
	return infos
}

// DefaultSettings returns the configured defaults for a strategy.
func (s *BotService) DefaultSettings(name string) (StrategyDefaults, error) {
	if !s.registry.Has(name) {
		return StrategyDefaults{}, fmt.Errorf("service: strategy %q: %w", name, domain.ErrUnknownStrategy)
	}
	d := s.defaults[name]
	d.Settings = maps.Clone(d.Settings)
	if d.Settings == nil {
		d.Settings = map[string]any{}
	}
	return d, nil
}
