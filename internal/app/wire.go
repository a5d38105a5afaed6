package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	s3blob "github.com/alanyoungcy/moonbot/internal/blob/s3"
	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/cache/redis"
	"github.com/alanyoungcy/moonbot/internal/config"
	"github.com/alanyoungcy/moonbot/internal/crypto"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/executor"
	"github.com/alanyoungcy/moonbot/internal/inventory"
	"github.com/alanyoungcy/moonbot/internal/marketdata"
	"github.com/alanyoungcy/moonbot/internal/notify"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
	"github.com/alanyoungcy/moonbot/internal/server/handler"
	"github.com/alanyoungcy/moonbot/internal/service"
	"github.com/alanyoungcy/moonbot/internal/store/postgres"
	"github.com/alanyoungcy/moonbot/internal/strategy"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

// Dependencies bundles everything the runner and the control API share. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Caches
	Storage     *redis.Storage
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   *redis.SignalBus
	MarketCache domain.MarketCache

	// Optional persistence; nil when disabled.
	Fills    domain.FillJournal
	Audit    domain.AuditStore
	Archiver service.ReportArchiver

	Notifier *notify.Notifier
	Checks   map[string]handler.Check

	// Exchange
	Wallets    *wallet.Set
	Gateway    *chainGateway
	Market     domain.Market
	MarketData *marketdata.Manager
	Executor   *executor.Executor

	// Bots
	Records  *bot.RecordStore
	Registry *strategy.Registry
	Fleet    *bot.Fleet
	Bots     *service.BotService
	Audits   *service.AuditService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.Storage = redis.NewStorage(redisClient, cfg.App.Env)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)

	// --- PostgreSQL (fill journal and audit log) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.Checks["postgres"] = pool.Ping
		deps.Fills = postgres.NewFillStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- S3 (audit report archive) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), path.Join(cfg.S3.Prefix, cfg.App.Env))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.MinLevel, logger)

	// --- Wallets and exchange clients ---
	timeout := cfg.Exchange.RequestTimeout.Duration
	clients := make(map[string]*switcheo.Client)
	wallets := make([]*wallet.Wallet, 0, len(cfg.Wallets))
	for _, wc := range cfg.Wallets {
		w, err := wallet.Open(wallet.Config{
			ID:         wc.ID,
			Blockchain: wc.Blockchain,
			Key: crypto.KeyConfig{
				WalletID:         wc.ID,
				KeyEnv:           wc.KeyEnv,
				EncryptedKeyPath: wc.EncryptedKeyPath,
				KeyPassword:      wc.KeyPassword,
			},
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet %s: %w", wc.ID, err))
		}
		c, ok := clients[wc.Blockchain]
		if !ok {
			c = switcheo.NewClient(cfg.Exchange.RestURL, wc.Blockchain, cfg.Exchange.ContractHashes[wc.Blockchain], timeout)
			clients[wc.Blockchain] = c
		}
		c.AddSigner(w.Signer())
		wallets = append(wallets, w)
		logger.Info("wallet loaded",
			slog.String("wallet", wc.ID),
			slog.String("blockchain", wc.Blockchain),
			slog.String("address", w.Address()),
		)
	}
	deps.Wallets = wallet.NewSet(logger, wallets...)
	deps.Gateway = newChainGateway(clients)

	market, err := loadMarket(ctx, deps.MarketCache,
		switcheo.NewClient(cfg.Exchange.RestURL, "", "", timeout),
		cfg.Exchange.MarketCacheTTL.Duration, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: market: %w", err))
	}
	deps.Market = market
	deps.Gateway.UseMarket(market)

	wsURL := cfg.Exchange.WebsocketURL
	deps.MarketData = marketdata.NewManager(
		marketdata.DialFunc(func(channel string) marketdata.Stream {
			return switcheo.NewStreamClient(wsURL, channel, logger)
		}),
		market,
		marketdata.Config{
			ContractHashes: cfg.Exchange.ContractHashes,
			PageSize:       cfg.Settings.OrderPageSize,
			SettleDelay:    cfg.Settings.ResyncSettleDelay.Duration,
		},
		deps.Notifier,
		logger,
	)
	closers = append(closers, deps.MarketData.Close)

	deps.Executor = executor.New(deps.Gateway, deps.RateLimiter, executor.Config{
		OrdersPerSecond: cfg.Exchange.OrdersPerSecond,
		Concurrency:     cfg.Exchange.Concurrency,
	}, logger)

	// --- Bots ---
	deps.Records = bot.NewRecordStore(cfg.App.BotsDir, cfg.App.Env)
	deps.Registry = strategy.NewRegistry()
	deps.Fleet = bot.NewFleet()
	builder := &botBuilder{deps: deps, logger: logger}

	deps.Bots = service.NewBotService(deps.Fleet, deps.Wallets, builder, deps.Registry, strategyDefaults(cfg), logger)
	deps.Audits = service.NewAuditService(deps.Fleet, deps.Wallets, market, deps.Notifier, deps.Archiver, deps.Audit,
		service.AuditConfig{
			WarnMargin: cfg.Settings.InventoryMarginWarn,
			MaxMargin:  cfg.Settings.InventoryMarginMax,
		}, logger)

	if err := loadBots(ctx, deps, builder, logger); err != nil {
		return fail(err)
	}
	closers = append(closers, func() { stopBots(deps.Fleet, logger) })

	return deps, cleanup, nil
}

// loadMarket prefers the cached exchange metadata and refreshes the cache
// from the exchange on a miss.
func loadMarket(ctx context.Context, cache domain.MarketCache, src domain.MarketSource, ttl time.Duration, logger *slog.Logger) (domain.Market, error) {
	m, err := cache.GetMarket(ctx)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("market cache read failed", slog.String("error", err.Error()))
	}

	assets, err := src.Assets(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	pairs, err := src.Pairs(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	m = domain.Market{Assets: assets, Pairs: pairs}
	if err := cache.SetMarket(ctx, m, ttl); err != nil {
		logger.Warn("market cache write failed", slog.String("error", err.Error()))
	}
	logger.Info("market loaded", slog.Int("assets", len(assets)), slog.Int("pairs", len(pairs)))
	return m, nil
}

// loadBots builds every persisted bot and starts the ones saved as running.
// A bot that fails to build is logged and skipped.
func loadBots(ctx context.Context, deps *Dependencies, builder *botBuilder, logger *slog.Logger) error {
	records, err := deps.Records.LoadAll()
	if err != nil {
		return fmt.Errorf("wire: load bots: %w", err)
	}
	for _, rec := range records {
		wasRunning := rec.Status == domain.BotRunning
		rec.Status = domain.BotStopped

		b, err := builder.Build(ctx, rec)
		if err != nil {
			logger.Error("bot build failed", slog.Int64("bot_id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		if err := deps.Fleet.Add(b); err != nil {
			logger.Error("bot register failed", slog.Int64("bot_id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		if wasRunning {
			if err := b.Start(ctx); err != nil {
				logger.Error("bot start failed", slog.Int64("bot_id", rec.ID), slog.String("error", err.Error()))
			}
		}
	}
	logger.Info("bots loaded", slog.Int("count", deps.Fleet.Len()))
	return nil
}

// stopBots closes strategies on shutdown. Records keep their running status
// so the next process resumes them.
func stopBots(fleet *bot.Fleet, logger *slog.Logger) {
	for _, b := range fleet.List() {
		if err := b.Shutdown(); err != nil {
			logger.Warn("bot shutdown failed", slog.Int64("bot_id", b.ID()), slog.String("error", err.Error()))
		}
	}
}

func strategyDefaults(cfg *config.Config) map[string]service.StrategyDefaults {
	out := make(map[string]service.StrategyDefaults, len(cfg.StrategyDefaults))
	for name, d := range cfg.StrategyDefaults {
		out[name] = service.StrategyDefaults{Description: d.Description, Settings: d.Settings}
	}
	return out
}

// botBuilder assembles a bot from its record: the wallet account, a ledger
// over the bot's stored inventory and a freshly built strategy.
type botBuilder struct {
	deps   *Dependencies
	logger *slog.Logger
}

func (b *botBuilder) Build(ctx context.Context, rec domain.BotRecord) (*bot.Bot, error) {
	w, err := b.deps.Wallets.Get(rec.Wallet)
	if err != nil {
		return nil, fmt.Errorf("build bot %d: %w", rec.ID, err)
	}
	strat, err := b.Strategy(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("build bot %d: %w", rec.ID, err)
	}
	ledger, err := inventory.Load(ctx, rec.ID, rec.InitialInventory, b.deps.Market, inventory.Deps{
		Store:   b.deps.Storage.Scoped(fmt.Sprintf("%d:inventory", rec.ID)),
		Orders:  b.deps.Gateway,
		Journal: b.deps.Fills,
		Alerter: b.deps.Notifier,
		Logger:  b.logger,
	})
	if err != nil {
		_ = strat.Close()
		return nil, fmt.Errorf("build bot %d: %w", rec.ID, err)
	}
	return bot.New(bot.Config{
		Record:     rec,
		Account:    w.Account(),
		Strategy:   strat,
		Ledger:     ledger,
		MarketData: b.deps.MarketData,
		Executor:   b.deps.Executor,
		Records:    b.deps.Records,
		Market:     b.deps.Market,
		Alerter:    b.deps.Notifier,
		Logger:     b.logger,
	}), nil
}

func (b *botBuilder) Strategy(_ context.Context, rec domain.BotRecord) (strategy.Strategy, error) {
	bus := b.deps.SignalBus
	return b.deps.Registry.New(rec.Strategy.Name, strategy.Deps{
		BotID:   rec.ID,
		Store:   b.deps.Storage.Scoped(fmt.Sprintf("%d:%s", rec.ID, rec.Strategy.Name)),
		Bus:     bus,
		Inbox:   bus.InboxChannel,
		Alerter: b.deps.Notifier,
		Logger:  b.logger,
	}, rec.Strategy.Settings)
}

var _ service.BotBuilder = (*botBuilder)(nil)
