// Package config defines the top-level configuration for moonbot and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MOONBOT_* environment variables.
type Config struct {
	App              AppConfig                        `toml:"app"`
	Settings         SettingsConfig                   `toml:"settings"`
	Exchange         ExchangeConfig                   `toml:"exchange"`
	Wallets          []WalletConfig                   `toml:"wallets"`
	StrategyDefaults map[string]StrategyDefaultConfig `toml:"strategy_defaults"`
	Redis            RedisConfig                      `toml:"redis"`
	Postgres         PostgresConfig                   `toml:"postgres"`
	S3               S3Config                         `toml:"s3"`
	Server           ServerConfig                     `toml:"server"`
	Notify           NotifyConfig                     `toml:"notify"`
}

// AppConfig selects the environment and logging.
type AppConfig struct {
	// Env namespaces bot records and stored state: dev, test, prod or local.
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	BotsDir  string `toml:"bots_dir"`
}

// SettingsConfig tunes the scheduler and the wallet audit.
type SettingsConfig struct {
	// WorkLoopDuration is the time budget of one round over all bots.
	WorkLoopDuration Duration `toml:"work_loop_duration"`
	// AuditWalletFrequency is the number of bot visits between wallet audits.
	AuditWalletFrequency int      `toml:"audit_wallet_frequency"`
	ErrorCutoff          int      `toml:"error_cutoff"`
	InventoryMarginWarn  float64  `toml:"inventory_margin_warning"`
	InventoryMarginMax   float64  `toml:"inventory_margin_max"`
	ResyncSettleDelay    Duration `toml:"resync_settle_delay"`
	OrderPageSize        int      `toml:"order_page_size"`
	// LeaseTTL bounds how long a bot lease survives a crashed runner.
	LeaseTTL Duration `toml:"lease_ttl"`
}

// ExchangeConfig points at the exchange network.
type ExchangeConfig struct {
	Network        string            `toml:"network"`
	RestURL        string            `toml:"rest_url"`
	WebsocketURL   string            `toml:"websocket_url"`
	ContractHashes map[string]string `toml:"contract_hashes"`
	RequestTimeout Duration          `toml:"request_timeout"`
	// OrdersPerSecond caps order requests per wallet; zero disables the cap.
	OrdersPerSecond int      `toml:"orders_per_second"`
	Concurrency     int      `toml:"concurrency"`
	MarketCacheTTL  Duration `toml:"market_cache_ttl"`
}

// WalletConfig names one wallet and where its key lives.
type WalletConfig struct {
	ID               string `toml:"id"`
	Blockchain       string `toml:"blockchain"`
	KeyEnv           string `toml:"key_env"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	// KeyPassword unlocks EncryptedKeyPath. Prefer MOONBOT_WALLET_<ID>_KEY_PASSWORD.
	KeyPassword string `toml:"key_password"`
}

// StrategyDefaultConfig is offered to operators when creating a bot.
type StrategyDefaultConfig struct {
	Description string         `toml:"description"`
	Settings    map[string]any `toml:"settings"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// PostgresConfig holds the fill journal database. Disabled by default.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage for audit report archives. Disabled by default.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client; zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds alert destinations.
type NotifyConfig struct {
	MinLevel          string `toml:"min_level"`
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// Duration is a time.Duration that TOML reads from strings such as "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Network presets: websocket host and exchange contracts per blockchain.
var networks = map[string]struct {
	rest, ws  string
	contracts map[string]string
}{
	"MainNet": {
		rest: "https://api.switcheo.network",
		ws:   "wss://ws.switcheo.io",
		contracts: map[string]string{
			"neo": "a32bcf5d7082f740a4007b16e812cf66a457c3d4",
			"eth": "0x7ee7ca6e75de79e618e88bdf80d0b1db136b22d0",
			"eos": "pwrdbyobolus",
		},
	},
	"TestNet": {
		rest: "https://test-api.switcheo.network",
		ws:   "wss://test-ws.switcheo.io",
		contracts: map[string]string{
			"neo": "58efbb3cca7f436a55b1a05c0f36788d2d9a032e",
			"eth": "0x4d19fd42e780d56ff6464fe9e7d5158aee3d125d",
			"eos": "toweredbyob2",
		},
	},
	"DevNet": {
		rest: "https://dev-api.switcheo.network",
		ws:   "wss://dev-ws.switcheo.io",
		contracts: map[string]string{
			"neo": "d524fbb2f83f396368bc0183f5e543cae54ef532",
			"eth": "0xfe76be890a14921fe09682eccea416b708d620d3",
			"eos": "oboluswitch4",
		},
	},
}

// Defaults returns a Config populated with sensible default values. TOML
// decoding writes on top of these, so unset fields keep their defaults.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Env:      "dev",
			LogLevel: "info",
			BotsDir:  "bots",
		},
		Settings: SettingsConfig{
			WorkLoopDuration:     Duration{5 * time.Second},
			AuditWalletFrequency: 50,
			ErrorCutoff:          20,
			InventoryMarginWarn:  0.9,
			InventoryMarginMax:   1.0,
			ResyncSettleDelay:    Duration{time.Second},
			OrderPageSize:        100,
			LeaseTTL:             Duration{2 * time.Minute},
		},
		Exchange: ExchangeConfig{
			Network:         "TestNet",
			RequestTimeout:  Duration{30 * time.Second},
			OrdersPerSecond: 5,
			Concurrency:     8,
			MarketCacheTTL:  Duration{time.Hour},
		},
		StrategyDefaults: map[string]StrategyDefaultConfig{},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "moonbot",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "moonbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "moonbot",
			Prefix:         "audits",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:6969",
		},
		Notify: NotifyConfig{
			MinLevel: "warning",
		},
	}
}

// ApplyNetwork fills exchange URLs and contract hashes left empty from the
// named network preset.
func (c *Config) ApplyNetwork() {
	preset, ok := networks[c.Exchange.Network]
	if !ok {
		return
	}
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = preset.rest
	}
	if c.Exchange.WebsocketURL == "" {
		c.Exchange.WebsocketURL = preset.ws
	}
	if c.Exchange.ContractHashes == nil {
		c.Exchange.ContractHashes = make(map[string]string, len(preset.contracts))
	}
	for chain, hash := range preset.contracts {
		if c.Exchange.ContractHashes[chain] == "" {
			c.Exchange.ContractHashes[chain] = hash
		}
	}
}

var validEnvs = map[string]bool{"dev": true, "test": true, "prod": true, "local": true}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validEnvs[c.App.Env] {
		errs = append(errs, fmt.Sprintf("unknown app.env %q (valid: dev, test, prod, local)", c.App.Env))
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown app.log_level %q (valid: debug, info, warn, error)", c.App.LogLevel))
	}
	if c.App.BotsDir == "" {
		errs = append(errs, "app.bots_dir is required")
	}

	if c.Settings.WorkLoopDuration.Duration <= 0 {
		errs = append(errs, "settings.work_loop_duration must be positive")
	}
	if c.Settings.AuditWalletFrequency <= 0 {
		errs = append(errs, "settings.audit_wallet_frequency must be positive")
	}
	if c.Settings.ErrorCutoff < 0 {
		errs = append(errs, "settings.error_cutoff must not be negative")
	}
	if c.Settings.InventoryMarginWarn < 0 || c.Settings.InventoryMarginMax < 0 {
		errs = append(errs, "settings.inventory_margin_* must not be negative")
	}
	if c.Settings.OrderPageSize <= 0 {
		errs = append(errs, "settings.order_page_size must be positive")
	}

	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange.rest_url is required (or a known exchange.network)")
	}
	if c.Exchange.WebsocketURL == "" {
		errs = append(errs, "exchange.websocket_url is required (or a known exchange.network)")
	}

	if len(c.Wallets) == 0 {
		errs = append(errs, "at least one [[wallets]] entry is required")
	}
	seen := make(map[string]bool, len(c.Wallets))
	for i, w := range c.Wallets {
		switch {
		case w.ID == "":
			errs = append(errs, fmt.Sprintf("wallets[%d].id is required", i))
		case seen[w.ID]:
			errs = append(errs, fmt.Sprintf("duplicate wallet id %q", w.ID))
		}
		seen[w.ID] = true
		if _, ok := c.Exchange.ContractHashes[w.Blockchain]; !ok {
			errs = append(errs, fmt.Sprintf("wallet %q: no contract hash for blockchain %q", w.ID, w.Blockchain))
		}
		if w.KeyEnv == "" && w.EncryptedKeyPath == "" {
			errs = append(errs, fmt.Sprintf("wallet %q: key_env or encrypted_key_path is required", w.ID))
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres.dsn or postgres.host is required when postgres is enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3.bucket is required when s3 is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server.addr is required when the server is enabled")
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify.telegram_chat_id is required with notify.telegram_token")
	}

	if len(errs) > 0 {
		return errors.New("config: validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
