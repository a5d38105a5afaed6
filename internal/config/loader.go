package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, loads a .env file if present, applies MOONBOT_*
// environment variable overrides and fills exchange endpoints from the
// network preset. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.ApplyNetwork()

	return &cfg, nil
}

// applyEnvOverrides reads well-known MOONBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── App ──
	setStr(&cfg.App.Env, "MOONBOT_ENV")
	setStr(&cfg.App.LogLevel, "MOONBOT_LOG_LEVEL")
	setStr(&cfg.App.BotsDir, "MOONBOT_BOTS_DIR")

	// ── Settings ──
	setDuration(&cfg.Settings.WorkLoopDuration, "MOONBOT_WORK_LOOP_DURATION")
	setInt(&cfg.Settings.AuditWalletFrequency, "MOONBOT_AUDIT_WALLET_FREQUENCY")
	setInt(&cfg.Settings.ErrorCutoff, "MOONBOT_ERROR_CUTOFF")
	setFloat64(&cfg.Settings.InventoryMarginWarn, "MOONBOT_INVENTORY_MARGIN_WARNING")
	setFloat64(&cfg.Settings.InventoryMarginMax, "MOONBOT_INVENTORY_MARGIN_MAX")

	// ── Exchange ──
	setStr(&cfg.Exchange.Network, "MOONBOT_EXCHANGE_NETWORK")
	setStr(&cfg.Exchange.RestURL, "MOONBOT_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WebsocketURL, "MOONBOT_EXCHANGE_WEBSOCKET_URL")
	setInt(&cfg.Exchange.OrdersPerSecond, "MOONBOT_EXCHANGE_ORDERS_PER_SECOND")

	// ── Wallets ──
	for i := range cfg.Wallets {
		prefix := "MOONBOT_WALLET_" + envName(cfg.Wallets[i].ID)
		setStr(&cfg.Wallets[i].KeyEnv, prefix+"_KEY_ENV")
		setStr(&cfg.Wallets[i].EncryptedKeyPath, prefix+"_ENCRYPTED_KEY_PATH")
		setStr(&cfg.Wallets[i].KeyPassword, prefix+"_KEY_PASSWORD")
	}

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MOONBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MOONBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MOONBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MOONBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MOONBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MOONBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MOONBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MOONBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MOONBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MOONBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MOONBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MOONBOT_POSTGRES_SSL_MODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MOONBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MOONBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MOONBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MOONBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MOONBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MOONBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MOONBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "MOONBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "MOONBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MOONBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.MinLevel, "MOONBOT_NOTIFY_MIN_LEVEL")
	setStr(&cfg.Notify.TelegramToken, "MOONBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MOONBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MOONBOT_NOTIFY_DISCORD_WEBHOOK_URL")
}

// envName upper-cases id and replaces anything outside [A-Z0-9] with '_'.
func envName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, id)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
