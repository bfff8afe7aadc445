package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VEILMARKET_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VEILMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Owner ──
	setStr(&cfg.Owner.Address, "VEILMARKET_OWNER_ADDRESS")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "VEILMARKET_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.Reporter, "VEILMARKET_ORACLE_REPORTER")
	setStr(&cfg.Oracle.ReporterKey, "VEILMARKET_ORACLE_REPORTER_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "VEILMARKET_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.EncryptedKeyPassword, "VEILMARKET_ORACLE_ENCRYPTED_KEY_PASSWORD")
	setDuration(&cfg.Oracle.MaxQuoteAge, "VEILMARKET_ORACLE_MAX_QUOTE_AGE")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "VEILMARKET_GATEWAY_BASE_URL")
	setStr(&cfg.Gateway.Key, "VEILMARKET_GATEWAY_KEY")
	setStr(&cfg.Gateway.Secret, "VEILMARKET_GATEWAY_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VEILMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VEILMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VEILMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VEILMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VEILMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VEILMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VEILMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VEILMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VEILMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VEILMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VEILMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VEILMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VEILMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VEILMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VEILMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VEILMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VEILMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VEILMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VEILMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "VEILMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VEILMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VEILMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VEILMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VEILMARKET_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VEILMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VEILMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VEILMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VEILMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VEILMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "VEILMARKET_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VEILMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VEILMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VEILMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VEILMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VEILMARKET_MODE")
	setStr(&cfg.LogLevel, "VEILMARKET_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
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
