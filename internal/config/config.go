// Package config defines the top-level configuration for the veilmarket
// ledger and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VEILMARKET_* environment variables.
type Config struct {
	Owner    OwnerConfig    `toml:"owner"`
	Oracle   OracleConfig   `toml:"oracle"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OwnerConfig identifies the address allowed to create markets.
type OwnerConfig struct {
	Address string `toml:"address"`
}

// OracleConfig holds the price feed connection and verification parameters.
type OracleConfig struct {
	// BaseURL is the HTTP endpoint serving signed quotes. Ignored in
	// sandbox mode, where quotes are self-signed in process.
	BaseURL string `toml:"base_url"`

	// Reporter is the address whose signature every quote must carry.
	Reporter string `toml:"reporter"`

	// ReporterKey is the hex private key used to self-sign quotes in
	// sandbox mode. Raw hex, or leave empty and use the encrypted file.
	ReporterKey          string `toml:"reporter_key"`
	EncryptedKeyPath     string `toml:"encrypted_key_path"`
	EncryptedKeyPassword string `toml:"encrypted_key_password"`

	// MaxQuoteAge bounds how stale a quote may be at resolution time.
	MaxQuoteAge duration `toml:"max_quote_age"`
}

// GatewayConfig holds the confidentiality gateway connection parameters.
type GatewayConfig struct {
	// BaseURL is the gateway HTTP endpoint. Ignored in sandbox mode, where
	// an in-process gateway is used.
	BaseURL string `toml:"base_url"`

	// Key and Secret authenticate gateway requests (HMAC). Secret is
	// base64-encoded.
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for market
// settlement archives. Archival is skipped entirely when Enabled is false.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit is the per-client request budget per RateLimitWindow.
	// Zero disables rate limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			MaxQuoteAge: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "veilmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "veilmarket-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_settled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
//
//	server  — HTTP/WebSocket API only
//	worker  — notify listener and background consumers only
//	sandbox — everything in process with in-memory backends
//	full    — server plus worker
var validModes = map[string]bool{
	"server":  true,
	"worker":  true,
	"sandbox": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, sandbox, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Owner
	if c.Owner.Address == "" {
		errs = append(errs, "owner: address must not be empty")
	} else if !common.IsHexAddress(c.Owner.Address) {
		errs = append(errs, fmt.Sprintf("owner: %q is not a valid hex address", c.Owner.Address))
	}

	// Sandbox mode runs entirely in process; the external backends below
	// are not consulted.
	if mode == "sandbox" {
		if len(errs) > 0 {
			return validationError(errs)
		}
		return nil
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if c.Oracle.Reporter == "" {
		errs = append(errs, "oracle: reporter must not be empty")
	} else if !common.IsHexAddress(c.Oracle.Reporter) {
		errs = append(errs, fmt.Sprintf("oracle: reporter %q is not a valid hex address", c.Oracle.Reporter))
	}
	if c.Oracle.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "oracle: max_quote_age must be positive")
	}
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.EncryptedKeyPassword == "" {
		errs = append(errs, "oracle: encrypted_key_password is required when encrypted_key_path is set")
	}

	// Gateway
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway: base_url must not be empty")
	}
	if (c.Gateway.Key == "") != (c.Gateway.Secret == "") {
		errs = append(errs, "gateway: key and secret must be set together")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return validationError(errs)
	}
	return nil
}

func validationError(errs []string) error {
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
}

// OwnerAddress returns the parsed owner address. Call Validate first.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner.Address)
}

// ReporterAddress returns the parsed oracle reporter address.
func (c *Config) ReporterAddress() common.Address {
	return common.HexToAddress(c.Oracle.Reporter)
}
