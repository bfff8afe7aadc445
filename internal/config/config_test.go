package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const ownerHex = "0x1111111111111111111111111111111111111111"

func validConfig() Config {
	cfg := Defaults()
	cfg.Owner.Address = ownerHex
	cfg.Oracle.BaseURL = "https://oracle.example.com"
	cfg.Oracle.Reporter = "0x2222222222222222222222222222222222222222"
	cfg.Gateway.BaseURL = "https://gateway.example.com"
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Owner.Address = "not-an-address"
	cfg.Mode = "turbo"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"owner:", "unknown mode", "redis:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateSandboxSkipsBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sandbox"
	cfg.Owner.Address = ownerHex
	// No oracle, gateway, postgres, or redis configured.
	cfg.Redis.Addr = ""
	cfg.Postgres.Host = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("sandbox config rejected: %v", err)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	content := `
mode = "server"
log_level = "debug"

[owner]
address = "` + ownerHex + `"

[oracle]
base_url = "https://oracle.example.com"
reporter = "0x2222222222222222222222222222222222222222"
max_quote_age = "90s"

[gateway]
base_url = "https://gateway.example.com"

[server]
port = 9000
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VEILMARKET_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("VEILMARKET_SERVER_API_KEY", "sekrit")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "server" || cfg.Server.Port != 9000 {
		t.Fatalf("file values not applied: mode=%q port=%d", cfg.Mode, cfg.Server.Port)
	}
	if cfg.Oracle.MaxQuoteAge.Duration != 90*time.Second {
		t.Fatalf("max_quote_age = %v", cfg.Oracle.MaxQuoteAge.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Server.APIKey != "sekrit" {
		t.Fatalf("env overrides not applied: addr=%q key=%q", cfg.Redis.Addr, cfg.Server.APIKey)
	}
	// Defaults survive where neither file nor env set a value.
	if cfg.Postgres.Port != 5432 {
		t.Fatalf("default postgres port = %d", cfg.Postgres.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pgpass"
	cfg.Gateway.Secret = "c2VjcmV0"
	cfg.Server.APIKey = "sekrit"
	cfg.S3.SecretKey = ""

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Gateway.Secret != "***" || red.Server.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if red.S3.SecretKey != "" {
		t.Fatalf("empty secret should stay empty, got %q", red.S3.SecretKey)
	}
	if cfg.Postgres.Password != "pgpass" {
		t.Fatal("original config mutated")
	}
}
