package config_test

import (
	"testing"
	"time"

	"github.com/iho/ledgerbridge/internal/infrastructure/config"
)

func setHTTPLedgers(t *testing.T) {
	t.Helper()
	t.Setenv("BANK_LEDGER_URL", "http://bank.local")
	t.Setenv("BROKERAGE_LEDGER_URL", "http://brokerage.local")
}

func TestLoadDefaults(t *testing.T) {
	setHTTPLedgers(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.LedgerMode != config.LedgerModeHTTP || cfg.LockBackend != config.LockBackendLocal {
		t.Fatalf("unexpected mode defaults: ledger=%s lock=%s", cfg.LedgerMode, cfg.LockBackend)
	}
	if cfg.LegMaxAttempts != 3 || cfg.CompensationMaxAttempts != 5 {
		t.Fatalf("unexpected attempt defaults: leg=%d compensation=%d", cfg.LegMaxAttempts, cfg.CompensationMaxAttempts)
	}
	if cfg.RequestIDBucket != 10*time.Minute {
		t.Fatalf("expected 10m request ID bucket, got %s", cfg.RequestIDBucket)
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("expected rate limiting disabled by default, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadOverrides(t *testing.T) {
	setHTTPLedgers(t)
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_TIMEOUT", "45s")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LEG_MAX_ATTEMPTS", "4")
	t.Setenv("OUTBOX_PUBLISHER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected custom database URL, got %s", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}
	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}
	if cfg.DatabaseTimeout != 45*time.Second {
		t.Fatalf("expected database timeout override, got %s", cfg.DatabaseTimeout)
	}
	if cfg.LockBackend != config.LockBackendRedis || cfg.LegMaxAttempts != 4 {
		t.Fatalf("expected saga overrides, got lock=%s attempts=%d", cfg.LockBackend, cfg.LegMaxAttempts)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("expected two kafka brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setHTTPLedgers(t)
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoadRequiresLedgerURLsInHTTPMode(t *testing.T) {
	t.Setenv("BANK_LEDGER_URL", "")
	t.Setenv("BROKERAGE_LEDGER_URL", "")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error without ledger URLs")
	}
}

func TestLoadRejectsUnknownModes(t *testing.T) {
	cases := map[string]string{
		"LEDGER_MODE":      "carrier-pigeon",
		"LOCK_BACKEND":     "zookeeper",
		"OUTBOX_PUBLISHER": "smtp",
		"DEFAULT_CURRENCY": "DOLLARS",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setHTTPLedgers(t)
			t.Setenv(key, value)
			if _, err := config.Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestKafkaPublisherNeedsBrokers(t *testing.T) {
	setHTTPLedgers(t)
	t.Setenv("OUTBOX_PUBLISHER", "kafka")
	t.Setenv("KAFKA_BROKERS", "")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error without kafka brokers")
	}
}

func TestSandboxSeeds(t *testing.T) {
	t.Setenv("LEDGER_MODE", "sandbox")
	t.Setenv("SANDBOX_ACCOUNTS", "ada@example.com=500/50, grace@example.com=0/1200.50")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	seeds, err := cfg.SandboxSeeds()
	if err != nil {
		t.Fatalf("unexpected error parsing seeds: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected two seeds, got %d", len(seeds))
	}
	if seeds[1].Identity != "grace@example.com" || seeds[1].Brokerage.String() != "1200.5" {
		t.Fatalf("unexpected seed %+v", seeds[1])
	}
}

func TestSandboxSeedsRejectsMalformedEntry(t *testing.T) {
	t.Setenv("LEDGER_MODE", "sandbox")
	t.Setenv("SANDBOX_ACCOUNTS", "ada@example.com=500")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for malformed sandbox entry")
	}
}
