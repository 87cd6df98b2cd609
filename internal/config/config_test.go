package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "STORE_DRIVER", "REDIS_URL", "GRANT_CACHE_TTL_SECONDS", "MEILI_URL"} {
		t.Setenv(key, "")
	}

	cfg := fromEnv()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr :8787, got %q", cfg.Addr)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected redis disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.GrantCacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m grant cache ttl, got %s", cfg.GrantCacheTTL)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("GRANT_CACHE_TTL_SECONDS", "30")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg := fromEnv()
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.GrantCacheTTL != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %s", cfg.GrantCacheTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("unexpected redis url %q", cfg.RedisURL)
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("GRANT_CACHE_TTL_SECONDS", "soon")
	if got := getenvInt("GRANT_CACHE_TTL_SECONDS", 42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}
