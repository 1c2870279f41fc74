package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://race@localhost/race?sslmode=disable")

	cfg, err := Load()
	if err != nil { t.Fatalf("Load: %v", err) }
	if cfg.ListenAddr != ":8080" { t.Fatalf("listen addr: %q", cfg.ListenAddr) }
	if cfg.RoomTTL() != 30*time.Minute { t.Fatalf("room ttl: %v", cfg.RoomTTL()) }
	if cfg.CountdownSec != 5 || cfg.CountdownTick() != time.Second { t.Fatalf("countdown: %d %v", cfg.CountdownSec, cfg.CountdownTick()) }
	if cfg.MinCapacity != 2 || cfg.MaxCapacity != 15 { t.Fatalf("capacity bounds: %d..%d", cfg.MinCapacity, cfg.MaxCapacity) }
	if cfg.StoreMode != StoreModePostgres { t.Fatalf("store mode: %q", cfg.StoreMode) }
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_MODE", "memory")
	t.Setenv("COUNTDOWN_SEC", "3")
	t.Setenv("COUNTDOWN_TICK_MS", "250")
	t.Setenv("ROOM_TTL_SEC", "not-a-number")
	t.Setenv("CONTENT_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil { t.Fatalf("Load: %v", err) }
	if cfg.CountdownSec != 3 || cfg.CountdownTick() != 250*time.Millisecond { t.Fatalf("countdown override ignored") }
	if cfg.RoomTTLSec != 1800 { t.Fatalf("invalid ttl should keep default, got %d", cfg.RoomTTLSec) }
	if cfg.ContentTimeout != 2*time.Second { t.Fatalf("content timeout: %v", cfg.ContentTimeout) }
}

func TestLoadRequiresStores(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil { t.Fatalf("expected error without REDIS_URL") }

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil { t.Fatalf("expected error without DATABASE_URL in postgres mode") }

	t.Setenv("STORE_MODE", "sqlite")
	if _, err := Load(); err == nil { t.Fatalf("expected error for unknown store mode") }
}
