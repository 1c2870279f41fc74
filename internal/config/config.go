package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store modes.
const (
	StoreModePostgres = "postgres"
	StoreModeMemory   = "memory"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// StoreMode selects the durable store: "postgres" or "memory" (local development).
	StoreMode string

	ContentBaseURL string
	ContentTimeout time.Duration

	MessagesDir string

	RoomTTLSec        int
	CountdownSec      int
	CountdownTickMS   int
	MinCapacity       int
	MaxCapacity       int
	DefaultPageSize   int
	MaxPageSize       int
	ShutdownTimeoutMS int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8080",
		StoreMode:         StoreModePostgres,
		ContentTimeout:    5 * time.Second,
		RoomTTLSec:        1800,
		CountdownSec:      5,
		CountdownTickMS:   1000,
		MinCapacity:       2,
		MaxCapacity:       15,
		DefaultPageSize:   20,
		MaxPageSize:       100,
		ShutdownTimeoutMS: 10000,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_MODE"))); v != "" {
		cfg.StoreMode = v
	}

	cfg.ContentBaseURL = strings.TrimSpace(os.Getenv("CONTENT_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("CONTENT_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ContentTimeout = d
		}
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	positiveInt("ROOM_TTL_SEC", &cfg.RoomTTLSec)
	positiveInt("COUNTDOWN_SEC", &cfg.CountdownSec)
	positiveInt("COUNTDOWN_TICK_MS", &cfg.CountdownTickMS)
	positiveInt("DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize)
	positiveInt("MAX_PAGE_SIZE", &cfg.MaxPageSize)
	positiveInt("SHUTDOWN_TIMEOUT_MS", &cfg.ShutdownTimeoutMS)

	if cfg.StoreMode != StoreModePostgres && cfg.StoreMode != StoreModeMemory {
		return nil, errors.New("STORE_MODE must be postgres or memory")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StoreMode == StoreModePostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}

	return cfg, nil
}

func (c *AppConfig) RoomTTL() time.Duration { return time.Duration(c.RoomTTLSec) * time.Second }

func (c *AppConfig) CountdownTick() time.Duration {
	return time.Duration(c.CountdownTickMS) * time.Millisecond
}

func (c *AppConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

func positiveInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
