// Package race coordinates live typing contests: presence, readiness quorum,
// the countdown, progress fan-out, finish ranking and completion.
//
// Handlers for different participants run concurrently without any
// per-room lock. Shared state lives in roomstate (Redis atomic primitives) and
// lifecycle transitions are compare-and-set updates on the durable store, so
// two racing handlers can never both start a countdown or finish a contest.
//
// Progress updates of a single participant are assumed to arrive one at a
// time: the socket read loop handles a connection's frames sequentially, and
// last-write-wins is only meaningful under that assumption.
package race

import (
	"context"
	"sync"
	"time"

	"github.com/park285/typerace/internal/broadcast"
	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/roomstate"
)

// ExerciseSource resolves exercise text; nil, nil means not found.
type ExerciseSource interface {
	GetExercise(ctx context.Context, id int64) (*contest.Exercise, error)
}

// Player is a caller whose identity was resolved upstream.
type Player struct {
	ID   int64
	Name string
}

type Config struct {
	CountdownSeconds int
	CountdownTick    time.Duration
	MinCapacity      int
	MaxCapacity      int
	DefaultPageSize  int
	MaxPageSize      int
	// PlaceholderName is shown on leaderboards when presence data is gone.
	PlaceholderName string
	// CleanupTimeout bounds background stale-room cleanup.
	CleanupTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CountdownSeconds: 5,
		CountdownTick:    time.Second,
		MinCapacity:      2,
		MaxCapacity:      15,
		DefaultPageSize:  20,
		MaxPageSize:      100,
		PlaceholderName:  "Unknown player",
		CleanupTimeout:   5 * time.Second,
	}
}

type Service struct {
	store     *roomstate.Store
	repo      contest.Repository
	exercises ExerciseSource
	pub       broadcast.Publisher
	cfg       Config

	// background work: countdowns and stale-room cleanup
	wg sync.WaitGroup
}

func NewService(store *roomstate.Store, repo contest.Repository, exercises ExerciseSource, pub broadcast.Publisher, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.CountdownSeconds < 0 {
		cfg.CountdownSeconds = def.CountdownSeconds
	}
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = def.CountdownTick
	}
	if cfg.MinCapacity <= 0 {
		cfg.MinCapacity = def.MinCapacity
	}
	if cfg.MaxCapacity < cfg.MinCapacity {
		cfg.MaxCapacity = def.MaxCapacity
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.PlaceholderName == "" {
		cfg.PlaceholderName = def.PlaceholderName
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}
	if exercises == nil {
		exercises = repo
	}
	return &Service{store: store, repo: repo, exercises: exercises, pub: pub, cfg: cfg}
}

// Wait blocks until running countdowns and cleanups return.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) publish(ctx context.Context, contestID int64, topic string, payload any) error {
	if s.pub == nil {
		return nil
	}
	return s.pub.Publish(ctx, contestID, topic, payload)
}
