// Package app wires configuration into a running race service.
package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/park285/typerace/internal/broadcast"
	"github.com/park285/typerace/internal/config"
	"github.com/park285/typerace/internal/contentapi"
	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/httpapi"
	"github.com/park285/typerace/internal/msgcat"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/race"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// message keys the HTTP layer renders
var requiredMessages = []string{
	"error.not_found",
	"error.room_expired",
	"error.room_full",
	"error.already_started",
	"error.not_participant",
	"error.not_in_progress",
	"error.exercise_not_found",
	"error.invalid_capacity",
	"error.invalid_argument",
	"error.unauthenticated",
	"error.bad_message",
	"error.internal",
}

// exercises served in memory mode when no content service is configured
var devExercises = []contest.Exercise{
	{ID: 1, Text: "The quick brown fox jumps over the lazy dog.", Language: "en"},
	{ID: 2, Text: "Pack my box with five dozen liquor jugs.", Language: "en"},
	{ID: 3, Text: "Sphinx of black quartz, judge my vow.", Language: "en"},
}

type Deps struct {
	Redis     *redis.Client
	DB        *sql.DB
	Store     *roomstate.Store
	Repo      contest.Repository
	Exercises race.ExerciseSource
	Hub       *broadcast.Hub
	Service   *race.Service
	Messages  *msgcat.Catalog
	Server    *httpapi.Server
}

// New connects the backends and builds the service graph. The hub is started
// with ctx; Close releases everything New opened.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if err := msgs.Require(requiredMessages...); err != nil {
		return nil, err
	}
	d.Messages = msgs

	opts, err := ParseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(opts)
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	d.Store = roomstate.NewStore(d.Redis, cfg.RoomTTL())

	switch cfg.StoreMode {
	case config.StoreModeMemory:
		mem := contest.NewMemoryRepository()
		for _, ex := range devExercises {
			mem.PutExercise(ex)
		}
		d.Repo = mem
		obslog.L().Warn("memory_store_enabled")
	default:
		db, err := contest.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.DB = db
		if err := contest.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		d.Repo = contest.NewRepository(db)
	}

	d.Exercises = d.Repo
	if strings.TrimSpace(cfg.ContentBaseURL) != "" {
		d.Exercises = contentapi.NewClient(cfg.ContentBaseURL, contentapi.WithTimeout(cfg.ContentTimeout))
		obslog.L().Info("content_api_enabled", zap.String("base_url", cfg.ContentBaseURL))
	}

	d.Hub = broadcast.NewHub(d.Redis)
	if err := d.Hub.Start(ctx); err != nil {
		return nil, fmt.Errorf("start hub: %w", err)
	}

	d.Service = race.NewService(d.Store, d.Repo, d.Exercises, broadcast.NewRedisPublisher(d.Redis), race.Config{
		CountdownSeconds: cfg.CountdownSec,
		CountdownTick:    cfg.CountdownTick(),
		MinCapacity:      cfg.MinCapacity,
		MaxCapacity:      cfg.MaxCapacity,
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
	})
	d.Server = httpapi.NewServer(d.Service, d.Hub, msgs, httpapi.Config{
		MinCapacity: cfg.MinCapacity,
		MaxCapacity: cfg.MaxCapacity,
		Health:      d.health,
	})

	ok = true
	return d, nil
}

func (d *Deps) health(ctx context.Context) error {
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return err
	}
	if d.DB != nil {
		return d.DB.PingContext(ctx)
	}
	return nil
}

// Close waits for background race work, then closes connections.
func (d *Deps) Close() error {
	if d.Service != nil {
		d.Service.Wait()
	}
	var errs []error
	if d.Hub != nil {
		errs = append(errs, d.Hub.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional
// password and database number path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid port %q", port)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid database %q", p)
		}
		db = n
	}
	opts := &redis.Options{Addr: net.JoinHostPort(host, port), DB: db}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
