// Package httpapi exposes the race service over REST (gin) and a per-contest
// WebSocket endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/park285/typerace/internal/broadcast"
	"github.com/park285/typerace/internal/msgcat"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/race"
	"go.uber.org/zap"
)

type Config struct {
	MinCapacity int
	MaxCapacity int
	// OriginPatterns is passed to the socket handshake; an empty list only
	// admits same-origin browsers and non-browser clients.
	OriginPatterns []string
	// SendQueue is the per-socket outbound buffer in frames.
	SendQueue    int
	WriteTimeout time.Duration
	// Health reports backend readiness for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	svc  *race.Service
	hub  *broadcast.Hub
	msgs *msgcat.Catalog
	cfg  Config
}

func NewServer(svc *race.Service, hub *broadcast.Hub, msgs *msgcat.Catalog, cfg Config) *Server {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MinCapacity <= 0 {
		cfg.MinCapacity = 2
	}
	if cfg.MaxCapacity < cfg.MinCapacity {
		cfg.MaxCapacity = 15
	}
	return &Server{svc: svc, hub: hub, msgs: msgs, cfg: cfg}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.healthz)

	api := r.Group("/api", s.identity())
	api.POST("/contests", s.createContest)
	api.GET("/contests", s.listContests)
	api.GET("/contests/:id", s.getContest)
	api.POST("/contests/:id/join", s.joinContest)
	api.POST("/contests/:id/leave", s.leaveContest)

	r.GET("/ws/contests/:id", s.identity(), s.socket)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			obslog.L().Warn("http_request", fields...)
			return
		}
		obslog.L().Debug("http_request", fields...)
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
