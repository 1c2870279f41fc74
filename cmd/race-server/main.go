package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/internal/app"
	appcfg "github.com/park285/typerace/internal/config"
	"github.com/park285/typerace/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		obslog.L().Fatal("config_error", zap.Error(err))
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.New(initCtx, cfg)
	cancel()
	if err != nil {
		obslog.L().Fatal("init_error", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           deps.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		obslog.L().Info("server_listening", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("server_shutdown_error", zap.Error(err))
	}
	if err := deps.Close(); err != nil {
		obslog.L().Warn("deps_close_error", zap.Error(err))
	}
	obslog.L().Info("shutdown_complete")
}
