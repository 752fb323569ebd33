package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobportal/identity/internal/auth"
	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/database"
	"github.com/jobportal/identity/internal/ratelimit"
	"github.com/jobportal/identity/internal/token"
	"github.com/jobportal/identity/internal/user"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("identity server exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	build := zap.NewProduction
	if cfg.IsDevelopment() {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("env", cfg.Env))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := database.OpenPostgres(startCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	rdb, err := database.OpenRedis(startCtx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()
	logger.Info("storage ready")

	svc, err := newAuthService(cfg, user.NewRepository(db), rdb, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, svc, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func newAuthService(cfg *config.Config, users auth.Users, rdb *redis.Client, logger *zap.Logger) (*auth.Service, error) {
	codec, err := token.NewCodec(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("token configuration: %w", err)
	}
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit.Window, cfg.RateLimit.MaxAttempts, cfg.RateLimit.LockoutDuration)
	return auth.NewService(users, codec, token.NewLedger(rdb), limiter, logger), nil
}
