package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradefin/walletledger/internal/config"
	"github.com/tradefin/walletledger/internal/infra"
	"github.com/tradefin/walletledger/internal/logging"
	"github.com/tradefin/walletledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Service: cfg.AppName,
		Env:     cfg.AppEnv,
		Text:    cfg.LogFormat == "text",
	})

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PostgresOptions{
			MaxConns:        int32(cfg.DBMaxConns),
			ApplicationName: cfg.AppName,
		})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, idempotency cache and rate limiting disabled")
	}

	components, err := server.Build(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build components", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(components)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	stream := server.NewStream(components)

	srvErrCh := make(chan error, 2)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	go func() {
		srvErrCh <- stream.Listen()
	}()
	logger.Info("listening", "api", cfg.Address(), "stream", cfg.StreamAddress(), "env", cfg.AppEnv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}
	if err := stream.Shutdown(shutdownCtx); err != nil {
		logger.Error("stream shutdown error", "error", err)
		exitCode = 1
	}
	if err := components.Dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}

	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
	logger.Info("server exited cleanly")
}
