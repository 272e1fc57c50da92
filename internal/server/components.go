package server

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/tradefin/walletledger/internal/auth"
	"github.com/tradefin/walletledger/internal/config"
	"github.com/tradefin/walletledger/internal/identity"
	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/logging"
	"github.com/tradefin/walletledger/internal/notification"
)

// Components is the service graph shared by the API and stream listeners.
type Components struct {
	Cfg        config.Config
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Verifier   *auth.Verifier
	Identity   *identity.Service
	Ledger     *ledger.Service
	Hub        *notification.Hub
	Inbox      notification.Inbox
	Dispatcher *notification.Dispatcher
}

// Build wires stores, services and notification sinks. Without a database the in-memory
// backends are used, which config only permits in development.
func Build(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Components, error) {
	if !cfg.IsDev() {
		if db == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", cfg.AppEnv)
		}
		if cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", cfg.AppEnv)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := notification.NewHub(verifier, logging.For(logger, "hub"))

	var (
		ledgerStore  ledger.Store
		identityRepo identity.Repository
		inbox        interface {
			notification.Notifier
			notification.Inbox
		}
	)
	if db != nil {
		ledgerStore = ledger.NewPostgresStore(db)
		identityRepo = identity.NewPostgresRepository(db)
		inbox = notification.NewPostgresStore(db)
	} else {
		ledgerStore = ledger.NewMemoryStore()
		identityRepo = identity.NewMemoryRepository()
		inbox = notification.NewMemoryStore()
	}

	dispatcher := notification.NewDispatcher(
		logging.For(logger, "notification"),
		cfg.NotifyWorkers,
		cfg.NotifyQueueSize,
		inbox,
		hub,
		notification.NewLoggerNotifier(logging.For(logger, "notification")),
	)

	directory := identity.NewService(identityRepo, nil)
	ledgerSvc := ledger.NewService(ledgerStore, directory, dispatcher,
		ledger.WithLogger(logging.For(logger, "ledger")),
		ledger.WithMetrics(ledger.NewPrometheusMetrics(registry)),
		ledger.WithDefaultCurrency(cfg.DefaultCurrency),
	)

	return &Components{
		Cfg:        cfg,
		DB:         db,
		Cache:      cache,
		Logger:     logger,
		Registry:   registry,
		Verifier:   verifier,
		Identity:   identity.NewService(identityRepo, ledgerSvc),
		Ledger:     ledgerSvc,
		Hub:        hub,
		Inbox:      inbox,
		Dispatcher: dispatcher,
	}, nil
}
