package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradefin/walletledger/internal/auth"
	"github.com/tradefin/walletledger/internal/config"
	"github.com/tradefin/walletledger/internal/identity"
	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/middleware"
	"github.com/tradefin/walletledger/internal/notification"
	"github.com/tradefin/walletledger/internal/payments"
	"github.com/tradefin/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Verifier *auth.Verifier
	Identity *identity.Service
	Ledger   *ledger.Service
	Inbox    notification.Inbox
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	identityHandler := identity.NewHandler(d.Identity)

	// Public routes
	RegisterIdentityRoutes(api, identityHandler)

	// Protected routes
	protected := api.Group("",
		middleware.JWTAuth(d.Verifier, d.Identity),
		middleware.WriteRateLimit(d.Cache, d.Cfg.WriteRateLimit, d.Logger),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	RegisterProfileRoutes(protected, identityHandler)
	RegisterWalletRoutes(protected, wallet.NewHandler(d.Ledger))
	RegisterPaymentRoutes(protected, payments.NewHandler(d.Ledger))
	if d.Inbox != nil {
		RegisterNotificationRoutes(protected, notification.NewHandler(d.Inbox))
	}

	return nil
}
