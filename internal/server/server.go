package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app  *fiber.App
	deps *Components
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(c *Components) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      c.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	if err := routes.Setup(app, routes.Deps{
		Cfg:      c.Cfg,
		DB:       c.DB,
		Cache:    c.Cache,
		Logger:   c.Logger,
		Verifier: c.Verifier,
		Identity: c.Identity,
		Ledger:   c.Ledger,
		Inbox:    c.Inbox,
	}); err != nil {
		return nil, err
	}

	return &Server{app: app, deps: c}, nil
}

// App exposes the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.deps.Cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders fiber errors as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
