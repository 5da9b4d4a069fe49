package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/novoin/novoin_wallet/internal/config"
	"github.com/novoin/novoin_wallet/internal/reconcile"
	"github.com/novoin/novoin_wallet/internal/routes"
)

// Server wraps the Fiber application, the reconciliation worker and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	logger *slog.Logger
	worker *reconcile.Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	wiring, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, logger: logger, worker: wiring.Worker}, nil
}

// App exposes the Fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the reconciliation worker, if any, and then the HTTP server.
func (s *Server) Listen() error {
	if s.worker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("reconciliation worker started")
			if err := s.worker.Run(ctx); err != nil {
				s.logger.Error("reconciliation worker stopped", slog.Any("error", err))
			}
		}()
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for the worker to finish its
// current event. Events interrupted mid-flight are retried on the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("reconciliation worker did not stop before shutdown deadline")
	}
	return err
}
