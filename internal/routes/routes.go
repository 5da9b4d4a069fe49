package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/novoin/novoin_wallet/internal/config"
	"github.com/novoin/novoin_wallet/internal/currency"
	"github.com/novoin/novoin_wallet/internal/ledger"
	"github.com/novoin/novoin_wallet/internal/metrics"
	"github.com/novoin/novoin_wallet/internal/middleware"
	"github.com/novoin/novoin_wallet/internal/notification"
	"github.com/novoin/novoin_wallet/internal/reconcile"
	"github.com/novoin/novoin_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Wiring is what Setup built that outlives route registration.
type Wiring struct {
	Wallet *wallet.Service
	// Worker is nil when Redis is not configured.
	Worker *reconcile.Worker
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (Wiring, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return Wiring{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Wiring{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics())

	// Services
	store, err := buildStore(d)
	if err != nil {
		return Wiring{}, err
	}
	rules, err := currency.NewRules(currency.Rupiah(d.Cfg.ExchangeRate))
	if err != nil {
		return Wiring{}, err
	}
	catalog, err := buildCatalog(d.Cfg)
	if err != nil {
		return Wiring{}, err
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(store, rules, catalog,
		wallet.WithStoreTimeout(d.Cfg.StoreTimeout),
		wallet.WithLogger(d.Logger),
		wallet.WithNotifier(notifier),
	)

	var worker *reconcile.Worker
	if d.Cache != nil {
		var source reconcile.Source
		if d.Cfg.ProviderURL != "" {
			source = reconcile.NewHTTPSource(d.Cfg.ProviderURL, d.Cfg.ProviderToken, 10*time.Second)
		}
		worker = reconcile.NewWorker(reconcile.NewQueue(d.Cache), source, walletSvc, reconcile.Config{
			Interval:      d.Cfg.Reconcile.Interval,
			MaxAttempts:   d.Cfg.Reconcile.MaxAttempts,
			BaseBackoff:   d.Cfg.Reconcile.BaseBackoff,
			MaxBackoff:    d.Cfg.Reconcile.MaxBackoff,
			RatePerSecond: d.Cfg.Reconcile.RatePerSecond,
		}, d.Logger, notifier)
	}

	// Health and metrics
	RegisterHealthRoutes(app, d, worker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	walletHandler := wallet.NewHandler(walletSvc)
	RegisterCatalogRoutes(api, walletHandler)
	RegisterWalletRoutes(api, walletHandler, d)
	RegisterWalletMeRoute(api, walletSvc, d.Cfg.AccountTokenSecret)
	RegisterInternalWalletRoutes(api, walletHandler, d.Cfg.ServiceToken)
	if worker != nil {
		RegisterReconcileRoutes(api, worker, d)
	}

	return Wiring{Wallet: walletSvc, Worker: worker}, nil
}

func buildStore(d Deps) (ledger.Store, error) {
	if d.DB == nil {
		return ledger.NewInMemory(), nil
	}
	store := ledger.NewPostgresStore(d.DB)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return store, nil
}

func buildCatalog(cfg config.Config) (*currency.Catalog, error) {
	if cfg.CatalogFile != "" {
		return currency.LoadCatalog(cfg.CatalogFile)
	}
	return currency.DefaultCatalog()
}
