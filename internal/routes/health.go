package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/reconcile"
)

// RegisterHealthRoutes adds liveness and readiness endpoints. Readiness
// reports each backend and the number of stalled reconciliation events;
// stalled events are surfaced but do not fail readiness.
func RegisterHealthRoutes(app *fiber.App, d Deps, worker *reconcile.Worker) {
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ledgerStatus := "memory"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		healthy := true
		if d.DB != nil {
			ledgerStatus = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				ledgerStatus = err.Error()
				healthy = false
			}
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
				healthy = false
			}
		}

		body := fiber.Map{
			"status":    fiber.Map{"ledger": ledgerStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if worker != nil && redisStatus == "ok" {
			if counts, err := worker.Queue().Counts(ctx); err == nil {
				body["reconciliation"] = fiber.Map{
					"pending": counts[reconcile.StatusPending],
					"stalled": counts[reconcile.StatusStalled],
				}
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(body)
	})
}
