package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/middleware"
	"github.com/novoin/novoin_wallet/internal/reconcile"
)

// RegisterReconcileRoutes wires the provider webhook and the operator endpoints.
func RegisterReconcileRoutes(r fiber.Router, worker *reconcile.Worker, d Deps) {
	webhook := reconcile.NewWebhookHandler(worker.Queue(), d.Cfg.WebhookSecret, d.Logger)
	r.Post("/webhooks/payments", webhook.Receive)

	h := reconcile.NewHandler(worker)
	events := r.Group("/internal/reconciliation/events", middleware.ServiceAuth(d.Cfg.ServiceToken))
	events.Get("/", h.List)
	events.Get("/:kind/:reference", h.Get)
	events.Post("/:kind/:reference/retry", h.Retry)
	events.Post("/:kind/:reference/abandon", h.Abandon)
}
