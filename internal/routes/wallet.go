package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/middleware"
	"github.com/novoin/novoin_wallet/internal/wallet"
)

// RegisterCatalogRoutes exposes the public package catalog.
func RegisterCatalogRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/catalog", h.Catalog)
}

// RegisterWalletRoutes wires the account-facing wallet endpoints. Callers
// present an account token whose subject matches :accountId.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, d Deps) {
	accounts := r.Group("/accounts/:accountId", middleware.AccountAuth(d.Cfg.AccountTokenSecret))
	accounts.Get("/balance", h.Balance)
	accounts.Get("/entries", h.Entries)

	debit := []fiber.Handler{middleware.DebitRateLimit(d.Cache, d.Cfg.DebitRatePerMinute, d.Logger)}
	if d.Cache != nil {
		debit = append(debit, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	debit = append(debit, h.Debit)
	accounts.Post("/debit", debit...)
}

// RegisterInternalWalletRoutes wires provider-facing credit endpoints used by
// trusted services. They take the provider reference in the body.
func RegisterInternalWalletRoutes(r fiber.Router, h *wallet.Handler, serviceToken string) {
	internal := r.Group("/internal/accounts/:accountId", middleware.ServiceAuth(serviceToken))
	internal.Post("/credit", h.Credit)
	internal.Post("/purchase", h.Purchase)
	internal.Post("/refund", h.Refund)
}
