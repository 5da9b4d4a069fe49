package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/ledger"
	"github.com/novoin/novoin_wallet/internal/middleware"
	"github.com/novoin/novoin_wallet/internal/wallet"
)

// RegisterWalletMeRoute exposes the balance of the account named by the token.
func RegisterWalletMeRoute(r fiber.Router, wallets *wallet.Service, secret string) {
	r.Get("/me/balance", middleware.AccountAuth(secret), func(c *fiber.Ctx) error {
		accountID := middleware.AccountID(c)
		if accountID == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		bal, err := wallets.GetBalance(c.UserContext(), accountID)
		if err != nil {
			if errors.Is(err, ledger.ErrStoreUnavailable) {
				return fiber.NewError(http.StatusServiceUnavailable, err.Error())
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{
			"account_id":    bal.AccountID,
			"balance":       int64(bal.Amount),
			"last_sequence": bal.LastSequence,
			"as_of":         bal.AsOf,
		})
	})
}
