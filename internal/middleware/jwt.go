package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/auth"
)

const accountIDLocal = "account_id"

// AccountAuth validates the bearer account token and requires its subject to
// match the :accountId route parameter.
func AccountAuth(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		tokenStr, ok := bearer(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		sub, err := auth.AccountFromToken(tokenStr, key, time.Now())
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return fiber.NewError(http.StatusUnauthorized, "token expired")
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if param := c.Params("accountId"); param != "" && param != sub {
			return fiber.NewError(http.StatusForbidden, "token does not grant access to this account")
		}

		c.Locals(accountIDLocal, sub)
		return c.Next()
	}
}

// ServiceAuth guards internal endpoints with a shared service token. An empty
// token disables the endpoints entirely.
func ServiceAuth(token string) fiber.Handler {
	want := []byte(token)
	return func(c *fiber.Ctx) error {
		if len(want) == 0 {
			return fiber.NewError(http.StatusForbidden, "internal endpoints disabled")
		}
		got, ok := bearer(c)
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid service token")
		}
		return c.Next()
	}
}

// AccountID returns the authenticated account set by AccountAuth.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(accountIDLocal).(string)
	return id
}

func bearer(c *fiber.Ctx) (string, bool) {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return tok, tok != ""
}
