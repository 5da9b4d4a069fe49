package reconcile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/auth"
)

const signatureHeader = "X-Signature"

// WebhookHandler accepts provider push notifications and queues them for the
// worker. Pushes and polls feed the same queue, so a payment delivered both
// ways is tracked once.
type WebhookHandler struct {
	queue  *Queue
	secret []byte
	logger *slog.Logger
}

// NewWebhookHandler builds the provider webhook endpoint.
func NewWebhookHandler(queue *Queue, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{queue: queue, secret: []byte(secret), logger: logger}
}

// Receive verifies the signature and tracks the event.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := c.Body()
	if !auth.VerifySignature(h.secret, body, c.Get(signatureHeader)) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var ev PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	added, err := h.queue.Track(c.UserContext(), ev, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("webhook enqueue failed", slog.String("reference", ev.Reference), slog.Any("error", err))
		return fiber.NewError(http.StatusServiceUnavailable, "queue unavailable")
	}
	if added {
		h.logger.Info("webhook event queued",
			slog.String("reference", ev.Reference),
			slog.String("kind", string(ev.normalized().Kind)),
			slog.String("account_id", ev.AccountID),
		)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"reference": ev.Reference,
		"queued":    added,
	})
}
