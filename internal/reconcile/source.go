package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Source lists provider-confirmed events. Delivery is at-least-once; events
// may be listed again on later polls.
type Source interface {
	Pending(ctx context.Context) ([]PaymentEvent, error)
}

// HTTPSource polls the payment provider's confirmed-events endpoint.
type HTTPSource struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPSource builds a poller for baseURL. token is sent as a bearer token.
func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), token: token, timeout: timeout}
}

type pendingResponse struct {
	Events []PaymentEvent `json:"events"`
}

// Pending fetches the confirmed events the provider has on record.
func (s *HTTPSource) Pending(ctx context.Context) ([]PaymentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Get(s.baseURL + "/events?status=confirmed")
	agent.Timeout(timeout)
	if s.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+s.token)
	}

	var resp pendingResponse
	code, body, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return nil, fmt.Errorf("poll payment provider: %w", errors.Join(errs...))
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("poll payment provider: unexpected status %d: %s", code, truncate(body, 200))
	}
	return resp.Events, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
