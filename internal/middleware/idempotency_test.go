package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/novoin/novoin_wallet/internal/logging"
)

type idemApp struct {
	app   *fiber.App
	calls int
	fail  bool
}

func setupTestApp(t *testing.T) (*idemApp, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ia := &idemApp{app: fiber.New()}
	logger := logging.Discard()
	ia.app.Use(Idempotency(cache, time.Minute, logger))
	ia.app.Post("/accounts/:accountId/debit", func(c *fiber.Ctx) error {
		ia.calls++
		if ia.fail {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store unavailable"})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account": c.Params("accountId"), "call": ia.calls})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return ia, cleanup
}

func debitRequest(path, key, body string) *http.Request {
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	return req
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string, string) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload), resp.Header.Get(replayedHeader)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	ia, cleanup := setupTestApp(t)
	defer cleanup()

	status, _, _ := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "", "{}"))
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	ia, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload, replayed := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "abc123", `{"amount":5}`))
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}
	if replayed != "" {
		t.Fatalf("first response marked as replay")
	}

	// Second request should return the cached response without invoking handler again.
	status2, cachedPayload, replayed2 := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "abc123", `{"amount":5}`))
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if replayed2 != "true" {
		t.Fatalf("expected replay header, got %q", replayed2)
	}
	if ia.calls != 1 {
		t.Fatalf("handler ran %d times", ia.calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	ia, cleanup := setupTestApp(t)
	defer cleanup()

	if status, _, _ := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "tok", `{"amount":5}`)); status != fiber.StatusCreated {
		t.Fatalf("first request status %d", status)
	}
	status, _, _ := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "tok", `{"amount":6}`))
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
}

func TestIdempotencyScopesKeysByPath(t *testing.T) {
	ia, cleanup := setupTestApp(t)
	defer cleanup()

	doRequest(t, ia.app, debitRequest("/accounts/a/debit", "shared", "{}"))
	status, payload, replayed := doRequest(t, ia.app, debitRequest("/accounts/b/debit", "shared", "{}"))
	if status != fiber.StatusCreated || replayed != "" {
		t.Fatalf("second account got replay: status=%d replayed=%q", status, replayed)
	}
	if !strings.Contains(payload, `"account":"b"`) {
		t.Fatalf("unexpected payload %s", payload)
	}
	if ia.calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", ia.calls)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	ia, cleanup := setupTestApp(t)
	defer cleanup()

	ia.fail = true
	if status, _, _ := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "retry-me", "{}")); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	ia.fail = false
	status, _, replayed := doRequest(t, ia.app, debitRequest("/accounts/a/debit", "retry-me", "{}"))
	if status != fiber.StatusCreated || replayed != "" {
		t.Fatalf("retry was not re-executed: status=%d replayed=%q", status, replayed)
	}
	if ia.calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", ia.calls)
	}
}
