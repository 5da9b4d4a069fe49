package reconcile

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes reconciliation status and operator actions.
type Handler struct {
	worker *Worker
}

// NewHandler constructs a reconciliation HTTP handler.
func NewHandler(worker *Worker) *Handler {
	return &Handler{worker: worker}
}

type recordResponse struct {
	Reference    string    `json:"reference"`
	Kind         string    `json:"kind"`
	AccountID    string    `json:"account_id"`
	AmountRupiah int64     `json:"amount_rupiah,omitempty"`
	PackageID    string    `json:"package_id,omitempty"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	NextAttempt  time.Time `json:"next_attempt"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// List returns events filtered by ?status= (default stalled).
func (h *Handler) List(c *fiber.Ctx) error {
	status := Status(c.Query("status", string(StatusStalled)))
	if !status.Valid() {
		return fiber.NewError(http.StatusBadRequest, "unknown status")
	}
	records, err := h.worker.Queue().List(c.UserContext(), status)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toResponse(r))
	}
	counts, err := h.worker.Queue().Counts(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status": status,
		"events": out,
		"counts": counts,
	})
}

// Get returns a single event by kind and reference.
func (h *Handler) Get(c *fiber.Ctx) error {
	rec, err := h.worker.Queue().Get(c.UserContext(), EventKind(c.Params("kind")), c.Params("reference"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(rec))
}

// Retry requeues a stalled or rejected event.
func (h *Handler) Retry(c *fiber.Ctx) error {
	rec, err := h.worker.Retry(c.UserContext(), EventKind(c.Params("kind")), c.Params("reference"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(rec))
}

// Abandon gives up on an unapplied event.
func (h *Handler) Abandon(c *fiber.Ctx) error {
	rec, err := h.worker.Abandon(c.UserContext(), EventKind(c.Params("kind")), c.Params("reference"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(rec))
}

func toResponse(r Record) recordResponse {
	return recordResponse{
		Reference:    r.Event.Reference,
		Kind:         string(r.Event.Kind),
		AccountID:    r.Event.AccountID,
		AmountRupiah: r.Event.AmountRupiah,
		PackageID:    r.Event.PackageID,
		Status:       string(r.Status),
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		NextAttempt:  r.NextAttempt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
}
