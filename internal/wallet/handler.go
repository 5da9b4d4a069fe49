package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/novoin/novoin_wallet/internal/currency"
	"github.com/novoin/novoin_wallet/internal/ledger"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type creditRequest struct {
	AmountRupiah int64  `json:"amount_rupiah"`
	ExternalRef  string `json:"external_ref"`
}

type purchaseRequest struct {
	PackageID    string `json:"package_id"`
	AmountRupiah int64  `json:"amount_rupiah"`
	ExternalRef  string `json:"external_ref"`
}

type refundRequest struct {
	AmountRupiah int64  `json:"amount_rupiah"`
	PackageID    string `json:"package_id"`
	ExternalRef  string `json:"external_ref"`
}

type debitRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type resultResponse struct {
	AccountID string    `json:"account_id"`
	EntryID   string    `json:"entry_id"`
	Sequence  int64     `json:"sequence"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Replayed  bool      `json:"replayed"`
	AppliedAt time.Time `json:"applied_at"`
}

type entryResponse struct {
	ID           string    `json:"id"`
	Sequence     int64     `json:"sequence"`
	Delta        int64     `json:"delta"`
	Kind         string    `json:"kind"`
	ExternalRef  string    `json:"external_ref,omitempty"`
	Memo         string    `json:"memo,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type packageResponse struct {
	ID           string `json:"id"`
	Coins        int64  `json:"coins"`
	PriceRupiah  int64  `json:"price_rupiah"`
	BonusCoins   int64  `json:"bonus_coins"`
	IsPopular    bool   `json:"is_popular"`
	PriceDisplay string `json:"price_display"`
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.service.GetBalance(c.UserContext(), accountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":      balance.AccountID,
		"balance":         int64(balance.Amount),
		"balance_display": currency.FormatNovoin(balance.Amount),
		"last_sequence":   balance.LastSequence,
		"timestamp":       balance.AsOf,
	})
}

// Entries returns a page of ledger entries; pass ?after=<sequence> to resume.
func (h *Handler) Entries(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	after, err := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	if err != nil || after < 0 {
		return fiber.NewError(http.StatusBadRequest, "after must be a non-negative integer")
	}
	limit := c.QueryInt("limit", ledger.DefaultPageSize)

	entries, err := h.service.Entries(c.UserContext(), accountID, after, limit)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:           e.ID,
			Sequence:     e.Sequence,
			Delta:        e.Delta,
			Kind:         string(e.Kind),
			ExternalRef:  e.ExternalRef,
			Memo:         e.Memo,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].Sequence
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"entries":    out,
		"next_after": next,
	})
}

// Debit spends Novoin. The Idempotency-Key header doubles as the ledger token.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req debitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Debit(c.UserContext(), DebitInput{
		AccountID:        c.Params("accountId"),
		Amount:           currency.Novoin(req.Amount),
		Reason:           req.Reason,
		IdempotencyToken: c.Get(idempotencyKeyHeader),
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(statusFor(res.Replayed)).JSON(toResponse(res))
}

// Credit applies a provider-confirmed payment.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Credit(c.UserContext(), CreditInput{
		AccountID:    c.Params("accountId"),
		AmountRupiah: currency.Rupiah(req.AmountRupiah),
		ExternalRef:  req.ExternalRef,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(statusFor(res.Replayed)).JSON(toResponse(res))
}

// Purchase applies a provider-confirmed catalog package purchase.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.PurchasePackage(c.UserContext(), PackageInput{
		AccountID:    c.Params("accountId"),
		PackageID:    req.PackageID,
		AmountRupiah: currency.Rupiah(req.AmountRupiah),
		ExternalRef:  req.ExternalRef,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(statusFor(res.Replayed)).JSON(fiber.Map{
		"account_id": res.AccountID,
		"package_id": res.PackageID,
		"coins":      int64(res.Coins),
		"bonus":      int64(res.Bonus),
		"balance":    int64(res.Balance),
		"replayed":   res.Replayed,
		"applied_at": res.AppliedAt,
	})
}

// Refund applies a chargeback.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Refund(c.UserContext(), RefundInput{
		AccountID:    c.Params("accountId"),
		AmountRupiah: currency.Rupiah(req.AmountRupiah),
		PackageID:    req.PackageID,
		ExternalRef:  req.ExternalRef,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(statusFor(res.Replayed)).JSON(toResponse(res))
}

// Catalog lists the purchasable packages in display order.
func (h *Handler) Catalog(c *fiber.Ctx) error {
	pkgs := h.service.Catalog().Packages()
	out := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, packageResponse{
			ID:           p.ID,
			Coins:        int64(p.Coins),
			PriceRupiah:  int64(p.Price),
			BonusCoins:   int64(p.Bonus),
			IsPopular:    p.IsPopular,
			PriceDisplay: currency.FormatRupiah(p.Price),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"exchange_rate": int64(h.service.Rules().Rate),
		"packages":      out,
	})
}

func statusFor(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func toResponse(res Result) resultResponse {
	return resultResponse{
		AccountID: res.AccountID,
		EntryID:   res.EntryID,
		Sequence:  res.Sequence,
		Amount:    int64(res.Amount),
		Balance:   int64(res.Balance),
		Replayed:  res.Replayed,
		AppliedAt: res.AppliedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, currency.ErrUnknownPackage), errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidPosting),
		errors.Is(err, ErrMissingAccount),
		errors.Is(err, ErrMissingExternalReference),
		errors.Is(err, ErrMissingIdempotencyToken):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusConflict, "insufficient balance")
	case errors.Is(err, ledger.ErrExternalReferenceConflict), errors.Is(err, ErrIdempotencyTokenReused):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger store unavailable, retry later")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
