package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/novoin/novoin_wallet/internal/currency"
	"github.com/novoin/novoin_wallet/internal/ledger"
	"github.com/novoin/novoin_wallet/internal/logging"
	"github.com/novoin/novoin_wallet/internal/metrics"
	"github.com/novoin/novoin_wallet/internal/notification"
)

const defaultStoreTimeout = 5 * time.Second

var (
	// ErrMissingAccount is returned when no account id is supplied.
	ErrMissingAccount = errors.New("account id is required")
	// ErrMissingExternalReference is returned for credits and refunds without a provider reference.
	ErrMissingExternalReference = errors.New("external reference is required")
	// ErrMissingIdempotencyToken is returned for debits without a caller token.
	ErrMissingIdempotencyToken = errors.New("idempotency token is required")
	// ErrIdempotencyTokenReused is returned when a debit token is replayed with a different amount.
	ErrIdempotencyTokenReused = errors.New("idempotency token reused with different amount")
)

// Service exposes wallet operations backed by the ledger store. Serialization
// per account is enforced by the store's Append.
type Service struct {
	store    ledger.Store
	rules    currency.Rules
	catalog  *currency.Catalog
	timeout  time.Duration
	logger   *slog.Logger
	notifier notification.Notifier
}

// Option customises a Service.
type Option func(*Service)

// WithStoreTimeout bounds every ledger call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets the notifier used for applied purchases.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, rules currency.Rules, catalog *currency.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   store,
		rules:   rules,
		catalog: catalog,
		timeout: defaultStoreTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the injected package catalog.
func (s *Service) Catalog() *currency.Catalog {
	return s.catalog
}

// Rules returns the conversion rules in use.
func (s *Service) Rules() currency.Rules {
	return s.rules
}

// GetBalance returns the current balance, creating the account on first access.
func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, ErrMissingAccount
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct, err := s.store.EnsureAccount(ctx, accountID)
	if err != nil {
		return Balance{}, unavailable(err)
	}
	return Balance{
		AccountID:    acct.ID,
		Amount:       currency.Novoin(acct.Balance),
		LastSequence: acct.LastSequence,
		AsOf:         time.Now().UTC(),
	}, nil
}

// Entries returns the account's ledger entries after the given sequence.
func (s *Service) Entries(ctx context.Context, accountID string, afterSeq int64, limit int) ([]ledger.Entry, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.store.EntriesSince(ctx, accountID, afterSeq, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// Credit converts a provider-confirmed payment to Novoin and appends a
// purchase credit. A reference that was already applied is a successful replay.
func (s *Service) Credit(ctx context.Context, in CreditInput) (res Result, err error) {
	defer observe("credit", time.Now(), &res, &err)

	if in.AccountID == "" {
		return Result{}, ErrMissingAccount
	}
	if in.ExternalRef == "" {
		return Result{}, ErrMissingExternalReference
	}
	if in.AmountRupiah <= 0 {
		return Result{}, fmt.Errorf("credit amount must be positive: %w", currency.ErrInvalidAmount)
	}
	coins, err := s.rules.RupiahToNovoin(in.AmountRupiah)
	if err != nil {
		return Result{}, err
	}

	res, err = s.append(ctx, ledger.Posting{
		AccountID:   in.AccountID,
		Delta:       int64(coins),
		Kind:        ledger.KindPurchaseCredit,
		ExternalRef: in.ExternalRef,
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Replayed {
		s.logger.Info("wallet.credit applied",
			slog.String("account_id", in.AccountID),
			slog.String("external_ref", in.ExternalRef),
			slog.Int64("novoin", int64(coins)),
			slog.Int64("sequence", res.Sequence),
		)
		s.notify(ctx, in.AccountID, fmt.Sprintf("%s credited for payment %s", currency.FormatNovoin(coins), in.ExternalRef))
	}
	return res, nil
}

// PurchasePackage credits a catalog package and its bonus coins. Both appends
// are idempotent on the reference, so retrying after a partial failure converges.
func (s *Service) PurchasePackage(ctx context.Context, in PackageInput) (res PurchaseResult, err error) {
	start := time.Now()
	defer func() {
		metrics.WalletOperationDuration.WithLabelValues("purchase").Observe(time.Since(start).Seconds())
		metrics.WalletOperationsTotal.WithLabelValues("purchase", outcome(res.Replayed, err)).Inc()
	}()

	if in.AccountID == "" {
		return PurchaseResult{}, ErrMissingAccount
	}
	if in.ExternalRef == "" {
		return PurchaseResult{}, ErrMissingExternalReference
	}
	pkg, err := s.packageFor(in.PackageID, in.AmountRupiah)
	if err != nil {
		return PurchaseResult{}, err
	}

	credit, err := s.append(ctx, ledger.Posting{
		AccountID:   in.AccountID,
		Delta:       int64(pkg.Coins),
		Kind:        ledger.KindPurchaseCredit,
		ExternalRef: in.ExternalRef,
		Memo:        pkg.ID,
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	res = PurchaseResult{
		AccountID: in.AccountID,
		PackageID: pkg.ID,
		Coins:     pkg.Coins,
		Bonus:     pkg.Bonus,
		Balance:   credit.Balance,
		Replayed:  credit.Replayed,
		AppliedAt: credit.AppliedAt,
	}

	if pkg.Bonus > 0 {
		bonus, err := s.append(ctx, ledger.Posting{
			AccountID:   in.AccountID,
			Delta:       int64(pkg.Bonus),
			Kind:        ledger.KindBonusCredit,
			ExternalRef: in.ExternalRef,
			Memo:        pkg.ID,
		})
		if err != nil {
			return PurchaseResult{}, err
		}
		res.Balance = bonus.Balance
		res.Replayed = res.Replayed && bonus.Replayed
		res.AppliedAt = bonus.AppliedAt
	}

	if !res.Replayed {
		s.logger.Info("wallet.purchase applied",
			slog.String("account_id", in.AccountID),
			slog.String("package_id", pkg.ID),
			slog.String("external_ref", in.ExternalRef),
		)
		s.notify(ctx, in.AccountID, fmt.Sprintf("%s credited for %s", currency.FormatNovoin(pkg.TotalCoins()), pkg.ID))
	}
	return res, nil
}

// Debit spends Novoin. The balance check and the append are one atomic store
// operation, so concurrent debits can never overdraw the account.
func (s *Service) Debit(ctx context.Context, in DebitInput) (res Result, err error) {
	defer observe("debit", time.Now(), &res, &err)

	if in.AccountID == "" {
		return Result{}, ErrMissingAccount
	}
	if in.Amount <= 0 {
		return Result{}, fmt.Errorf("debit amount must be positive: %w", currency.ErrInvalidAmount)
	}
	if in.IdempotencyToken == "" {
		return Result{}, ErrMissingIdempotencyToken
	}

	res, err = s.append(ctx, ledger.Posting{
		AccountID:   in.AccountID,
		Delta:       -int64(in.Amount),
		Kind:        ledger.KindSpendDebit,
		ExternalRef: in.IdempotencyToken,
		Memo:        in.Reason,
	})
	if err != nil {
		return Result{}, err
	}
	if res.Replayed && res.Amount != in.Amount {
		return Result{}, ErrIdempotencyTokenReused
	}
	return res, nil
}

// Refund removes the Novoin granted by a charged-back payment. Refund
// references live in their own namespace, so the original payment reference
// may be reused here.
func (s *Service) Refund(ctx context.Context, in RefundInput) (res Result, err error) {
	defer observe("refund", time.Now(), &res, &err)

	if in.AccountID == "" {
		return Result{}, ErrMissingAccount
	}
	if in.ExternalRef == "" {
		return Result{}, ErrMissingExternalReference
	}
	if in.AmountRupiah <= 0 {
		return Result{}, fmt.Errorf("refund amount must be positive: %w", currency.ErrInvalidAmount)
	}
	var (
		coins currency.Novoin
		memo  string
	)
	if in.PackageID != "" {
		pkg, err := s.packageFor(in.PackageID, in.AmountRupiah)
		if err != nil {
			return Result{}, err
		}
		coins, memo = pkg.TotalCoins(), pkg.ID
	} else if coins, err = s.rules.RupiahToNovoin(in.AmountRupiah); err != nil {
		return Result{}, err
	}

	res, err = s.append(ctx, ledger.Posting{
		AccountID:   in.AccountID,
		Delta:       -int64(coins),
		Kind:        ledger.KindRefundDebit,
		ExternalRef: in.ExternalRef,
		Memo:        memo,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.logger.Warn("wallet.refund exceeds balance",
				slog.String("account_id", in.AccountID),
				slog.String("external_ref", in.ExternalRef),
				slog.Int64("novoin", int64(coins)),
			)
		}
		return Result{}, err
	}
	return res, nil
}

// packageFor looks up a package and checks the provider collected its exact price.
func (s *Service) packageFor(id string, paid currency.Rupiah) (currency.Package, error) {
	pkg, err := s.catalog.Lookup(id)
	if err != nil {
		return currency.Package{}, err
	}
	if paid != pkg.Price {
		return currency.Package{}, fmt.Errorf("package %s costs %s, payment was %s: %w",
			pkg.ID, currency.FormatRupiah(pkg.Price), currency.FormatRupiah(paid), currency.ErrInvalidAmount)
	}
	return pkg, nil
}

// append writes one posting under the store timeout and folds duplicate
// references into a replayed result carrying the current balance.
func (s *Service) append(ctx context.Context, p ledger.Posting) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.store.Append(ctx, p)
	switch {
	case err == nil:
		metrics.NovoinMovedTotal.WithLabelValues(string(p.Kind)).Add(float64(abs(p.Delta)))
		return toResult(entry, currency.Novoin(entry.BalanceAfter), false), nil
	case errors.Is(err, ledger.ErrDuplicateExternalReference):
		balance, balErr := s.store.Balance(ctx, p.AccountID)
		if balErr != nil {
			return Result{}, unavailable(balErr)
		}
		s.logger.Debug("wallet.append replayed",
			slog.String("account_id", p.AccountID),
			slog.String("kind", string(p.Kind)),
			slog.String("external_ref", p.ExternalRef),
		)
		return toResult(entry, currency.Novoin(balance), true), nil
	default:
		return Result{}, unavailable(err)
	}
}

func (s *Service) notify(ctx context.Context, accountID, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindPurchaseApplied,
		Destination: accountID,
		Body:        body,
	}); err != nil {
		s.logger.Warn("notification failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
}

func toResult(e ledger.Entry, balance currency.Novoin, replayed bool) Result {
	return Result{
		AccountID: e.AccountID,
		EntryID:   e.ID,
		Sequence:  e.Sequence,
		Amount:    currency.Novoin(abs(e.Delta)),
		Balance:   balance,
		Replayed:  replayed,
		AppliedAt: e.CreatedAt,
	}
}

// unavailable maps context deadlines that escaped the store to ErrStoreUnavailable.
func unavailable(err error) error {
	if errors.Is(err, ledger.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}
	return err
}

func observe(op string, start time.Time, res *Result, err *error) {
	metrics.WalletOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.WalletOperationsTotal.WithLabelValues(op, outcome(res.Replayed, *err)).Inc()
}

func outcome(replayed bool, err error) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
