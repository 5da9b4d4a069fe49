package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientBalance occurs when a posting would drive the account balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateExternalReference indicates an entry with the same dedupe key
	// already exists. The existing entry is returned alongside it so callers can
	// treat the append as an idempotent replay.
	ErrDuplicateExternalReference = errors.New("duplicate external reference")

	// ErrExternalReferenceConflict indicates the reference is already bound to a
	// different account.
	ErrExternalReferenceConflict = errors.New("external reference belongs to another account")

	// ErrStoreUnavailable wraps transient storage faults. Safe to retry.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrAccountNotFound is returned for reads on accounts that were never created.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidPosting is returned for zero deltas, unknown kinds and similar.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrBalanceMismatch is reported by Verify when the cached balance drifts
	// from the sum of entries.
	ErrBalanceMismatch = errors.New("cached balance does not match entries")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindPurchaseCredit Kind = "purchase-credit"
	KindSpendDebit     Kind = "spend-debit"
	KindBonusCredit    Kind = "bonus-credit"
	KindRefundDebit    Kind = "refund-debit"
)

const (
	// DefaultPageSize is used by EntriesSince when limit is not positive.
	DefaultPageSize = 100
	// MaxPageSize caps EntriesSince pages.
	MaxPageSize = 1000
)

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchaseCredit, KindSpendDebit, KindBonusCredit, KindRefundDebit:
		return true
	}
	return false
}

// Credit reports whether entries of this kind must carry a positive delta.
func (k Kind) Credit() bool {
	return k == KindPurchaseCredit || k == KindBonusCredit
}

// Account is the cached balance projection of an account's entries.
type Account struct {
	ID           string
	Balance      int64
	LastSequence int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entry is an immutable balance-affecting record.
type Entry struct {
	ID           string
	AccountID    string
	Sequence     int64
	Delta        int64
	Kind         Kind
	ExternalRef  string
	Memo         string
	BalanceAfter int64
	CreatedAt    time.Time
}

// Posting is the input to Append.
type Posting struct {
	AccountID   string
	Delta       int64
	Kind        Kind
	ExternalRef string
	Memo        string
}

// DedupeKey returns the uniqueness key for the posting's external reference, or
// "" when the posting carries none. Purchase credits, bonus credits and refunds
// are provider-global and each kind has its own namespace. Spend tokens are
// client-chosen and therefore scoped to the account.
func (p Posting) DedupeKey() string {
	if p.ExternalRef == "" {
		return ""
	}
	if p.Kind == KindSpendDebit {
		return string(p.Kind) + ":" + p.AccountID + ":" + p.ExternalRef
	}
	return string(p.Kind) + ":" + p.ExternalRef
}

func (p Posting) validate() error {
	switch {
	case p.AccountID == "":
		return errors.Join(ErrInvalidPosting, errors.New("account id is required"))
	case !p.Kind.Valid():
		return errors.Join(ErrInvalidPosting, errors.New("unknown kind "+string(p.Kind)))
	case p.Delta == 0:
		return errors.Join(ErrInvalidPosting, errors.New("delta must be non-zero"))
	case p.Kind.Credit() && p.Delta < 0, !p.Kind.Credit() && p.Delta > 0:
		return errors.Join(ErrInvalidPosting, errors.New("delta sign does not match kind"))
	}
	return nil
}

// Store is the append-only ledger contract implemented by storage backends.
type Store interface {
	// EnsureAccount creates the account with a zero balance if it does not exist.
	EnsureAccount(ctx context.Context, accountID string) (Account, error)
	// Account returns the cached projection.
	Account(ctx context.Context, accountID string) (Account, error)
	// Balance returns the cached balance, which always equals the sum of deltas.
	Balance(ctx context.Context, accountID string) (int64, error)
	// Append validates and records a posting atomically with respect to the
	// account's balance. On a duplicate reference it returns the existing entry
	// and ErrDuplicateExternalReference.
	Append(ctx context.Context, p Posting) (Entry, error)
	// EntriesSince lists entries with sequence > afterSeq in increasing order.
	EntriesSince(ctx context.Context, accountID string, afterSeq int64, limit int) ([]Entry, error)
}

// Verify recomputes the account's balance from its entries and compares it to
// the cached value.
func Verify(ctx context.Context, s Store, accountID string) error {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}
	var (
		sum   int64
		after int64
		prev  int64
	)
	for {
		page, err := s.EntriesSince(ctx, accountID, after, MaxPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if e.Sequence != prev+1 {
				return errors.Join(ErrBalanceMismatch, errors.New("sequence gap"))
			}
			prev = e.Sequence
			sum += e.Delta
			if e.BalanceAfter != sum {
				return errors.Join(ErrBalanceMismatch, errors.New("running balance drift"))
			}
		}
		after = page[len(page)-1].Sequence
	}
	if sum != acct.Balance || prev != acct.LastSequence {
		return ErrBalanceMismatch
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
