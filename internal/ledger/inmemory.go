package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memAccount struct {
	acct    Account
	entries []Entry
}

type inMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount
	refs     map[string]Entry
	now      func() time.Time

	// fault injection for tests, see FailNext
	failures int
	failErr  error
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development. All writers are serialized by one lock, which is a
// stronger guarantee than per-account serialization.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts: make(map[string]*memAccount),
		refs:     make(map[string]Entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *inMemoryStore) injected() error {
	if s.failures > 0 {
		s.failures--
		return s.failErr
	}
	return nil
}

func (s *inMemoryStore) ensureLocked(accountID string) *memAccount {
	a, ok := s.accounts[accountID]
	if !ok {
		now := s.now()
		a = &memAccount{acct: Account{ID: accountID, CreatedAt: now, UpdatedAt: now}}
		s.accounts[accountID] = a
	}
	return a
}

func (s *inMemoryStore) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, storeErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return Account{}, err
	}
	return s.ensureLocked(accountID).acct, nil
}

func (s *inMemoryStore) Account(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, storeErr(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a.acct, nil
}

func (s *inMemoryStore) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *inMemoryStore) Append(ctx context.Context, p Posting) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, storeErr(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(); err != nil {
		return Entry{}, err
	}

	key := p.DedupeKey()
	if key != "" {
		if existing, ok := s.refs[key]; ok {
			if existing.AccountID != p.AccountID {
				return Entry{}, ErrExternalReferenceConflict
			}
			return existing, ErrDuplicateExternalReference
		}
	}

	a := s.ensureLocked(p.AccountID)
	balance := a.acct.Balance + p.Delta
	if balance < 0 {
		return Entry{}, ErrInsufficientBalance
	}

	now := s.now()
	entry := Entry{
		ID:           uuid.NewString(),
		AccountID:    p.AccountID,
		Sequence:     a.acct.LastSequence + 1,
		Delta:        p.Delta,
		Kind:         p.Kind,
		ExternalRef:  p.ExternalRef,
		Memo:         p.Memo,
		BalanceAfter: balance,
		CreatedAt:    now,
	}
	a.entries = append(a.entries, entry)
	a.acct.Balance = balance
	a.acct.LastSequence = entry.Sequence
	a.acct.UpdatedAt = now
	if key != "" {
		s.refs[key] = entry
	}
	return entry, nil
}

func (s *inMemoryStore) EntriesSince(ctx context.Context, accountID string, afterSeq int64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	// sequences are gap-free and start at 1, so entry n lives at index n-1
	start := int(afterSeq)
	if start >= len(a.entries) {
		return []Entry{}, nil
	}
	end := start + pageSize(limit)
	if end > len(a.entries) {
		end = len(a.entries)
	}
	return append([]Entry(nil), a.entries[start:end]...), nil
}
