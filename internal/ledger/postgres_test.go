package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newPostgresStore connects to DATABASE_URL and skips the test when it is unset.
// Every test uses fresh account ids and references, so runs can share a database.
func newPostgresStore(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping postgres ledger tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s, uuid.NewString()[:8]
}

func TestPostgresStore_AppendAndDuplicate(t *testing.T) {
	s, run := newPostgresStore(t)
	ctx := context.Background()
	acct := "acct-" + run

	first, err := s.Append(ctx, Posting{AccountID: acct, Delta: 25, Kind: KindPurchaseCredit, ExternalRef: "pay-" + run})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Sequence != 1 || first.BalanceAfter != 25 {
		t.Fatalf("unexpected first entry %+v", first)
	}

	again, err := s.Append(ctx, Posting{AccountID: acct, Delta: 25, Kind: KindPurchaseCredit, ExternalRef: "pay-" + run})
	if !errors.Is(err, ErrDuplicateExternalReference) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing entry %s, got %s", first.ID, again.ID)
	}

	if _, err := s.Append(ctx, Posting{AccountID: acct, Delta: -30, Kind: KindSpendDebit, ExternalRef: "tok-1"}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := s.Append(ctx, Posting{AccountID: acct, Delta: -10, Kind: KindSpendDebit, ExternalRef: "tok-1"}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	entries, err := s.EntriesSince(ctx, acct, 1, 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Sequence != 2 || entries[0].BalanceAfter != 15 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if err := Verify(ctx, s, acct); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPostgresStore_ReferenceOwnedByAnotherAccount(t *testing.T) {
	s, run := newPostgresStore(t)
	ctx := context.Background()
	ref := "pay-shared-" + run

	if _, err := s.Append(ctx, Posting{AccountID: "owner-" + run, Delta: 5, Kind: KindPurchaseCredit, ExternalRef: ref}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, Posting{AccountID: "other-" + run, Delta: 5, Kind: KindPurchaseCredit, ExternalRef: ref}); !errors.Is(err, ErrExternalReferenceConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgresStore_ConcurrentClaimsOnOneReference(t *testing.T) {
	s, run := newPostgresStore(t)
	ctx := context.Background()
	ref := "pay-race-" + run

	// different accounts lock different rows, so the unique index decides the winner
	const n = 12
	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, Posting{AccountID: uuid.NewString(), Delta: 5, Kind: KindPurchaseCredit, ExternalRef: ref})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrExternalReferenceConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("claim %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}
}

func TestPostgresStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s, run := newPostgresStore(t)
	ctx := context.Background()
	acct := "acct-debit-" + run
	if err := Seed(s, acct, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const n = 25
	var ok, short int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, Posting{AccountID: acct, Delta: -1, Kind: KindSpendDebit, ExternalRef: uuid.NewString()})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrInsufficientBalance):
				atomic.AddInt32(&short, 1)
			default:
				t.Errorf("debit %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 10 || short != n-10 {
		t.Fatalf("expected 10 debits and %d rejections, got %d and %d", n-10, ok, short)
	}
	acctState, err := s.Account(ctx, acct)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acctState.Balance != 0 || acctState.LastSequence != 11 {
		t.Fatalf("unexpected account %+v", acctState)
	}
	if err := Verify(ctx, s, acct); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPostgresStore_UnknownAccount(t *testing.T) {
	s, run := newPostgresStore(t)
	ctx := context.Background()

	if _, err := s.Account(ctx, "missing-"+run); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.EntriesSince(ctx, "missing-"+run, 0, 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	acct, err := s.EnsureAccount(ctx, "fresh-"+run)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if acct.Balance != 0 || acct.LastSequence != 0 {
		t.Fatalf("unexpected fresh account %+v", acct)
	}
}
