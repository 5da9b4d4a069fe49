package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInMemoryStore_AppendAssignsGapFreeSequence(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	deltas := []struct {
		delta int64
		kind  Kind
	}{
		{25, KindPurchaseCredit},
		{2, KindBonusCredit},
		{-10, KindSpendDebit},
		{-5, KindRefundDebit},
	}
	for i, d := range deltas {
		e, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: d.delta, Kind: d.kind, ExternalRef: fmt.Sprintf("ref-%d", i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if e.Sequence != int64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, e.Sequence)
		}
	}

	balance, err := s.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 12 {
		t.Fatalf("expected balance 12, got %d", balance)
	}
	if err := Verify(ctx, s, "acct-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestInMemoryStore_DuplicateExternalReference(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	first, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: 25, Kind: KindPurchaseCredit, ExternalRef: "pay-1"})
	if err != nil {
		t.Fatalf("initial append: %v", err)
	}
	again, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: 25, Kind: KindPurchaseCredit, ExternalRef: "pay-1"})
	if !errors.Is(err, ErrDuplicateExternalReference) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing entry %s, got %s", first.ID, again.ID)
	}

	balance, _ := s.Balance(ctx, "acct-1")
	if balance != 25 {
		t.Fatalf("expected balance 25 after replay, got %d", balance)
	}
}

func TestInMemoryStore_ReferenceNamespaces(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: 25, Kind: KindPurchaseCredit, ExternalRef: "pay-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	// refund of the same payment lives in its own namespace
	if _, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: -25, Kind: KindRefundDebit, ExternalRef: "pay-1"}); err != nil {
		t.Fatalf("refund with credit's ref: %v", err)
	}
	// spend tokens are per account
	if err := Seed(s, "acct-2", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := Seed(s, "acct-3", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Append(ctx, Posting{AccountID: "acct-2", Delta: -1, Kind: KindSpendDebit, ExternalRef: "tok"}); err != nil {
		t.Fatalf("spend acct-2: %v", err)
	}
	if _, err := s.Append(ctx, Posting{AccountID: "acct-3", Delta: -1, Kind: KindSpendDebit, ExternalRef: "tok"}); err != nil {
		t.Fatalf("spend acct-3 with same token: %v", err)
	}
	// purchase refs are provider-global
	if _, err := s.Append(ctx, Posting{AccountID: "acct-2", Delta: 5, Kind: KindPurchaseCredit, ExternalRef: "pay-1"}); !errors.Is(err, ErrExternalReferenceConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInMemoryStore_RejectsNegativeBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := Seed(s, "acct-1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: -6, Kind: KindSpendDebit}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	acct, err := s.Account(ctx, "acct-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Balance != 5 || acct.LastSequence != 1 {
		t.Fatalf("rejected append mutated account: %+v", acct)
	}
}

func TestInMemoryStore_InvalidPostings(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	cases := map[string]Posting{
		"zero delta":      {AccountID: "a", Delta: 0, Kind: KindPurchaseCredit},
		"unknown kind":    {AccountID: "a", Delta: 1, Kind: "gift"},
		"negative credit": {AccountID: "a", Delta: -1, Kind: KindPurchaseCredit},
		"positive debit":  {AccountID: "a", Delta: 1, Kind: KindSpendDebit},
		"missing account": {Delta: 1, Kind: KindPurchaseCredit},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Append(ctx, p); !errors.Is(err, ErrInvalidPosting) {
				t.Fatalf("expected invalid posting, got %v", err)
			}
		})
	}
}

func TestInMemoryStore_EntriesSinceIsRestartable(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if err := Seed(s, "acct-1", 1); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var seen []int64
	after := int64(0)
	for {
		page, err := s.EntriesSince(ctx, "acct-1", after, 3)
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.Sequence)
		}
		after = page[len(page)-1].Sequence
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(seen))
	}
	for i, seq := range seen {
		if seq != int64(i+1) {
			t.Fatalf("entries out of order: %v", seen)
		}
	}

	tail, err := s.EntriesSince(ctx, "acct-1", 5, 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(tail) != 2 || tail[0].Sequence != 6 {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	if _, err := s.EntriesSince(ctx, "missing", 0, 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestInMemoryStore_ConcurrentDebits(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const workers = 50
	if err := Seed(s, "acct-1", workers-1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var ok, short atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, Posting{AccountID: "acct-1", Delta: -1, Kind: KindSpendDebit, ExternalRef: fmt.Sprintf("tok-%d", i)})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				short.Add(1)
			default:
				t.Errorf("debit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != workers-1 || short.Load() != 1 {
		t.Fatalf("expected %d successes and 1 rejection, got %d/%d", workers-1, ok.Load(), short.Load())
	}
	balance, _ := s.Balance(ctx, "acct-1")
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
	if err := Verify(ctx, s, "acct-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Append(ctx, Posting{AccountID: "a", Delta: 1, Kind: KindPurchaseCredit}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestInMemoryStore_FailNext(t *testing.T) {
	s := NewInMemory()
	FailNext(s, 1, ErrStoreUnavailable)

	if err := Seed(s, "acct-1", 1); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := Seed(s, "acct-1", 1); err != nil {
		t.Fatalf("second append should succeed: %v", err)
	}
}
