package ledger

import "context"

// Seed credits amount to an account through a regular append so the balance
// invariant holds. Test helper.
func Seed(s Store, accountID string, amount int64) error {
	_, err := s.Append(context.Background(), Posting{
		AccountID: accountID,
		Delta:     amount,
		Kind:      KindBonusCredit,
		Memo:      "seed",
	})
	return err
}

// FailNext makes the next n write operations of an in-memory store fail with
// err. Test helper; no-op for other stores.
func FailNext(s Store, n int, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failures = n
		mem.failErr = err
	}
}
