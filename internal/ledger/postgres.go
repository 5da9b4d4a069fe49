package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// PostgresStore persists ledger entries in PostgreSQL. Writers serialize per
// account on the wallet_accounts row lock.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger implementation.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", storeErr(err))
	}
	return nil
}

// EnsureAccount guarantees an account row exists for the provided id.
func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	if _, err := s.db.Exec(ctx, `INSERT INTO wallet_accounts (id) VALUES ($1)
        ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return Account{}, storeErr(err)
	}
	return s.Account(ctx, accountID)
}

// Account returns the cached projection for the account.
func (s *PostgresStore) Account(ctx context.Context, accountID string) (Account, error) {
	const query = `SELECT id, balance, last_sequence, created_at, updated_at
        FROM wallet_accounts WHERE id = $1`
	var a Account
	err := s.db.QueryRow(ctx, query, accountID).Scan(&a.ID, &a.Balance, &a.LastSequence, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storeErr(err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// Balance returns the cached balance for the account.
func (s *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	a, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Append records a posting and updates the cached balance in one transaction.
func (s *PostgresStore) Append(ctx context.Context, p Posting) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	entry, err := s.append(ctx, p)
	if err != nil && isUniqueViolation(err) {
		// lost a race on a provider-global reference against another account
		return s.existingForKey(ctx, p)
	}
	return entry, err
}

func (s *PostgresStore) append(ctx context.Context, p Posting) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, storeErr(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO wallet_accounts (id) VALUES ($1)
        ON CONFLICT (id) DO NOTHING`, p.AccountID); err != nil {
		return Entry{}, storeErr(err)
	}

	var balance, lastSeq int64
	if err := tx.QueryRow(ctx, `SELECT balance, last_sequence FROM wallet_accounts
        WHERE id = $1 FOR UPDATE`, p.AccountID).Scan(&balance, &lastSeq); err != nil {
		return Entry{}, storeErr(err)
	}

	key := p.DedupeKey()
	if key != "" {
		existing, err := scanEntry(tx.QueryRow(ctx, entryColumns+` WHERE dedupe_key = $1`, key))
		switch {
		case err == nil:
			if existing.AccountID != p.AccountID {
				return Entry{}, ErrExternalReferenceConflict
			}
			return existing, ErrDuplicateExternalReference
		case !errors.Is(err, pgx.ErrNoRows):
			return Entry{}, storeErr(err)
		}
	}

	newBalance := balance + p.Delta
	if newBalance < 0 {
		return Entry{}, ErrInsufficientBalance
	}

	entry := Entry{
		ID:           uuid.NewString(),
		AccountID:    p.AccountID,
		Sequence:     lastSeq + 1,
		Delta:        p.Delta,
		Kind:         p.Kind,
		ExternalRef:  p.ExternalRef,
		Memo:         p.Memo,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}

	var dedupe any
	if key != "" {
		dedupe = key
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, account_id, sequence, delta, kind, external_ref, dedupe_key, memo, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.AccountID, entry.Sequence, entry.Delta, string(entry.Kind),
		entry.ExternalRef, dedupe, entry.Memo, entry.BalanceAfter, entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Entry{}, err
		}
		return Entry{}, storeErr(err)
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_accounts
        SET balance = $1, last_sequence = $2, updated_at = $3 WHERE id = $4`,
		newBalance, entry.Sequence, entry.CreatedAt, p.AccountID); err != nil {
		return Entry{}, storeErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, storeErr(err)
	}
	return entry, nil
}

func (s *PostgresStore) existingForKey(ctx context.Context, p Posting) (Entry, error) {
	existing, err := scanEntry(s.db.QueryRow(ctx, entryColumns+` WHERE dedupe_key = $1`, p.DedupeKey()))
	if err != nil {
		return Entry{}, storeErr(err)
	}
	if existing.AccountID != p.AccountID {
		return Entry{}, ErrExternalReferenceConflict
	}
	return existing, ErrDuplicateExternalReference
}

// EntriesSince lists entries after the given sequence in increasing order.
func (s *PostgresStore) EntriesSince(ctx context.Context, accountID string, afterSeq int64, limit int) ([]Entry, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, entryColumns+`
        WHERE account_id = $1 AND sequence > $2
        ORDER BY sequence ASC LIMIT $3`, accountID, afterSeq, pageSize(limit))
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return entries, nil
}

const entryColumns = `SELECT id, account_id, sequence, delta, kind, external_ref, memo, balance_after, created_at
        FROM ledger_entries`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e    Entry
		id   uuid.UUID
		kind string
	)
	if err := row.Scan(&id, &e.AccountID, &e.Sequence, &e.Delta, &kind, &e.ExternalRef, &e.Memo, &e.BalanceAfter, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.Kind = Kind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
