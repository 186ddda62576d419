package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
// Versions are compared inside a single transaction so a stale write
// rolls back every other write of the same commit. Read-only assertions
// take a share lock so the row cannot change before the commit lands.
type AccountStore struct {
	pool *Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(ctx context.Context, address pubkey.PublicKey) (acc *domain.Account, err error) {
	start := time.Now()
	defer func() { observe("get_account", start, err) }()

	query := `
		SELECT address, owner, data, version
		FROM accounts
		WHERE address = $1
	`

	acc, err = scanAccount(s.pool.QueryRow(ctx, query, address[:]))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// Commit applies all writes atomically.
func (s *AccountStore) Commit(ctx context.Context, writes []storage.AccountWrite) (err error) {
	if len(writes) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("commit_accounts", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO accounts (address, owner, data, version)
		VALUES ($1, $2, $3, 1)
	`
	updateQuery := `
		UPDATE accounts
		SET owner = $2, data = $3, version = version + 1, updated_at = NOW()
		WHERE address = $1 AND version = $4
	`
	checkQuery := `
		SELECT version
		FROM accounts
		WHERE address = $1
		FOR SHARE
	`

	for _, w := range writes {
		if w.CheckOnly {
			var version int64
			err := tx.QueryRow(ctx, checkQuery, w.Address[:]).Scan(&version)
			switch {
			case isNotFoundError(err):
				if w.ExpectedVersion != 0 {
					return storage.ErrConflict
				}
			case err != nil:
				if isSerializationError(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("check account %s: %w", w.Address, err)
			case uint64(version) != w.ExpectedVersion:
				return storage.ErrConflict
			}
			continue
		}
		if w.ExpectedVersion == 0 {
			if _, err := tx.Exec(ctx, insertQuery, w.Address[:], w.Owner[:], w.Data); err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				if isSerializationError(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("insert account %s: %w", w.Address, err)
			}
			continue
		}

		tag, err := tx.Exec(ctx, updateQuery, w.Address[:], w.Owner[:], w.Data, int64(w.ExpectedVersion))
		if err != nil {
			if isSerializationError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("update account %s: %w", w.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrConflict
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FindByOwner returns accounts owned by owner whose data starts with dataPrefix.
func (s *AccountStore) FindByOwner(ctx context.Context, owner pubkey.PublicKey, dataPrefix []byte) (result []*domain.Account, err error) {
	start := time.Now()
	defer func() { observe("find_accounts", start, err) }()

	query := `
		SELECT address, owner, data, version
		FROM accounts
		WHERE owner = $1
		  AND substring(data FROM 1 FOR octet_length($2::bytea)) = $2::bytea
		ORDER BY address ASC
	`

	if dataPrefix == nil {
		dataPrefix = []byte{}
	}

	rows, err := s.pool.Query(ctx, query, owner[:], dataPrefix)
	if err != nil {
		return nil, fmt.Errorf("find accounts by owner: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}

// scanAccount scans a single row into Account.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		address, owner []byte
		acc            domain.Account
		version        int64
	)

	if err := row.Scan(&address, &owner, &acc.Data, &version); err != nil {
		return nil, err
	}

	var err error
	if acc.Address, err = pubkey.FromBytes(address); err != nil {
		return nil, err
	}
	if acc.Owner, err = pubkey.FromBytes(owner); err != nil {
		return nil, err
	}
	acc.Version = uint64(version)
	return &acc, nil
}
