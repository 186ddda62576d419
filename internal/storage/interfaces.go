package storage

import (
	"context"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
)

// AccountWrite is one buffered account mutation, or with CheckOnly a version
// assertion on an account that was read but not written.
type AccountWrite struct {
	Address         pubkey.PublicKey
	Owner           pubkey.PublicKey
	Data            []byte
	ExpectedVersion uint64 // 0 creates the account; otherwise the version that was read
	CheckOnly       bool   // assert ExpectedVersion (0: still absent) without writing
}

// AccountStore provides access to accounts storage.
type AccountStore interface {
	// Get retrieves an account by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error)

	// Commit applies all writes atomically. A create of an existing address
	// fails with ErrDuplicateKey; an update whose ExpectedVersion is stale
	// fails with ErrConflict, as does a CheckOnly entry whose account no
	// longer matches. Nothing is applied on failure.
	Commit(ctx context.Context, writes []AccountWrite) error

	// FindByOwner returns accounts owned by owner whose data starts with
	// dataPrefix, ordered by address.
	FindByOwner(ctx context.Context, owner pubkey.PublicKey, dataPrefix []byte) ([]*domain.Account, error)
}

// EventStore provides access to ledger_events storage.
type EventStore interface {
	// InsertBulk appends events. Re-inserting an event_id is a no-op.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByAccount returns the most recent events touching address,
	// newest first, at most limit (0 means no limit).
	GetByAccount(ctx context.Context, address string, limit int) ([]*domain.Event, error)
}
