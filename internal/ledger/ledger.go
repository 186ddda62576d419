// Package ledger provides all-or-nothing units of work over an account store.
//
// A Txn reads accounts at a fixed version, buffers writes, and commits them
// with compare-and-swap semantics: a create fails if the address is already
// allocated and an update fails if the account changed after it was read.
// Nothing a Txn buffers is visible to any other request before commit.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

var (
	// ErrConflict is returned when a concurrent request committed first.
	// The request may be retried from scratch.
	ErrConflict = fmt.Errorf("ledger: %w", storage.ErrConflict)

	// ErrAccountExists is returned when creating an address that is already allocated.
	ErrAccountExists = errors.New("ledger: account already exists")

	// ErrAccountNotFound is returned when reading an address that holds no account.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrIllegalOwner is returned when a program writes an account it does not own.
	ErrIllegalOwner = errors.New("ledger: account not owned by writing program")
)

// AccountExistsError reports the allocated address a create collided with,
// either when staged or when a concurrent request created it first.
type AccountExistsError struct {
	Address pubkey.PublicKey
}

func (e *AccountExistsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrAccountExists, e.Address)
}

func (e *AccountExistsError) Unwrap() error { return ErrAccountExists }

// SlotSource reports the current slot.
type SlotSource interface {
	Slot(ctx context.Context) (uint64, error)
}

// Ledger runs units of work against an AccountStore.
type Ledger struct {
	store storage.AccountStore
	slots SlotSource
}

// New creates a Ledger.
func New(store storage.AccountStore, slots SlotSource) *Ledger {
	return &Ledger{store: store, slots: slots}
}

// Execute runs fn in a fresh Txn whose signer set is exactly signers.
// If fn returns nil the buffered writes are committed atomically;
// otherwise they are discarded and fn's error is returned.
func (l *Ledger) Execute(ctx context.Context, signers []pubkey.PublicKey, fn func(*Txn) error) error {
	slot, err := l.slots.Slot(ctx)
	if err != nil {
		return fmt.Errorf("read slot: %w", err)
	}

	txn := newTxn(l.store, slot, signers)
	if err := fn(txn); err != nil {
		return err
	}
	return txn.commit(ctx)
}

// Get reads a committed account outside of any unit of work.
func (l *Ledger) Get(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error) {
	acc, err := l.store.Get(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return acc, nil
}

// FindByOwner lists committed accounts owned by owner whose data starts with prefix.
func (l *Ledger) FindByOwner(ctx context.Context, owner pubkey.PublicKey, prefix []byte) ([]*domain.Account, error) {
	return l.store.FindByOwner(ctx, owner, prefix)
}

// Slot reports the current slot from the ledger's slot source.
func (l *Ledger) Slot(ctx context.Context) (uint64, error) {
	return l.slots.Slot(ctx)
}
