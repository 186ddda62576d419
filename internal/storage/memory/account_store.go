package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	mu   sync.RWMutex
	data map[pubkey.PublicKey]*domain.Account // keyed by address
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		data: make(map[pubkey.PublicKey]*domain.Account),
	}
}

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, address pubkey.PublicKey) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return acc.Clone(), nil
}

// Commit applies all writes atomically.
func (s *AccountStore) Commit(_ context.Context, writes []storage.AccountWrite) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate every write before touching state
	seen := make(map[pubkey.PublicKey]struct{}, len(writes))
	for _, w := range writes {
		if _, dup := seen[w.Address]; dup {
			return storage.ErrInvalidInput
		}
		seen[w.Address] = struct{}{}

		current, exists := s.data[w.Address]
		if w.CheckOnly {
			if exists != (w.ExpectedVersion != 0) || (exists && current.Version != w.ExpectedVersion) {
				return storage.ErrConflict
			}
			continue
		}
		if w.ExpectedVersion == 0 {
			if exists {
				return storage.ErrDuplicateKey
			}
			continue
		}
		if !exists || current.Version != w.ExpectedVersion {
			return storage.ErrConflict
		}
	}

	// Second pass: apply
	for _, w := range writes {
		if w.CheckOnly {
			continue
		}
		s.data[w.Address] = &domain.Account{
			Address: w.Address,
			Owner:   w.Owner,
			Data:    append([]byte(nil), w.Data...),
			Version: w.ExpectedVersion + 1,
		}
	}
	return nil
}

// FindByOwner returns accounts owned by owner whose data starts with dataPrefix.
func (s *AccountStore) FindByOwner(_ context.Context, owner pubkey.PublicKey, dataPrefix []byte) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Account
	for _, acc := range s.data {
		if acc.Owner != owner || !bytes.HasPrefix(acc.Data, dataPrefix) {
			continue
		}
		result = append(result, acc.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address.Less(result[j].Address)
	})
	return result, nil
}

var _ storage.AccountStore = (*AccountStore)(nil)
