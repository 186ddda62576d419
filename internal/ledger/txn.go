package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

// Txn is a single unit of work. It is not safe for concurrent use.
type Txn struct {
	store   storage.AccountStore
	slot    uint64
	signers map[pubkey.PublicKey]struct{}

	reads    map[pubkey.PublicKey]*domain.Account // nil value records a read of an absent address
	writes   map[pubkey.PublicKey]*domain.Account // pending state; Version holds the expected version
	order    []pubkey.PublicKey                   // write order, for deterministic commits
	onExists map[pubkey.PublicKey]error
}

func newTxn(store storage.AccountStore, slot uint64, signers []pubkey.PublicKey) *Txn {
	set := make(map[pubkey.PublicKey]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return &Txn{
		store:   store,
		slot:    slot,
		signers: set,
		reads:   make(map[pubkey.PublicKey]*domain.Account),
		writes:  make(map[pubkey.PublicKey]*domain.Account),
	}
}

// OnExists registers err as the failure of a Create of address that finds the
// address allocated, whether when staged or at commit.
func (t *Txn) OnExists(address pubkey.PublicKey, err error) {
	if t.onExists == nil {
		t.onExists = make(map[pubkey.PublicKey]error)
	}
	t.onExists[address] = err
}

func (t *Txn) existsError(address pubkey.PublicKey) error {
	if err, ok := t.onExists[address]; ok {
		return fmt.Errorf("%w: %s", err, address)
	}
	return &AccountExistsError{Address: address}
}

// Slot is the slot this unit of work executes in.
func (t *Txn) Slot() uint64 { return t.slot }

// IsSigner reports whether key signed the request that opened this Txn.
func (t *Txn) IsSigner(key pubkey.PublicKey) bool {
	_, ok := t.signers[key]
	return ok
}

// Get returns the account at address as this Txn sees it, including its own
// buffered writes. The result is a copy.
func (t *Txn) Get(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error) {
	if w, ok := t.writes[address]; ok {
		return w.Clone(), nil
	}

	acc, err := t.load(ctx, address)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return acc.Clone(), nil
}

// Exists reports whether address holds an account.
func (t *Txn) Exists(ctx context.Context, address pubkey.PublicKey) (bool, error) {
	if _, ok := t.writes[address]; ok {
		return true, nil
	}
	acc, err := t.load(ctx, address)
	if err != nil {
		return false, err
	}
	return acc != nil, nil
}

// Create allocates address for program with data. It fails with
// ErrAccountExists, or the error registered with OnExists, if the address is
// already allocated, now or at commit.
func (t *Txn) Create(ctx context.Context, program, address pubkey.PublicKey, data []byte) error {
	exists, err := t.Exists(ctx, address)
	if err != nil {
		return err
	}
	if exists {
		return t.existsError(address)
	}

	t.stage(&domain.Account{
		Address: address,
		Owner:   program,
		Data:    append([]byte(nil), data...),
		Version: 0,
	})
	return nil
}

// Put replaces the data of an existing account owned by program.
func (t *Txn) Put(ctx context.Context, program, address pubkey.PublicKey, data []byte) error {
	current, err := t.Get(ctx, address)
	if err != nil {
		return err
	}
	if current.Owner != program {
		return fmt.Errorf("%w: %s owned by %s", ErrIllegalOwner, address, current.Owner)
	}

	current.Data = append([]byte(nil), data...)
	t.stage(current)
	return nil
}

func (t *Txn) stage(acc *domain.Account) {
	if _, ok := t.writes[acc.Address]; !ok {
		t.order = append(t.order, acc.Address)
	}
	t.writes[acc.Address] = acc
}

// load reads through the read cache so every Get in a Txn sees one version.
func (t *Txn) load(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error) {
	if acc, ok := t.reads[address]; ok {
		return acc, nil
	}

	acc, err := t.store.Get(ctx, address)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("read account %s: %w", address, err)
		}
		acc = nil
	}
	t.reads[address] = acc
	return acc, nil
}

// commit applies the buffered writes and asserts that every account read but
// not written is still at the version read. A create that lost a race fails
// as Create would have; any other stale read fails with ErrConflict.
func (t *Txn) commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}

	writes := make([]storage.AccountWrite, 0, len(t.order)+len(t.reads))
	for _, address := range t.order {
		w := t.writes[address]
		writes = append(writes, storage.AccountWrite{
			Address:         w.Address,
			Owner:           w.Owner,
			Data:            w.Data,
			ExpectedVersion: w.Version,
		})
	}
	checks := make([]storage.AccountWrite, 0, len(t.reads))
	for address, acc := range t.reads {
		if _, written := t.writes[address]; written {
			continue
		}
		c := storage.AccountWrite{Address: address, CheckOnly: true}
		if acc != nil {
			c.ExpectedVersion = acc.Version
		}
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Address.Less(checks[j].Address) })
	writes = append(writes, checks...)

	err := t.store.Commit(ctx, writes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrDuplicateKey):
		return t.lostCreate(ctx)
	case errors.Is(err, storage.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("commit: %w", err)
	}
}

// lostCreate finds the staged create whose address a concurrent request
// allocated first.
func (t *Txn) lostCreate(ctx context.Context) error {
	for _, address := range t.order {
		if t.writes[address].Version != 0 {
			continue
		}
		if _, err := t.store.Get(ctx, address); err == nil {
			return t.existsError(address)
		}
	}
	return ErrConflict
}
