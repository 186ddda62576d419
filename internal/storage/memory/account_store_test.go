package memory

import (
	"context"
	"errors"
	"testing"

	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

var (
	testOwner = pubkey.FromSeed("owner-program")
	addrA     = pubkey.FromSeed("account-a")
	addrB     = pubkey.FromSeed("account-b")
)

func TestAccountStore_CreateAndGet(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	acc, err := store.Get(ctx, addrA)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if acc.Version != 1 {
		t.Errorf("Expected version 1, got %d", acc.Version)
	}
	if acc.Owner != testOwner {
		t.Errorf("Expected owner %s, got %s", testOwner, acc.Owner)
	}

	// Mutating the returned copy must not affect the store
	acc.Data[0] = 99
	again, _ := store.Get(ctx, addrA)
	if again.Data[0] != 1 {
		t.Errorf("Store data mutated through returned copy")
	}
}

func TestAccountStore_GetNotFound(t *testing.T) {
	store := NewAccountStore()

	_, err := store.Get(context.Background(), addrA)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAccountStore_DuplicateCreate(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	create := storage.AccountWrite{Address: addrA, Owner: testOwner, Data: []byte{1}}
	if err := store.Commit(ctx, []storage.AccountWrite{create}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	err := store.Commit(ctx, []storage.AccountWrite{create})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestAccountStore_StaleVersionConflict(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	_ = store.Commit(ctx, []storage.AccountWrite{{Address: addrA, Owner: testOwner, Data: []byte{1}}})

	// Two writers read version 1; the second must lose
	if err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{2}, ExpectedVersion: 1},
	}); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{3}, ExpectedVersion: 1},
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	acc, _ := store.Get(ctx, addrA)
	if acc.Version != 2 || acc.Data[0] != 2 {
		t.Errorf("Expected version 2 data 2, got version %d data %d", acc.Version, acc.Data[0])
	}
}

func TestAccountStore_CommitIsAtomic(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	_ = store.Commit(ctx, []storage.AccountWrite{{Address: addrA, Owner: testOwner, Data: []byte{1}}})

	// Valid create of B plus stale update of A: neither may apply
	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrB, Owner: testOwner, Data: []byte{1}},
		{Address: addrA, Owner: testOwner, Data: []byte{9}, ExpectedVersion: 7},
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	if _, err := store.Get(ctx, addrB); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected B not to be created, got %v", err)
	}
	acc, _ := store.Get(ctx, addrA)
	if acc.Data[0] != 1 {
		t.Errorf("Expected A unchanged, got data %d", acc.Data[0])
	}
}

func TestAccountStore_CheckOnly(t *testing.T) {
	addrC := pubkey.FromSeed("account-c")

	tests := []struct {
		name    string
		check   storage.AccountWrite
		wantErr error
	}{
		{name: "current version", check: storage.AccountWrite{Address: addrA, ExpectedVersion: 1, CheckOnly: true}},
		{name: "stale version", check: storage.AccountWrite{Address: addrA, ExpectedVersion: 2, CheckOnly: true}, wantErr: storage.ErrConflict},
		{name: "absent as read", check: storage.AccountWrite{Address: addrC, CheckOnly: true}},
		{name: "created since read", check: storage.AccountWrite{Address: addrA, CheckOnly: true}, wantErr: storage.ErrConflict},
		{name: "deleted since read", check: storage.AccountWrite{Address: addrC, ExpectedVersion: 1, CheckOnly: true}, wantErr: storage.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewAccountStore()
			ctx := context.Background()
			_ = store.Commit(ctx, []storage.AccountWrite{{Address: addrA, Owner: testOwner, Data: []byte{1}}})

			err := store.Commit(ctx, []storage.AccountWrite{
				{Address: addrB, Owner: testOwner, Data: []byte{2}},
				tt.check,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}

			_, getErr := store.Get(ctx, addrB)
			if tt.wantErr == nil && getErr != nil {
				t.Errorf("Expected B to be created, got %v", getErr)
			}
			if tt.wantErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
				t.Errorf("Expected B not to be created, got %v", getErr)
			}

			// Assertions never write
			acc, _ := store.Get(ctx, addrA)
			if acc.Version != 1 {
				t.Errorf("Expected A at version 1, got %d", acc.Version)
			}
			if _, err := store.Get(ctx, addrC); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("Expected C absent, got %v", err)
			}
		})
	}
}

func TestAccountStore_FindByOwner(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	other := pubkey.FromSeed("other-program")

	_ = store.Commit(ctx, []storage.AccountWrite{
		{Address: addrB, Owner: testOwner, Data: []byte{7, 1}},
		{Address: addrA, Owner: testOwner, Data: []byte{7, 2}},
		{Address: pubkey.FromSeed("c"), Owner: testOwner, Data: []byte{8, 1}},
		{Address: pubkey.FromSeed("d"), Owner: other, Data: []byte{7, 1}},
	})

	result, err := store.FindByOwner(ctx, testOwner, []byte{7})
	if err != nil {
		t.Fatalf("FindByOwner failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(result))
	}
	if !result[0].Address.Less(result[1].Address) {
		t.Errorf("Expected results ordered by address")
	}
}
