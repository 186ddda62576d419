package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
)

var (
	testOwner = pubkey.FromSeed("owner-program")
	addrA     = pubkey.FromSeed("account-a")
	addrB     = pubkey.FromSeed("account-b")
)

func TestAccountStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)

	acc, err := store.Get(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, addrA, acc.Address)
	assert.Equal(t, testOwner, acc.Owner)
	assert.Equal(t, []byte{1, 2, 3}, acc.Data)
	assert.Equal(t, uint64(1), acc.Version)
}

func TestAccountStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)

	_, err := store.Get(context.Background(), addrA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccountStore_DuplicateCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	create := storage.AccountWrite{Address: addrA, Owner: testOwner, Data: []byte{1}}
	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{create}))

	err := store.Commit(ctx, []storage.AccountWrite{create})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestAccountStore_UpdateAndConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{1}},
	}))
	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{2}, ExpectedVersion: 1},
	}))

	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{3}, ExpectedVersion: 1},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	acc, err := store.Get(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Version)
	assert.Equal(t, []byte{2}, acc.Data)
}

func TestAccountStore_CommitRollsBackOnConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)

	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{1}},
	}))

	err := store.Commit(ctx, []storage.AccountWrite{
		{Address: addrB, Owner: testOwner, Data: []byte{1}},
		{Address: addrA, Owner: testOwner, Data: []byte{9}, ExpectedVersion: 5},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.Get(ctx, addrB)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccountStore_CheckOnly(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	addrC := pubkey.FromSeed("account-c")

	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{1}},
	}))

	tests := []struct {
		name    string
		check   storage.AccountWrite
		wantErr error
	}{
		{name: "stale version", check: storage.AccountWrite{Address: addrA, ExpectedVersion: 2, CheckOnly: true}, wantErr: storage.ErrConflict},
		{name: "created since read", check: storage.AccountWrite{Address: addrA, CheckOnly: true}, wantErr: storage.ErrConflict},
		{name: "deleted since read", check: storage.AccountWrite{Address: addrC, ExpectedVersion: 1, CheckOnly: true}, wantErr: storage.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Commit(ctx, []storage.AccountWrite{
				{Address: addrB, Owner: testOwner, Data: []byte{2}},
				tt.check,
			})
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = store.Get(ctx, addrB)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}

	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrB, Owner: testOwner, Data: []byte{2}},
		{Address: addrA, ExpectedVersion: 1, CheckOnly: true},
		{Address: addrC, CheckOnly: true},
	}))

	acc, err := store.Get(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version, "assertion must not write")
	_, err = store.Get(ctx, addrC)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccountStore_FindByOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAccountStore(pool)
	other := pubkey.FromSeed("other-program")

	require.NoError(t, store.Commit(ctx, []storage.AccountWrite{
		{Address: addrA, Owner: testOwner, Data: []byte{7, 1}},
		{Address: addrB, Owner: testOwner, Data: []byte{7, 2}},
		{Address: pubkey.FromSeed("c"), Owner: testOwner, Data: []byte{8, 1}},
		{Address: pubkey.FromSeed("d"), Owner: other, Data: []byte{7, 1}},
	}))

	result, err := store.FindByOwner(ctx, testOwner, []byte{7})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.True(t, result[0].Address.Less(result[1].Address))

	all, err := store.FindByOwner(ctx, testOwner, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
