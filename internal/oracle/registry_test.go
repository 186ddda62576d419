package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage/memory"
)

type slotCounter struct{ slot uint64 }

func (s *slotCounter) Slot(context.Context) (uint64, error) {
	s.slot++
	return s.slot, nil
}

var (
	programID = pubkey.FromSeed("lending-program")
	userA     = pubkey.FromSeed("user-a")
	userB     = pubkey.FromSeed("user-b")
	feed      = pubkey.FromSeed("feed")
)

func setup(t *testing.T) (*ledger.Ledger, *Registry) {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(memory.NewAccountStore(), &slotCounter{})
	r := NewRegistry(programID)

	err := l.Execute(ctx, []pubkey.PublicKey{userA, feed}, func(txn *ledger.Txn) error {
		_, err := r.Create(ctx, txn, CreateParams{Oracle: feed, Authority: userA, Price: 100, Exponent: DefaultExponent})
		return err
	})
	require.NoError(t, err)
	return l, r
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)

	o, err := r.Load(ctx, l, feed)
	require.NoError(t, err)
	assert.Equal(t, userA, o.Authority)
	assert.Equal(t, uint64(100), o.Price)
	assert.Equal(t, DefaultExponent, o.Exponent)
	assert.Equal(t, uint64(1), o.LastUpdatedSlot)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.NewAccountStore(), &slotCounter{})
	r := NewRegistry(programID)
	other := pubkey.FromSeed("other-feed")

	tests := []struct {
		name    string
		signers []pubkey.PublicKey
		params  CreateParams
		wantErr error
	}{
		{"authority must sign", []pubkey.PublicKey{other}, CreateParams{Oracle: other, Authority: userA, Price: 1}, guard.ErrUnauthorized},
		{"oracle account must sign", []pubkey.PublicKey{userA}, CreateParams{Oracle: other, Authority: userA, Price: 1}, guard.ErrUnauthorized},
		{"zero price", []pubkey.PublicKey{userA, other}, CreateParams{Oracle: other, Authority: userA}, guard.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Execute(ctx, tt.signers, func(txn *ledger.Txn) error {
				_, err := r.Create(ctx, txn, tt.params)
				return err
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_ExistingAccount(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)

	err := l.Execute(ctx, []pubkey.PublicKey{userB, feed}, func(txn *ledger.Txn) error {
		_, err := r.Create(ctx, txn, CreateParams{Oracle: feed, Authority: userB, Price: 5})
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)

	o, err := r.Load(ctx, l, feed)
	require.NoError(t, err)
	assert.Equal(t, userA, o.Authority)
}

func TestUpdate_ByAuthority(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)

	err := l.Execute(ctx, []pubkey.PublicKey{userA}, func(txn *ledger.Txn) error {
		_, err := r.Update(ctx, txn, feed, 150)
		return err
	})
	require.NoError(t, err)

	o, err := r.Load(ctx, l, feed)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), o.Price)
	assert.Equal(t, uint64(2), o.LastUpdatedSlot)
}

// Oracle created by A with price 100; B updates with 999: rejected, price stays 100.
func TestUpdate_ByOtherIdentityIsRejected(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)

	for _, signers := range [][]pubkey.PublicKey{
		{userB},
		{userB, feed}, // the feed keypair itself is not the authority
		nil,
	} {
		err := l.Execute(ctx, signers, func(txn *ledger.Txn) error {
			_, err := r.Update(ctx, txn, feed, 999)
			return err
		})
		assert.ErrorIs(t, err, guard.ErrUnauthorized)
	}

	o, err := r.Load(ctx, l, feed)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), o.Price)
	assert.Equal(t, userA, o.Authority)
}

func TestUpdate_ZeroPrice(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)

	err := l.Execute(ctx, []pubkey.PublicKey{userA}, func(txn *ledger.Txn) error {
		_, err := r.Update(ctx, txn, feed, 0)
		return err
	})
	assert.ErrorIs(t, err, guard.ErrInvalidPrice)
}

func TestUpdate_NotAnOracle(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)
	fake := pubkey.FromSeed("fake")

	require.NoError(t, l.Execute(ctx, nil, func(txn *ledger.Txn) error {
		return txn.Create(ctx, programID, fake, []byte("not an oracle at all, but long enough bytes"))
	}))

	err := l.Execute(ctx, []pubkey.PublicKey{userA}, func(txn *ledger.Txn) error {
		_, err := r.Update(ctx, txn, fake, 1)
		return err
	})
	assert.ErrorIs(t, err, guard.ErrAccountTypeMismatch)
}
