package lending

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/market"
	"solana-lending-lab/internal/oracle"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage/memory"
	"solana-lending-lab/internal/token"
)

type fixedSlot uint64

func (s fixedSlot) Slot(context.Context) (uint64, error) { return uint64(s), nil }

var (
	programID = pubkey.FromSeed("lending-program")
	admin     = pubkey.FromSeed("admin")
	mintX     = pubkey.FromSeed("mint-x")
	mintY     = pubkey.FromSeed("mint-y")
	mintAuth  = pubkey.FromSeed("mint-authority")
	oracleX   = pubkey.FromSeed("oracle-x")
	oracleY   = pubkey.FromSeed("oracle-y")
	alice     = pubkey.FromSeed("alice")
	bob       = pubkey.FromSeed("bob")
)

type fixture struct {
	ledger  *ledger.Ledger
	service *Service
	market  pubkey.PublicKey
	vault   pubkey.PublicKey
	wallets map[pubkey.PublicKey]pubkey.PublicKey // user -> token account of X
}

// newFixture creates market 1 over (X, Y) where X charges feeBps on
// transfer, and funds alice and bob with 1000 X each.
func newFixture(t *testing.T, feeBps uint16) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		ledger:  ledger.New(memory.NewAccountStore(), fixedSlot(5)),
		service: NewService(programID),
		wallets: make(map[pubkey.PublicKey]pubkey.PublicKey),
	}
	markets := market.NewRegistry(programID)
	oracles := oracle.NewRegistry(programID)

	marketAddr, _, err := guard.MarketAddress(programID, 1, mintX, mintY)
	require.NoError(t, err)
	f.market = marketAddr

	signers := []pubkey.PublicKey{admin, mintX, mintY, mintAuth, oracleX, oracleY}
	err = f.ledger.Execute(ctx, signers, func(txn *ledger.Txn) error {
		if _, err := markets.Initialize(ctx, txn, admin, false); err != nil {
			return err
		}
		if _, err := token.InitializeMint(ctx, txn, token.InitializeMintParams{Mint: mintX, MintAuthority: mintAuth, TransferFeeBps: feeBps}); err != nil {
			return err
		}
		if _, err := token.InitializeMint(ctx, txn, token.InitializeMintParams{Mint: mintY, MintAuthority: mintAuth}); err != nil {
			return err
		}
		for _, o := range []pubkey.PublicKey{oracleX, oracleY} {
			if _, err := oracles.Create(ctx, txn, oracle.CreateParams{Oracle: o, Authority: admin, Price: 1}); err != nil {
				return err
			}
		}
		vault, err := token.CreateAssociatedAccount(ctx, txn, marketAddr, mintX)
		if err != nil {
			return err
		}
		f.vault = vault.Address

		if _, err := markets.Create(ctx, txn, market.CreateParams{
			Market: marketAddr, ID: 1, SupplyMint: mintX, CollateralMint: mintY,
			SupplyOracle: oracleX, CollateralOracle: oracleY, Vault: vault.Address, Authority: admin,
		}); err != nil {
			return err
		}

		for _, u := range []pubkey.PublicKey{alice, bob} {
			acc, err := token.CreateAssociatedAccount(ctx, txn, u, mintX)
			if err != nil {
				return err
			}
			f.wallets[u] = acc.Address
			if err := token.MintTo(ctx, txn, mintX, acc.Address, 1000); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) supply(t *testing.T, user pubkey.PublicKey, amount uint64) (*Receipt, error) {
	t.Helper()
	ctx := context.Background()
	var r *Receipt
	err := f.ledger.Execute(ctx, []pubkey.PublicKey{user}, func(txn *ledger.Txn) error {
		var err error
		r, err = f.service.Supply(ctx, txn, SupplyParams{
			Market: f.market, User: user, UserTokenAccount: f.wallets[user], Vault: f.vault, Amount: amount,
		})
		return err
	})
	return r, err
}

func (f *fixture) withdraw(t *testing.T, user pubkey.PublicKey, amount uint64) (*Receipt, error) {
	t.Helper()
	ctx := context.Background()
	var r *Receipt
	err := f.ledger.Execute(ctx, []pubkey.PublicKey{user}, func(txn *ledger.Txn) error {
		var err error
		r, err = f.service.Withdraw(ctx, txn, WithdrawParams{
			Market: f.market, User: user, UserTokenAccount: f.wallets[user], Vault: f.vault, Amount: amount,
		})
		return err
	})
	return r, err
}

type snapshot struct {
	vault, wallet, cTokens, totalSupply uint64
}

func (f *fixture) snapshot(t *testing.T, user pubkey.PublicKey) snapshot {
	t.Helper()
	ctx := context.Background()
	var s snapshot
	var err error
	s.vault, err = token.BalanceOf(ctx, f.ledger, f.vault)
	require.NoError(t, err)
	s.wallet, err = token.BalanceOf(ctx, f.ledger, f.wallets[user])
	require.NoError(t, err)
	if pos, err := f.service.Position(ctx, f.ledger, f.market, user); err == nil {
		s.cTokens = pos.CTokenBalance
	}
	m, err := guard.LoadMarket(ctx, f.ledger, programID, f.market)
	require.NoError(t, err)
	s.totalSupply = m.TotalSupply
	return s
}

// User supplies 500 with a verified transfer of exactly 500.
func TestSupply_Verified(t *testing.T) {
	f := newFixture(t, 0)

	r, err := f.supply(t, alice, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), r.CTokens)
	assert.Equal(t, uint64(500), r.CTokenBalance)
	assert.Equal(t, uint64(500), r.TotalSupply)

	s := f.snapshot(t, alice)
	assert.Equal(t, snapshot{vault: 500, wallet: 500, cTokens: 500, totalSupply: 500}, s)

	wantPos, _, _ := guard.UserSupplyAddress(programID, alice, f.market)
	assert.Equal(t, wantPos, r.Position)
}

func TestSupply_Accumulates(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.supply(t, alice, 100)
	require.NoError(t, err)
	_, err = f.supply(t, alice, 50)
	require.NoError(t, err)
	_, err = f.supply(t, bob, 25)
	require.NoError(t, err)

	assert.Equal(t, uint64(150), f.snapshot(t, alice).cTokens)
	assert.Equal(t, uint64(25), f.snapshot(t, bob).cTokens)
	assert.Equal(t, uint64(175), f.snapshot(t, bob).totalSupply)
}

// A mint that withholds a fee delivers less than requested: nothing may be credited.
func TestSupply_ReducedTransferIsUnverified(t *testing.T) {
	f := newFixture(t, 100) // 1%
	before := f.snapshot(t, alice)

	_, err := f.supply(t, alice, 500)
	assert.ErrorIs(t, err, guard.ErrTransferUnverified)

	assert.Equal(t, before, f.snapshot(t, alice))
}

func TestSupply_FailedTransferCreditsNothing(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.supply(t, alice, 1001)
	assert.ErrorIs(t, err, token.ErrInsufficientFunds)

	s := f.snapshot(t, alice)
	assert.Equal(t, snapshot{vault: 0, wallet: 1000}, s)

	_, err = f.service.Position(context.Background(), f.ledger, f.market, alice)
	assert.ErrorIs(t, err, guard.ErrAccountNotInitialized, "position must not be created")
}

func TestSupply_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	tests := []struct {
		name    string
		signers []pubkey.PublicKey
		params  SupplyParams
		wantErr error
	}{
		{"zero amount", []pubkey.PublicKey{alice},
			SupplyParams{Market: f.market, User: alice, UserTokenAccount: f.wallets[alice], Vault: f.vault}, guard.ErrInvalidAmount},
		{"user did not sign", []pubkey.PublicKey{bob},
			SupplyParams{Market: f.market, User: alice, UserTokenAccount: f.wallets[alice], Vault: f.vault, Amount: 1}, guard.ErrUnauthorized},
		{"spending someone else's wallet", []pubkey.PublicKey{bob},
			SupplyParams{Market: f.market, User: bob, UserTokenAccount: f.wallets[alice], Vault: f.vault, Amount: 1}, token.ErrOwnerMismatch},
		{"substituted vault", []pubkey.PublicKey{alice},
			SupplyParams{Market: f.market, User: alice, UserTokenAccount: f.wallets[alice], Vault: f.wallets[bob], Amount: 1}, guard.ErrInvalidVault},
		{"unknown market", []pubkey.PublicKey{alice},
			SupplyParams{Market: pubkey.FromSeed("nowhere"), User: alice, UserTokenAccount: f.wallets[alice], Vault: f.vault, Amount: 1}, guard.ErrAccountNotInitialized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.Execute(ctx, tt.signers, func(txn *ledger.Txn) error {
				_, err := f.service.Supply(ctx, txn, tt.params)
				return err
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, snapshot{wallet: 1000}, f.snapshot(t, alice))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.supply(t, alice, 500)
	require.NoError(t, err)

	r, err := f.withdraw(t, alice, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), r.Amount)
	assert.Equal(t, uint64(300), r.CTokenBalance)

	assert.Equal(t, snapshot{vault: 300, wallet: 700, cTokens: 300, totalSupply: 300}, f.snapshot(t, alice))
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.supply(t, alice, 100)
	require.NoError(t, err)
	_, err = f.supply(t, bob, 100)
	require.NoError(t, err)

	// The vault holds 200 but alice's claim is 100
	_, err = f.withdraw(t, alice, 101)
	assert.ErrorIs(t, err, guard.ErrInsufficientBalance)

	_, err = f.withdraw(t, pubkey.FromSeed("stranger"), 1)
	assert.ErrorIs(t, err, guard.ErrInsufficientBalance)

	assert.Equal(t, snapshot{vault: 200, wallet: 900, cTokens: 100, totalSupply: 200}, f.snapshot(t, alice))
}

// A failed outbound transfer after the debit must revert the debit.
func TestWithdraw_CustodyFailureRevertsDebit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	_, err := f.supply(t, alice, 500)
	require.NoError(t, err)
	before := f.snapshot(t, alice)

	// Destination of another mint: transfer fails after accounting was debited
	var yATA pubkey.PublicKey
	require.NoError(t, f.ledger.Execute(ctx, nil, func(txn *ledger.Txn) error {
		acc, err := token.CreateAssociatedAccount(ctx, txn, alice, mintY)
		if err != nil {
			return err
		}
		yATA = acc.Address
		return nil
	}))

	err = f.ledger.Execute(ctx, []pubkey.PublicKey{alice}, func(txn *ledger.Txn) error {
		_, err := f.service.Withdraw(ctx, txn, WithdrawParams{
			Market: f.market, User: alice, UserTokenAccount: yATA, Vault: f.vault, Amount: 100,
		})
		return err
	})
	assert.ErrorIs(t, err, guard.ErrVaultMintMismatch)

	assert.Equal(t, before, f.snapshot(t, alice))
}

func TestWithdraw_RequiresUserSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	_, err := f.supply(t, alice, 500)
	require.NoError(t, err)

	err = f.ledger.Execute(ctx, []pubkey.PublicKey{bob}, func(txn *ledger.Txn) error {
		_, err := f.service.Withdraw(ctx, txn, WithdrawParams{
			Market: f.market, User: alice, UserTokenAccount: f.wallets[bob], Vault: f.vault, Amount: 100,
		})
		return err
	})
	assert.ErrorIs(t, err, guard.ErrUnauthorized)
}

// Concurrent supplies to one position serialize: every success is counted
// exactly once and losers see a retryable conflict.
func TestSupply_ConcurrentNoLostUpdates(t *testing.T) {
	f := newFixture(t, 0)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded uint64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.supply(t, alice, 10)
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrConflict)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s := f.snapshot(t, alice)
	assert.Equal(t, succeeded*10, s.cTokens)
	assert.Equal(t, succeeded*10, s.totalSupply)
	assert.Equal(t, succeeded*10, s.vault)
	assert.Equal(t, 1000-succeeded*10, s.wallet)
}
