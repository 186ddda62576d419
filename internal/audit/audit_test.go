package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/keypair"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
	"solana-lending-lab/internal/storage/memory"
	"solana-lending-lab/internal/token"
)

type fixedSlot uint64

func (s fixedSlot) Slot(context.Context) (uint64, error) { return uint64(s), nil }

var (
	programID = pubkey.FromSeed("lending-program")
	admin     = keypair.FromSeed("admin")
	mintAuth  = keypair.FromSeed("mint-authority")
	mintX     = keypair.FromSeed("mint-x")
	mintY     = keypair.FromSeed("mint-y")
	oracleX   = keypair.FromSeed("oracle-x")
	oracleY   = keypair.FromSeed("oracle-y")
)

type fixture struct {
	store  *memory.AccountStore
	ledger *ledger.Ledger
	proc   *program.Processor
	market pubkey.PublicKey
	vault  pubkey.PublicKey
	nonce  uint64
}

func (f *fixture) do(t *testing.T, ix program.Instruction, signers ...*keypair.Keypair) *program.Result {
	t.Helper()
	f.nonce++
	req := &program.Request{Nonce: f.nonce, Instruction: ix}
	for _, s := range signers {
		require.NoError(t, program.Sign(req, s.PrivateKey()))
	}
	res, err := f.proc.Process(context.Background(), req)
	require.NoError(t, err, "instruction %s", ix.Kind)
	return res
}

// newFixture creates market 1 and lets each named user supply the given amount.
func newFixture(t *testing.T, supplies map[string]uint64) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewAccountStore()}
	f.ledger = ledger.New(f.store, fixedSlot(9))
	f.proc = program.NewProcessor(programID, f.ledger)

	var err error
	f.market, _, err = guard.MarketAddress(programID, 1, mintX.PublicKey(), mintY.PublicKey())
	require.NoError(t, err)
	f.vault, err = token.AssociatedAddress(f.market, mintX.PublicKey())
	require.NoError(t, err)

	f.do(t, program.Instruction{Kind: program.KindInitialize, Initialize: &program.InitializeArgs{Admin: admin.PublicKey()}}, admin)
	for _, m := range []*keypair.Keypair{mintX, mintY} {
		f.do(t, program.Instruction{Kind: program.KindCreateMint, CreateMint: &program.CreateMintArgs{
			Mint: m.PublicKey(), MintAuthority: mintAuth.PublicKey(),
		}}, mintAuth, m)
	}
	for _, o := range []*keypair.Keypair{oracleX, oracleY} {
		f.do(t, program.Instruction{Kind: program.KindCreateOracle, CreateOracle: &program.CreateOracleArgs{
			Oracle: o.PublicKey(), Price: 1,
		}}, admin, o)
	}
	f.do(t, program.Instruction{Kind: program.KindCreateAssociatedTokenAccount, CreateAssociatedTokenAccount: &program.CreateAssociatedTokenAccountArgs{
		Owner: f.market, Mint: mintX.PublicKey(),
	}}, admin)
	f.do(t, program.Instruction{Kind: program.KindCreateMarket, CreateMarket: &program.CreateMarketArgs{
		Market: f.market, ID: 1,
		SupplyMint: mintX.PublicKey(), CollateralMint: mintY.PublicKey(),
		SupplyOracle: oracleX.PublicKey(), CollateralOracle: oracleY.PublicKey(),
		Vault: f.vault,
	}}, admin)

	for name, amount := range supplies {
		user := keypair.FromSeed(name)
		res := f.do(t, program.Instruction{Kind: program.KindCreateAssociatedTokenAccount, CreateAssociatedTokenAccount: &program.CreateAssociatedTokenAccountArgs{
			Owner: user.PublicKey(), Mint: mintX.PublicKey(),
		}}, user)
		wallet := res.TokenAccount.Address
		f.do(t, program.Instruction{Kind: program.KindMintTo, MintTo: &program.MintToArgs{
			Mint: mintX.PublicKey(), Destination: wallet, Amount: amount,
		}}, mintAuth)
		f.do(t, program.Instruction{Kind: program.KindSupply, Supply: &program.SupplyArgs{
			Market: f.market, UserTokenAccount: wallet, Vault: f.vault, Amount: amount,
		}}, user)
	}
	return f
}

// overwrite replaces committed account data, bypassing every program check.
func (f *fixture) overwrite(t *testing.T, address pubkey.PublicKey, mutate func(data []byte) []byte) {
	t.Helper()
	ctx := context.Background()
	acc, err := f.store.Get(ctx, address)
	require.NoError(t, err)
	require.NoError(t, f.store.Commit(ctx, []storage.AccountWrite{{
		Address: address, Owner: acc.Owner, Data: mutate(acc.Data), ExpectedVersion: acc.Version,
	}}))
}

func TestCheckMarket_Healthy(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 300, "bob": 200, "carol": 1})

	report, err := New(programID, f.ledger).CheckMarket(context.Background(), f.market)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %v", report.Violations)
	assert.Equal(t, 3, report.Positions)
	assert.Equal(t, "501", report.PositionsTotal)
	assert.Equal(t, uint64(501), report.TotalSupply)
	assert.Equal(t, uint64(501), report.VaultBalance)
	assert.Equal(t, uint64(9), report.Slot)
}

func TestCheckMarket_SupplyMismatch(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 300})

	f.overwrite(t, f.market, func(data []byte) []byte {
		var m domain.Market
		require.NoError(t, m.UnmarshalBinary(data))
		m.TotalSupply = 250
		out, err := m.MarshalBinary()
		require.NoError(t, err)
		return out
	})

	report, err := New(programID, f.ledger).CheckMarket(context.Background(), f.market)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, ViolationSupplyMismatch, report.Violations[0].Kind)
}

func TestCheckMarket_VaultShortfall(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 300})

	f.overwrite(t, f.vault, func(data []byte) []byte {
		var acc domain.TokenAccount
		require.NoError(t, acc.UnmarshalBinary(data))
		acc.Amount = 100
		out, err := acc.MarshalBinary()
		require.NoError(t, err)
		return out
	})

	report, err := New(programID, f.ledger).CheckMarket(context.Background(), f.market)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, ViolationUndercollateralized, report.Violations[0].Kind)
}

func TestCheckMarket_ForeignPosition(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 300})

	// a position record at an arbitrary address, claiming to belong to the market
	forged := &domain.UserSupplyAccount{Market: f.market, User: pubkey.FromSeed("mallory"), CTokenBalance: 1_000}
	data, err := forged.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, f.store.Commit(context.Background(), []storage.AccountWrite{{
		Address: pubkey.FromSeed("forged-position"), Owner: programID, Data: data,
	}}))

	report, err := New(programID, f.ledger).CheckMarket(context.Background(), f.market)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, ViolationForeignPosition, report.Violations[0].Kind)
	assert.Equal(t, "300", report.PositionsTotal)
}

func TestCheckMarket_UnknownMarket(t *testing.T) {
	f := newFixture(t, nil)
	_, err := New(programID, f.ledger).CheckMarket(context.Background(), pubkey.FromSeed("nowhere"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
