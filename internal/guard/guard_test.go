package guard

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage/memory"
)

type fixedSlot uint64

func (s fixedSlot) Slot(context.Context) (uint64, error) { return uint64(s), nil }

type signerSet map[pubkey.PublicKey]bool

func (s signerSet) IsSigner(k pubkey.PublicKey) bool { return s[k] }

var (
	programID      = pubkey.FromSeed("lending-program")
	supplyMint     = pubkey.FromSeed("supply-mint")
	collateralMint = pubkey.FromSeed("collateral-mint")
	alice          = pubkey.FromSeed("alice")
	bob            = pubkey.FromSeed("bob")
)

func TestRequireAuthority(t *testing.T) {
	signers := signerSet{alice: true}

	assert.NoError(t, RequireAuthority(signers, alice))
	assert.ErrorIs(t, RequireAuthority(signers, bob), ErrUnauthorized)
	assert.ErrorIs(t, RequireAuthority(signers, pubkey.Zero), ErrUnauthorized)
	assert.ErrorIs(t, RequireSigner(signers, bob), ErrUnauthorized)
}

func TestMarketSeeds_Layout(t *testing.T) {
	seeds := MarketSeeds(0x0102, supplyMint, collateralMint)
	require.Len(t, seeds, 4)
	assert.Equal(t, []byte("market"), seeds[0])
	assert.Equal(t, uint64(0x0102), binary.LittleEndian.Uint64(seeds[1]))
	assert.Equal(t, supplyMint[:], seeds[2])
	assert.Equal(t, collateralMint[:], seeds[3])
}

func TestMarketAddress_IdentityTupleIsUnique(t *testing.T) {
	base, _, err := MarketAddress(programID, 1, supplyMint, collateralMint)
	require.NoError(t, err)

	variants := map[string]func() (pubkey.PublicKey, uint8, error){
		"other id": func() (pubkey.PublicKey, uint8, error) {
			return MarketAddress(programID, 2, supplyMint, collateralMint)
		},
		"swapped mints": func() (pubkey.PublicKey, uint8, error) {
			return MarketAddress(programID, 1, collateralMint, supplyMint)
		},
		"other program": func() (pubkey.PublicKey, uint8, error) {
			return MarketAddress(pubkey.FromSeed("x"), 1, supplyMint, collateralMint)
		},
		"other supply mint": func() (pubkey.PublicKey, uint8, error) { return MarketAddress(programID, 1, alice, collateralMint) },
	}
	for name, derive := range variants {
		t.Run(name, func(t *testing.T) {
			addr, _, err := derive()
			require.NoError(t, err)
			assert.NotEqual(t, base, addr)
		})
	}

	again, _, err := MarketAddress(programID, 1, supplyMint, collateralMint)
	require.NoError(t, err)
	assert.Equal(t, base, again)
}

func TestVerifyMarketAddress(t *testing.T) {
	addr, bump, err := MarketAddress(programID, 7, supplyMint, collateralMint)
	require.NoError(t, err)

	m := &domain.Market{ID: 7, SupplyMint: supplyMint, CollateralMint: collateralMint}
	gotBump, err := VerifyMarketAddress(programID, addr, m)
	require.NoError(t, err)
	assert.Equal(t, bump, gotBump)

	// Another market's data presented under this address
	other := &domain.Market{ID: 8, SupplyMint: supplyMint, CollateralMint: collateralMint}
	_, err = VerifyMarketAddress(programID, addr, other)
	assert.ErrorIs(t, err, ErrAddressMismatch)
}

func TestLoaders_EnforceOwnerAndTag(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.NewAccountStore(), fixedSlot(1))

	oracleAddr := pubkey.FromSeed("oracle")
	foreignAddr := pubkey.FromSeed("foreign")
	marketTagged := pubkey.FromSeed("market-tagged")

	oracle, err := (&domain.PriceOracle{Authority: alice, Price: 100}).MarshalBinary()
	require.NoError(t, err)
	market, err := (&domain.Market{ID: 1}).MarshalBinary()
	require.NoError(t, err)

	require.NoError(t, l.Execute(ctx, nil, func(txn *ledger.Txn) error {
		require.NoError(t, txn.Create(ctx, programID, oracleAddr, oracle))
		require.NoError(t, txn.Create(ctx, pubkey.FromSeed("attacker"), foreignAddr, oracle))
		return txn.Create(ctx, programID, marketTagged, market)
	}))

	got, err := LoadOracle(ctx, l, programID, oracleAddr)
	require.NoError(t, err)
	assert.Equal(t, oracleAddr, got.Address)
	assert.Equal(t, uint64(100), got.Price)

	_, err = LoadOracle(ctx, l, programID, foreignAddr)
	assert.ErrorIs(t, err, ErrAccountTypeMismatch, "right layout, wrong owner")

	_, err = LoadOracle(ctx, l, programID, marketTagged)
	assert.ErrorIs(t, err, ErrAccountTypeMismatch, "right owner, wrong tag")

	_, err = LoadOracle(ctx, l, programID, pubkey.FromSeed("missing"))
	assert.ErrorIs(t, err, ErrAccountNotInitialized)

	_, err = LoadMarket(ctx, l, programID, marketTagged)
	assert.ErrorIs(t, err, ErrAddressMismatch, "market data at a non-canonical address")

	_, err = LoadConfig(ctx, l, programID)
	assert.ErrorIs(t, err, ErrConfigNotInitialized)
}

func TestLoadUserSupply(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.NewAccountStore(), fixedSlot(1))
	market := pubkey.FromSeed("market")

	addr, bump, err := UserSupplyAddress(programID, alice, market)
	require.NoError(t, err)

	// Bob's position stored at Alice's address must be rejected
	data, err := (&domain.UserSupplyAccount{Market: market, User: bob, Bump: bump}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, l.Execute(ctx, nil, func(txn *ledger.Txn) error {
		return txn.Create(ctx, programID, addr, data)
	}))

	_, err = LoadUserSupply(ctx, l, programID, alice, market)
	assert.ErrorIs(t, err, ErrAddressMismatch)
}
