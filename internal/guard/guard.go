// Package guard holds the authorization and derivation rules every lending
// component consults: a record's bound authority must have signed, and an
// account presented as a market or position must re-derive to its
// canonical address.
package guard

import (
	"context"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
)

// Seed prefixes of the program-derived addresses.
var (
	SeedMarket     = []byte("market")
	SeedUserSupply = []byte("user_supply")
	SeedConfig     = []byte("config")
)

// SignerSet answers whether a key signed the current request.
// ledger.Txn implements it.
type SignerSet interface {
	IsSigner(key pubkey.PublicKey) bool
}

// AccountReader reads accounts. ledger.Txn and ledger.Ledger implement it.
type AccountReader interface {
	Get(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error)
}

// RequireSigner fails with ErrUnauthorized unless key signed.
func RequireSigner(signers SignerSet, key pubkey.PublicKey) error {
	if key.IsZero() || !signers.IsSigner(key) {
		return fmt.Errorf("%w: %s did not sign", ErrUnauthorized, key)
	}
	return nil
}

// RequireAuthority fails with ErrUnauthorized unless the authority stored in
// a record signed. Only the stored field is compared.
func RequireAuthority(signers SignerSet, stored pubkey.PublicKey) error {
	if stored.IsZero() || !signers.IsSigner(stored) {
		return fmt.Errorf("%w: stored authority %s did not sign", ErrUnauthorized, stored)
	}
	return nil
}

// MarketSeeds returns the seeds of a market address without the bump:
// "market" | id (u64 LE) | supplyMint | collateralMint.
func MarketSeeds(id uint64, supplyMint, collateralMint pubkey.PublicKey) [][]byte {
	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, id)
	return [][]byte{SeedMarket, idBytes, supplyMint[:], collateralMint[:]}
}

// MarketAddress derives the canonical market address and its bump.
func MarketAddress(programID pubkey.PublicKey, id uint64, supplyMint, collateralMint pubkey.PublicKey) (pubkey.PublicKey, uint8, error) {
	return pubkey.FindProgramAddress(MarketSeeds(id, supplyMint, collateralMint), programID)
}

// UserSupplyAddress derives the position address of user in market.
func UserSupplyAddress(programID, user, market pubkey.PublicKey) (pubkey.PublicKey, uint8, error) {
	return pubkey.FindProgramAddress([][]byte{SeedUserSupply, user[:], market[:]}, programID)
}

// ConfigAddress derives the deployment config address.
func ConfigAddress(programID pubkey.PublicKey) (pubkey.PublicKey, uint8, error) {
	return pubkey.FindProgramAddress([][]byte{SeedConfig}, programID)
}

// VerifyMarketAddress re-derives the market address from the record's own
// identity fields and requires it to equal presented.
func VerifyMarketAddress(programID, presented pubkey.PublicKey, m *domain.Market) (uint8, error) {
	want, bump, err := MarketAddress(programID, m.ID, m.SupplyMint, m.CollateralMint)
	if err != nil {
		return 0, fmt.Errorf("derive market address: %w", err)
	}
	if want != presented {
		return 0, fmt.Errorf("%w: presented %s, derived %s", ErrAddressMismatch, presented, want)
	}
	return bump, nil
}

type record interface {
	encoding.BinaryUnmarshaler
	SetAddress(pubkey.PublicKey)
}

// load reads address and decodes it into rec, requiring the account to be
// owned by programID and to carry rec's type tag.
func load[T any, P interface {
	*T
	record
}](ctx context.Context, r AccountReader, programID, address pubkey.PublicKey) (*T, error) {
	acc, err := r.Get(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotInitialized, address)
		}
		return nil, err
	}
	if acc.Owner != programID {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrAccountTypeMismatch, address, acc.Owner)
	}

	var v T
	p := P(&v)
	if err := p.UnmarshalBinary(acc.Data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAccountTypeMismatch, address, err)
	}
	p.SetAddress(address)
	return &v, nil
}

// LoadOracle loads a price oracle owned by programID.
func LoadOracle(ctx context.Context, r AccountReader, programID, address pubkey.PublicKey) (*domain.PriceOracle, error) {
	return load[domain.PriceOracle](ctx, r, programID, address)
}

// LoadConfig loads the deployment config.
func LoadConfig(ctx context.Context, r AccountReader, programID pubkey.PublicKey) (*domain.Config, error) {
	address, _, err := ConfigAddress(programID)
	if err != nil {
		return nil, err
	}
	cfg, err := load[domain.Config](ctx, r, programID, address)
	if errors.Is(err, ErrAccountNotInitialized) {
		return nil, ErrConfigNotInitialized
	}
	return cfg, err
}

// LoadMarket loads a market and verifies that address is the canonical
// derivation of the record's identity fields.
func LoadMarket(ctx context.Context, r AccountReader, programID, address pubkey.PublicKey) (*domain.Market, error) {
	m, err := load[domain.Market](ctx, r, programID, address)
	if err != nil {
		return nil, err
	}
	if _, err := VerifyMarketAddress(programID, address, m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadUserSupply loads a position and verifies it belongs to (user, market)
// at the canonical address.
func LoadUserSupply(ctx context.Context, r AccountReader, programID, user, market pubkey.PublicKey) (*domain.UserSupplyAccount, error) {
	address, _, err := UserSupplyAddress(programID, user, market)
	if err != nil {
		return nil, err
	}
	u, err := load[domain.UserSupplyAccount](ctx, r, programID, address)
	if err != nil {
		return nil, err
	}
	if u.User != user || u.Market != market {
		return nil, fmt.Errorf("%w: position %s", ErrAddressMismatch, address)
	}
	return u, nil
}
