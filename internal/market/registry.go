// Package market owns the deployment config and lending markets. A market's
// address is a pure function of (id, supplyMint, collateralMint), so the
// ledger's create-if-absent primitive is the only uniqueness guard.
package market

import (
	"context"
	"fmt"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/token"
)

// Registry manages Config and Market records of one program.
type Registry struct {
	programID pubkey.PublicKey
}

// NewRegistry creates a Registry for programID.
func NewRegistry(programID pubkey.PublicKey) *Registry {
	return &Registry{programID: programID}
}

// Initialize creates the deployment config. The admin must sign.
func (r *Registry) Initialize(ctx context.Context, txn *ledger.Txn, admin pubkey.PublicKey, permissioned bool) (*domain.Config, error) {
	if err := guard.RequireSigner(txn, admin); err != nil {
		return nil, err
	}

	address, bump, err := guard.ConfigAddress(r.programID)
	if err != nil {
		return nil, fmt.Errorf("derive config address: %w", err)
	}

	cfg := &domain.Config{
		Address:             address,
		Admin:               admin,
		PermissionedMarkets: permissioned,
		Bump:                bump,
	}
	data, err := cfg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	txn.OnExists(address, guard.ErrConfigAlreadyInitialized)
	if err := txn.Create(ctx, r.programID, address, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAdmin rotates the config admin. The current admin must sign.
func (r *Registry) SetAdmin(ctx context.Context, txn *ledger.Txn, newAdmin pubkey.PublicKey) (*domain.Config, error) {
	cfg, err := guard.LoadConfig(ctx, txn, r.programID)
	if err != nil {
		return nil, err
	}
	if err := guard.RequireAuthority(txn, cfg.Admin); err != nil {
		return nil, err
	}
	if newAdmin.IsZero() {
		return nil, fmt.Errorf("%w: zero admin", guard.ErrUnauthorized)
	}

	cfg.Admin = newAdmin
	data, err := cfg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := txn.Put(ctx, r.programID, cfg.Address, data); err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}
	return cfg, nil
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	Market           pubkey.PublicKey // presented market address
	ID               uint64
	SupplyMint       pubkey.PublicKey
	CollateralMint   pubkey.PublicKey
	SupplyOracle     pubkey.PublicKey
	CollateralOracle pubkey.PublicKey
	Vault            pubkey.PublicKey
	Authority        pubkey.PublicKey // creator, must sign
}

// Create registers a market. Checks run in this order:
//  1. the authority signed
//  2. the presented address is the canonical derivation (ErrAddressMismatch)
//  3. the address is unused (ErrMarketAlreadyExists)
//  4. config exists and, when permissioned, the authority is the admin
//  5. the vault is a supply-mint token account owned by the market address (ErrInvalidVault)
//  6. both oracle references are price oracles of this program (ErrInvalidOracle)
func (r *Registry) Create(ctx context.Context, txn *ledger.Txn, p CreateParams) (*domain.Market, error) {
	if err := guard.RequireSigner(txn, p.Authority); err != nil {
		return nil, err
	}

	address, bump, err := guard.MarketAddress(r.programID, p.ID, p.SupplyMint, p.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("derive market address: %w", err)
	}
	if address != p.Market {
		return nil, fmt.Errorf("%w: presented %s, derived %s", guard.ErrAddressMismatch, p.Market, address)
	}

	txn.OnExists(address, guard.ErrMarketAlreadyExists)
	exists, err := txn.Exists(ctx, address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", guard.ErrMarketAlreadyExists, address)
	}

	cfg, err := guard.LoadConfig(ctx, txn, r.programID)
	if err != nil {
		return nil, err
	}
	if cfg.PermissionedMarkets && p.Authority != cfg.Admin {
		return nil, fmt.Errorf("%w: %s is not the admin", guard.ErrUnauthorized, p.Authority)
	}

	if err := r.verifyVault(ctx, txn, address, p); err != nil {
		return nil, err
	}
	for _, ref := range []pubkey.PublicKey{p.SupplyOracle, p.CollateralOracle} {
		if _, err := guard.LoadOracle(ctx, txn, r.programID, ref); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", guard.ErrInvalidOracle, ref, err)
		}
	}

	m := &domain.Market{
		Address:          address,
		ID:               p.ID,
		SupplyMint:       p.SupplyMint,
		CollateralMint:   p.CollateralMint,
		SupplyOracle:     p.SupplyOracle,
		CollateralOracle: p.CollateralOracle,
		Vault:            p.Vault,
		Authority:        p.Authority,
		AuthorityBump:    bump,
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := txn.Create(ctx, r.programID, address, data); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Registry) verifyVault(ctx context.Context, txn *ledger.Txn, market pubkey.PublicKey, p CreateParams) error {
	if _, err := token.LoadMint(ctx, txn, p.SupplyMint); err != nil {
		return fmt.Errorf("%w: supply mint: %v", guard.ErrInvalidVault, err)
	}
	if _, err := token.LoadMint(ctx, txn, p.CollateralMint); err != nil {
		return fmt.Errorf("%w: collateral mint: %v", guard.ErrInvalidVault, err)
	}

	vault, err := token.LoadAccount(ctx, txn, p.Vault)
	if err != nil {
		return fmt.Errorf("%w: %v", guard.ErrInvalidVault, err)
	}
	if vault.Owner != market {
		return fmt.Errorf("%w: vault owner %s is not market %s", guard.ErrInvalidVault, vault.Owner, market)
	}
	if vault.Mint != p.SupplyMint {
		return fmt.Errorf("%w: %w", guard.ErrInvalidVault, guard.ErrVaultMintMismatch)
	}
	return nil
}

// Load reads a market and verifies its address.
func (r *Registry) Load(ctx context.Context, reader guard.AccountReader, address pubkey.PublicKey) (*domain.Market, error) {
	return guard.LoadMarket(ctx, reader, r.programID, address)
}

// Config reads the deployment config.
func (r *Registry) Config(ctx context.Context, reader guard.AccountReader) (*domain.Config, error) {
	return guard.LoadConfig(ctx, reader, r.programID)
}
