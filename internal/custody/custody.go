// Package custody moves tokens out of market vaults. The only way to sign
// for a vault is a Capability, and the only way to obtain one is Authorize,
// which re-derives the market address from the market's own stored fields
// and stored bump.
package custody

import (
	"context"
	"errors"
	"fmt"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/token"
)

// Capability is the signing authority of one market over its vault.
type Capability struct {
	program pubkey.PublicKey
	market  pubkey.PublicKey
	vault   pubkey.PublicKey
	mint    pubkey.PublicKey
	seeds   [][]byte // market seeds including the stored bump
}

// Authorize mints the vault capability of m, presented at marketAddr.
func Authorize(programID, marketAddr pubkey.PublicKey, m *domain.Market) (*Capability, error) {
	if _, err := guard.VerifyMarketAddress(programID, marketAddr, m); err != nil {
		return nil, err
	}

	seeds := append(guard.MarketSeeds(m.ID, m.SupplyMint, m.CollateralMint), []byte{m.AuthorityBump})
	derived, err := pubkey.CreateProgramAddress(seeds, programID)
	if err != nil || derived != marketAddr {
		return nil, fmt.Errorf("%w: stored bump %d does not reproduce %s", guard.ErrInvalidSignerSeeds, m.AuthorityBump, marketAddr)
	}

	return &Capability{
		program: programID,
		market:  marketAddr,
		vault:   m.Vault,
		mint:    m.SupplyMint,
		seeds:   seeds,
	}, nil
}

// Market is the market address the capability signs for.
func (c *Capability) Market() pubkey.PublicKey { return c.market }

// Vault is the token account the capability controls.
func (c *Capability) Vault() pubkey.PublicKey { return c.vault }

// TransferOut moves amount from the vault to destination, signing with the
// capability's derived identity.
func TransferOut(ctx context.Context, txn *ledger.Txn, c *Capability, destination pubkey.PublicKey, amount uint64) error {
	if c == nil {
		return guard.ErrInvalidSignerSeeds
	}

	vault, err := token.LoadAccount(ctx, txn, c.vault)
	if err != nil {
		return fmt.Errorf("%w: %v", guard.ErrInvalidVault, err)
	}
	if vault.Owner != c.market {
		return fmt.Errorf("%w: vault owner %s", guard.ErrInvalidVault, vault.Owner)
	}
	if vault.Mint != c.mint {
		return guard.ErrVaultMintMismatch
	}
	if vault.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", guard.ErrInsufficientVaultBalance, vault.Amount, amount)
	}

	err = token.Transfer(ctx, txn, c.program, token.TransferParams{
		Source:      c.vault,
		Destination: destination,
		Authority:   c.market,
		Amount:      amount,
	}, c.seeds)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrMissingRequiredSignature), errors.Is(err, token.ErrOwnerMismatch):
		return fmt.Errorf("%w: %v", guard.ErrInvalidSignerSeeds, err)
	case errors.Is(err, token.ErrMintMismatch):
		return fmt.Errorf("%w: %v", guard.ErrVaultMintMismatch, err)
	case errors.Is(err, token.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", guard.ErrInsufficientVaultBalance, err)
	default:
		return err
	}
}
