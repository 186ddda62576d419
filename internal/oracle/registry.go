// Package oracle owns price-feed records. A feed is bound at creation to
// the identity that created it, and only that identity may change its price.
package oracle

import (
	"context"
	"fmt"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
)

// DefaultExponent scales prices to six decimal places.
const DefaultExponent int8 = -6

// Registry creates and updates price oracles owned by one program.
type Registry struct {
	programID pubkey.PublicKey
}

// NewRegistry creates a Registry for programID.
func NewRegistry(programID pubkey.PublicKey) *Registry {
	return &Registry{programID: programID}
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	Oracle    pubkey.PublicKey // fresh keypair address, must sign
	Authority pubkey.PublicKey // creator, must sign; bound for life
	Price     uint64
	Exponent  int8
}

// Create allocates a feed bound to p.Authority.
func (r *Registry) Create(ctx context.Context, txn *ledger.Txn, p CreateParams) (*domain.PriceOracle, error) {
	if err := guard.RequireSigner(txn, p.Authority); err != nil {
		return nil, err
	}
	if err := guard.RequireSigner(txn, p.Oracle); err != nil {
		return nil, err
	}
	if p.Price == 0 {
		return nil, guard.ErrInvalidPrice
	}

	o := &domain.PriceOracle{
		Address:         p.Oracle,
		Authority:       p.Authority,
		Price:           p.Price,
		Exponent:        p.Exponent,
		LastUpdatedSlot: txn.Slot(),
	}
	data, err := o.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := txn.Create(ctx, r.programID, p.Oracle, data); err != nil {
		return nil, fmt.Errorf("create oracle: %w", err)
	}
	return o, nil
}

// Update sets a new price. The feed's stored authority must have signed.
func (r *Registry) Update(ctx context.Context, txn *ledger.Txn, address pubkey.PublicKey, price uint64) (*domain.PriceOracle, error) {
	o, err := guard.LoadOracle(ctx, txn, r.programID, address)
	if err != nil {
		return nil, err
	}
	if err := guard.RequireAuthority(txn, o.Authority); err != nil {
		return nil, err
	}
	if price == 0 {
		return nil, guard.ErrInvalidPrice
	}

	o.Price = price
	o.LastUpdatedSlot = txn.Slot()

	data, err := o.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := txn.Put(ctx, r.programID, address, data); err != nil {
		return nil, fmt.Errorf("update oracle: %w", err)
	}
	return o, nil
}

// Load reads a feed, requiring the PriceOracle type tag.
func (r *Registry) Load(ctx context.Context, reader guard.AccountReader, address pubkey.PublicKey) (*domain.PriceOracle, error) {
	return guard.LoadOracle(ctx, reader, r.programID, address)
}
