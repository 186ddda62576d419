package domain

import (
	"fmt"

	"solana-lending-lab/internal/pubkey"
)

// Mint describes a fungible token.
type Mint struct {
	Address        pubkey.PublicKey // mint address (not serialized)
	MintAuthority  pubkey.PublicKey // signer required by MintTo
	Supply         uint64
	Decimals       uint8
	TransferFeeBps uint16 // withheld and burned on every transfer
}

// MintSize is the serialized length including the tag.
const MintSize = TagSize + 32 + 8 + 1 + 2

// MarshalBinary encodes the record with its type tag.
func (m *Mint) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagMint, MintSize)
	e.key(m.MintAuthority)
	e.u64(m.Supply)
	e.u8(m.Decimals)
	e.u16(m.TransferFeeBps)
	return e.buf, nil
}

// UnmarshalBinary decodes data, rejecting any other record type.
func (m *Mint) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, &TagMint, MintSize)
	m.MintAuthority = d.key()
	m.Supply = d.u64()
	m.Decimals = d.u8()
	m.TransferFeeBps = d.u16()
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (m *Mint) SetAddress(a pubkey.PublicKey) { m.Address = a }

// TokenAccountState is the lifecycle state of a token account.
type TokenAccountState uint8

// Token account states.
const (
	TokenAccountUninitialized TokenAccountState = 0
	TokenAccountInitialized   TokenAccountState = 1
)

// TokenAccount holds a balance of one mint for one owner.
// Layout: mint(32) | owner(32) | amount(8) | state(1), the SPL token account prefix.
type TokenAccount struct {
	Address pubkey.PublicKey // token account address (not serialized)
	Mint    pubkey.PublicKey
	Owner   pubkey.PublicKey // authority allowed to move the balance
	Amount  uint64
	State   TokenAccountState
}

// TokenAccountSize is the serialized length.
const TokenAccountSize = 32 + 32 + 8 + 1

// MarshalBinary encodes the account.
func (t *TokenAccount) MarshalBinary() ([]byte, error) {
	e := newEncoder(nil, TokenAccountSize)
	e.key(t.Mint)
	e.key(t.Owner)
	e.u64(t.Amount)
	e.u8(uint8(t.State))
	return e.buf, nil
}

// UnmarshalBinary decodes data. Exact length is required since token
// accounts carry no tag.
func (t *TokenAccount) UnmarshalBinary(data []byte) error {
	if len(data) != TokenAccountSize {
		return fmt.Errorf("%w: token account length %d", ErrTypeMismatch, len(data))
	}
	d := newDecoder(data, nil, TokenAccountSize)
	t.Mint = d.key()
	t.Owner = d.key()
	t.Amount = d.u64()
	t.State = TokenAccountState(d.u8())
	if d.err == nil && t.State == TokenAccountUninitialized {
		return fmt.Errorf("%w: token account not initialized", ErrTypeMismatch)
	}
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (t *TokenAccount) SetAddress(a pubkey.PublicKey) { t.Address = a }
