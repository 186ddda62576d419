// Package token implements an SPL-style token program on the ledger:
// mints, token accounts, minting and transfers. A transfer's authority is
// proven either by a request signature or, for program-derived owners, by
// signer seeds that derive the owner under the invoking program.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
)

// Program ids, identical to the Solana mainnet programs.
var (
	ProgramID           = pubkey.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedProgramID = pubkey.MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// MaxTransferFeeBps is 100%.
const MaxTransferFeeBps = 10_000

var (
	// ErrInsufficientFunds is returned when the source balance is below the amount.
	ErrInsufficientFunds = errors.New("token: insufficient funds")

	// ErrMintMismatch is returned when accounts of different mints are combined.
	ErrMintMismatch = errors.New("token: mint mismatch")

	// ErrOwnerMismatch is returned when the authority is not the source owner.
	ErrOwnerMismatch = errors.New("token: owner does not match")

	// ErrMissingRequiredSignature is returned when the authority neither signed
	// nor is derived from the supplied signer seeds.
	ErrMissingRequiredSignature = errors.New("token: missing required signature")

	// ErrInvalidAccountData is returned when an address does not hold a token
	// program account of the expected type.
	ErrInvalidAccountData = errors.New("token: invalid account data")

	// ErrInvalidAmount is returned for zero amounts.
	ErrInvalidAmount = errors.New("token: invalid amount")

	// ErrInvalidFee is returned for a transfer fee above 100%.
	ErrInvalidFee = errors.New("token: invalid transfer fee")

	// ErrOverflow is returned when a balance or supply would exceed 2^64-1.
	ErrOverflow = errors.New("token: arithmetic overflow")
)

// AccountReader is satisfied by ledger.Txn and ledger.Ledger.
type AccountReader interface {
	Get(ctx context.Context, address pubkey.PublicKey) (*domain.Account, error)
}

// AssociatedAddress returns the canonical token account of owner for mint.
func AssociatedAddress(owner, mint pubkey.PublicKey) (pubkey.PublicKey, error) {
	addr, _, err := pubkey.FindProgramAddress(
		[][]byte{owner[:], ProgramID[:], mint[:]},
		AssociatedProgramID,
	)
	if err != nil {
		return pubkey.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

// LoadMint reads a mint.
func LoadMint(ctx context.Context, r AccountReader, address pubkey.PublicKey) (*domain.Mint, error) {
	data, err := programData(ctx, r, address)
	if err != nil {
		return nil, err
	}
	var m domain.Mint
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: mint %s: %v", ErrInvalidAccountData, address, err)
	}
	m.SetAddress(address)
	return &m, nil
}

// LoadAccount reads a token account.
func LoadAccount(ctx context.Context, r AccountReader, address pubkey.PublicKey) (*domain.TokenAccount, error) {
	data, err := programData(ctx, r, address)
	if err != nil {
		return nil, err
	}
	var a domain.TokenAccount
	if err := a.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: token account %s: %v", ErrInvalidAccountData, address, err)
	}
	a.SetAddress(address)
	return &a, nil
}

// BalanceOf returns the amount held by a token account.
func BalanceOf(ctx context.Context, r AccountReader, address pubkey.PublicKey) (uint64, error) {
	a, err := LoadAccount(ctx, r, address)
	if err != nil {
		return 0, err
	}
	return a.Amount, nil
}

func programData(ctx context.Context, r AccountReader, address pubkey.PublicKey) ([]byte, error) {
	acc, err := r.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if acc.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s not owned by token program", ErrInvalidAccountData, address)
	}
	return acc.Data, nil
}

// InitializeMintParams are the inputs of InitializeMint.
type InitializeMintParams struct {
	Mint           pubkey.PublicKey // fresh keypair address, must sign
	MintAuthority  pubkey.PublicKey
	Decimals       uint8
	TransferFeeBps uint16
}

// InitializeMint allocates a new mint.
func InitializeMint(ctx context.Context, txn *ledger.Txn, p InitializeMintParams) (*domain.Mint, error) {
	if !txn.IsSigner(p.Mint) {
		return nil, fmt.Errorf("%w: mint %s", ErrMissingRequiredSignature, p.Mint)
	}
	if p.TransferFeeBps > MaxTransferFeeBps {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidFee, p.TransferFeeBps)
	}

	m := &domain.Mint{
		Address:        p.Mint,
		MintAuthority:  p.MintAuthority,
		Decimals:       p.Decimals,
		TransferFeeBps: p.TransferFeeBps,
	}
	if err := create(ctx, txn, p.Mint, m); err != nil {
		return nil, err
	}
	return m, nil
}

// InitializeAccount allocates a token account at a fresh keypair address,
// which must sign.
func InitializeAccount(ctx context.Context, txn *ledger.Txn, account, mint, owner pubkey.PublicKey) (*domain.TokenAccount, error) {
	if !txn.IsSigner(account) {
		return nil, fmt.Errorf("%w: account %s", ErrMissingRequiredSignature, account)
	}
	return openAccount(ctx, txn, account, mint, owner)
}

// CreateAssociatedAccount allocates the associated token account of owner
// for mint. No signature is needed: the address is fixed by (owner, mint).
func CreateAssociatedAccount(ctx context.Context, txn *ledger.Txn, owner, mint pubkey.PublicKey) (*domain.TokenAccount, error) {
	addr, err := AssociatedAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	return openAccount(ctx, txn, addr, mint, owner)
}

func openAccount(ctx context.Context, txn *ledger.Txn, account, mint, owner pubkey.PublicKey) (*domain.TokenAccount, error) {
	if _, err := LoadMint(ctx, txn, mint); err != nil {
		return nil, err
	}

	a := &domain.TokenAccount{
		Address: account,
		Mint:    mint,
		Owner:   owner,
		State:   domain.TokenAccountInitialized,
	}
	if err := create(ctx, txn, account, a); err != nil {
		return nil, err
	}
	return a, nil
}

// MintTo creates amount new tokens in destination. The mint authority must sign.
func MintTo(ctx context.Context, txn *ledger.Txn, mint, destination pubkey.PublicKey, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	m, err := LoadMint(ctx, txn, mint)
	if err != nil {
		return err
	}
	if !txn.IsSigner(m.MintAuthority) {
		return fmt.Errorf("%w: mint authority %s", ErrMissingRequiredSignature, m.MintAuthority)
	}

	dst, err := LoadAccount(ctx, txn, destination)
	if err != nil {
		return err
	}
	if dst.Mint != mint {
		return ErrMintMismatch
	}

	if m.Supply, err = add(m.Supply, amount); err != nil {
		return err
	}
	if dst.Amount, err = add(dst.Amount, amount); err != nil {
		return err
	}

	if err := put(ctx, txn, mint, m); err != nil {
		return err
	}
	return put(ctx, txn, destination, dst)
}

// TransferParams are the inputs of Transfer.
type TransferParams struct {
	Source      pubkey.PublicKey
	Destination pubkey.PublicKey
	Authority   pubkey.PublicKey // must equal the source owner
	Amount      uint64
}

// Transfer moves Amount from Source to Destination. If the mint charges a
// transfer fee, the fee is burned and Destination receives Amount - fee.
//
// The authority must have signed the request, or one of signerSeeds must
// derive it under invoker, the program on whose behalf the call is made.
func Transfer(ctx context.Context, txn *ledger.Txn, invoker pubkey.PublicKey, p TransferParams, signerSeeds ...[][]byte) error {
	if p.Amount == 0 {
		return ErrInvalidAmount
	}

	src, err := LoadAccount(ctx, txn, p.Source)
	if err != nil {
		return err
	}
	dst, err := LoadAccount(ctx, txn, p.Destination)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Owner != p.Authority {
		return fmt.Errorf("%w: source %s", ErrOwnerMismatch, p.Source)
	}
	if !authorized(txn, invoker, p.Authority, signerSeeds) {
		return fmt.Errorf("%w: authority %s", ErrMissingRequiredSignature, p.Authority)
	}
	if src.Amount < p.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, p.Amount)
	}

	m, err := LoadMint(ctx, txn, src.Mint)
	if err != nil {
		return err
	}
	fee := transferFee(p.Amount, m.TransferFeeBps)

	src.Amount -= p.Amount
	if p.Source == p.Destination {
		dst = src
	}
	if dst.Amount, err = add(dst.Amount, p.Amount-fee); err != nil {
		return err
	}

	if err := put(ctx, txn, p.Source, src); err != nil {
		return err
	}
	if p.Source != p.Destination {
		if err := put(ctx, txn, p.Destination, dst); err != nil {
			return err
		}
	}
	if fee > 0 {
		m.Supply -= fee
		return put(ctx, txn, m.Address, m)
	}
	return nil
}

func authorized(txn *ledger.Txn, invoker, authority pubkey.PublicKey, signerSeeds [][][]byte) bool {
	if txn.IsSigner(authority) {
		return true
	}
	for _, seeds := range signerSeeds {
		derived, err := pubkey.CreateProgramAddress(seeds, invoker)
		if err == nil && derived == authority {
			return true
		}
	}
	return false
}

// transferFee is amount * bps / 10000, rounded down.
func transferFee(amount uint64, bps uint16) uint64 {
	if bps == 0 {
		return 0
	}
	fee := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	return fee.Div(fee, uint256.NewInt(MaxTransferFeeBps)).Uint64()
}

func add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

type record interface {
	MarshalBinary() ([]byte, error)
}

func create(ctx context.Context, txn *ledger.Txn, address pubkey.PublicKey, r record) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return txn.Create(ctx, ProgramID, address, data)
}

func put(ctx context.Context, txn *ledger.Txn, address pubkey.PublicKey, r record) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return txn.Put(ctx, ProgramID, address, data)
}
