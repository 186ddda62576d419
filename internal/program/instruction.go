package program

import (
	"errors"
	"fmt"

	"solana-lending-lab/internal/pubkey"
)

// Kind names an instruction.
type Kind string

// Instruction kinds.
const (
	KindInitialize                   Kind = "initialize"
	KindSetAdmin                     Kind = "setAdmin"
	KindCreateOracle                 Kind = "createOracle"
	KindUpdateOracle                 Kind = "updateOracle"
	KindCreateMarket                 Kind = "createMarket"
	KindSupply                       Kind = "supply"
	KindWithdraw                     Kind = "withdraw"
	KindCreateMint                   Kind = "createMint"
	KindCreateTokenAccount           Kind = "createTokenAccount"
	KindCreateAssociatedTokenAccount Kind = "createAssociatedTokenAccount"
	KindMintTo                       Kind = "mintTo"
)

// ErrMalformedInstruction is returned when the payload does not match Kind.
var ErrMalformedInstruction = errors.New("malformed instruction")

// Instruction is a tagged union: Kind selects exactly one non-nil payload.
// The caller of an instruction is the first request signer.
type Instruction struct {
	Kind Kind `json:"kind"`

	Initialize                   *InitializeArgs                   `json:"initialize,omitempty"`
	SetAdmin                     *SetAdminArgs                     `json:"setAdmin,omitempty"`
	CreateOracle                 *CreateOracleArgs                 `json:"createOracle,omitempty"`
	UpdateOracle                 *UpdateOracleArgs                 `json:"updateOracle,omitempty"`
	CreateMarket                 *CreateMarketArgs                 `json:"createMarket,omitempty"`
	Supply                       *SupplyArgs                       `json:"supply,omitempty"`
	Withdraw                     *WithdrawArgs                     `json:"withdraw,omitempty"`
	CreateMint                   *CreateMintArgs                   `json:"createMint,omitempty"`
	CreateTokenAccount           *CreateTokenAccountArgs           `json:"createTokenAccount,omitempty"`
	CreateAssociatedTokenAccount *CreateAssociatedTokenAccountArgs `json:"createAssociatedTokenAccount,omitempty"`
	MintTo                       *MintToArgs                       `json:"mintTo,omitempty"`
}

// InitializeArgs creates the deployment config. Admin must sign.
type InitializeArgs struct {
	Admin               pubkey.PublicKey `json:"admin"`
	PermissionedMarkets bool             `json:"permissionedMarkets"`
}

// SetAdminArgs rotates the config admin. The current admin must sign.
type SetAdminArgs struct {
	NewAdmin pubkey.PublicKey `json:"newAdmin"`
}

// CreateOracleArgs creates a feed bound to the caller. Oracle must sign.
type CreateOracleArgs struct {
	Oracle   pubkey.PublicKey `json:"oracle"`
	Price    uint64           `json:"price"`
	Exponent *int8            `json:"exponent,omitempty"` // default -6
}

// UpdateOracleArgs sets a new price.
type UpdateOracleArgs struct {
	Oracle pubkey.PublicKey `json:"oracle"`
	Price  uint64           `json:"price"`
}

// CreateMarketArgs registers a market with the caller as authority.
type CreateMarketArgs struct {
	Market           pubkey.PublicKey `json:"market"`
	ID               uint64           `json:"id"`
	SupplyMint       pubkey.PublicKey `json:"supplyMint"`
	CollateralMint   pubkey.PublicKey `json:"collateralMint"`
	SupplyOracle     pubkey.PublicKey `json:"supplyOracle"`
	CollateralOracle pubkey.PublicKey `json:"collateralOracle"`
	Vault            pubkey.PublicKey `json:"vault"`
}

// SupplyArgs supplies from the caller's token account.
type SupplyArgs struct {
	Market           pubkey.PublicKey `json:"market"`
	UserTokenAccount pubkey.PublicKey `json:"userTokenAccount"`
	Vault            pubkey.PublicKey `json:"vault"`
	Amount           uint64           `json:"amount"`
}

// WithdrawArgs withdraws into the caller's token account.
type WithdrawArgs struct {
	Market           pubkey.PublicKey `json:"market"`
	UserTokenAccount pubkey.PublicKey `json:"userTokenAccount"`
	Vault            pubkey.PublicKey `json:"vault"`
	Amount           uint64           `json:"amount"`
}

// CreateMintArgs creates a mint. Mint must sign.
type CreateMintArgs struct {
	Mint           pubkey.PublicKey `json:"mint"`
	MintAuthority  pubkey.PublicKey `json:"mintAuthority"`
	Decimals       uint8            `json:"decimals"`
	TransferFeeBps uint16           `json:"transferFeeBps,omitempty"`
}

// CreateTokenAccountArgs creates a keypair token account. Account must sign.
type CreateTokenAccountArgs struct {
	Account pubkey.PublicKey `json:"account"`
	Mint    pubkey.PublicKey `json:"mint"`
	Owner   pubkey.PublicKey `json:"owner"`
}

// CreateAssociatedTokenAccountArgs creates the associated account of (owner, mint).
type CreateAssociatedTokenAccountArgs struct {
	Owner pubkey.PublicKey `json:"owner"`
	Mint  pubkey.PublicKey `json:"mint"`
}

// MintToArgs mints new tokens. The mint authority must sign.
type MintToArgs struct {
	Mint        pubkey.PublicKey `json:"mint"`
	Destination pubkey.PublicKey `json:"destination"`
	Amount      uint64           `json:"amount"`
}

// payload returns the payload selected by Kind and the number of set payloads.
func (ix *Instruction) payload() (interface{}, int) {
	set := 0
	var selected interface{}
	pick := func(k Kind, ok bool, v interface{}) {
		if !ok {
			return
		}
		set++
		if ix.Kind == k {
			selected = v
		}
	}
	pick(KindInitialize, ix.Initialize != nil, ix.Initialize)
	pick(KindSetAdmin, ix.SetAdmin != nil, ix.SetAdmin)
	pick(KindCreateOracle, ix.CreateOracle != nil, ix.CreateOracle)
	pick(KindUpdateOracle, ix.UpdateOracle != nil, ix.UpdateOracle)
	pick(KindCreateMarket, ix.CreateMarket != nil, ix.CreateMarket)
	pick(KindSupply, ix.Supply != nil, ix.Supply)
	pick(KindWithdraw, ix.Withdraw != nil, ix.Withdraw)
	pick(KindCreateMint, ix.CreateMint != nil, ix.CreateMint)
	pick(KindCreateTokenAccount, ix.CreateTokenAccount != nil, ix.CreateTokenAccount)
	pick(KindCreateAssociatedTokenAccount, ix.CreateAssociatedTokenAccount != nil, ix.CreateAssociatedTokenAccount)
	pick(KindMintTo, ix.MintTo != nil, ix.MintTo)
	return selected, set
}

// Validate checks that exactly the payload named by Kind is present.
func (ix *Instruction) Validate() error {
	selected, set := ix.payload()
	if selected == nil {
		return fmt.Errorf("%w: kind %q without payload", ErrMalformedInstruction, ix.Kind)
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrMalformedInstruction, set)
	}
	return nil
}
