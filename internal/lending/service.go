// Package lending keeps per-user claim balances of each market. Balances are
// credited only after the inbound transfer is measured at the vault, and
// debited before the outbound custody transfer, inside one ledger unit of
// work so that any failure leaves nothing behind.
package lending

import (
	"context"
	"errors"
	"fmt"

	"solana-lending-lab/internal/custody"
	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/token"
)

// Service implements supply and withdraw for one program.
type Service struct {
	programID pubkey.PublicKey
}

// NewService creates a Service for programID.
func NewService(programID pubkey.PublicKey) *Service {
	return &Service{programID: programID}
}

// SupplyParams are the inputs of Supply.
type SupplyParams struct {
	Market           pubkey.PublicKey
	User             pubkey.PublicKey // must sign; owner of UserTokenAccount
	UserTokenAccount pubkey.PublicKey // source of the supplied tokens
	Vault            pubkey.PublicKey // must equal the market's vault
	Amount           uint64
}

// WithdrawParams are the inputs of Withdraw.
type WithdrawParams struct {
	Market           pubkey.PublicKey
	User             pubkey.PublicKey // must sign; owner of the position
	UserTokenAccount pubkey.PublicKey // destination of the withdrawn tokens
	Vault            pubkey.PublicKey // must equal the market's vault
	Amount           uint64           // in cTokens
}

// Receipt describes the effect of a supply or withdraw.
type Receipt struct {
	Market        pubkey.PublicKey `json:"market"`
	Position      pubkey.PublicKey `json:"position"`
	Amount        uint64           `json:"amount"`        // underlying tokens moved
	CTokens       uint64           `json:"cTokens"`       // claim units credited or debited
	CTokenBalance uint64           `json:"cTokenBalance"` // position balance after
	TotalSupply   uint64           `json:"totalSupply"`   // market total after
}

// toCTokens converts underlying tokens to claim units. The exchange rate is 1:1.
func toCTokens(amount uint64) uint64 { return amount }

// toUnderlying converts claim units to underlying tokens.
func toUnderlying(cTokens uint64) uint64 { return cTokens }

// Supply moves Amount from the user into the vault and credits the position.
func (s *Service) Supply(ctx context.Context, txn *ledger.Txn, p SupplyParams) (*Receipt, error) {
	if p.Amount == 0 {
		return nil, guard.ErrInvalidAmount
	}
	if err := guard.RequireSigner(txn, p.User); err != nil {
		return nil, err
	}

	m, err := guard.LoadMarket(ctx, txn, s.programID, p.Market)
	if err != nil {
		return nil, err
	}
	if p.Vault != m.Vault {
		return nil, fmt.Errorf("%w: presented %s, market vault %s", guard.ErrInvalidVault, p.Vault, m.Vault)
	}

	before, err := token.BalanceOf(ctx, txn, m.Vault)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", guard.ErrInvalidVault, err)
	}
	err = token.Transfer(ctx, txn, s.programID, token.TransferParams{
		Source:      p.UserTokenAccount,
		Destination: m.Vault,
		Authority:   p.User,
		Amount:      p.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("supply transfer: %w", err)
	}
	after, err := token.BalanceOf(ctx, txn, m.Vault)
	if err != nil {
		return nil, err
	}
	if after < before || after-before != p.Amount {
		return nil, fmt.Errorf("%w: requested %d, vault received %d", guard.ErrTransferUnverified, p.Amount, int64(after-before))
	}

	pos, err := s.position(ctx, txn, p.User, p.Market)
	if err != nil {
		return nil, err
	}

	minted := toCTokens(p.Amount)
	if pos.CTokenBalance, err = checkedAdd(pos.CTokenBalance, minted); err != nil {
		return nil, err
	}
	if m.TotalSupply, err = checkedAdd(m.TotalSupply, minted); err != nil {
		return nil, err
	}

	if err := s.save(ctx, txn, pos, m); err != nil {
		return nil, err
	}
	return &Receipt{
		Market:        p.Market,
		Position:      pos.Address,
		Amount:        p.Amount,
		CTokens:       minted,
		CTokenBalance: pos.CTokenBalance,
		TotalSupply:   m.TotalSupply,
	}, nil
}

// Withdraw debits Amount cTokens from the position and then transfers the
// underlying out of the vault under the market's custody capability.
func (s *Service) Withdraw(ctx context.Context, txn *ledger.Txn, p WithdrawParams) (*Receipt, error) {
	if p.Amount == 0 {
		return nil, guard.ErrInvalidAmount
	}
	if err := guard.RequireSigner(txn, p.User); err != nil {
		return nil, err
	}

	m, err := guard.LoadMarket(ctx, txn, s.programID, p.Market)
	if err != nil {
		return nil, err
	}
	if p.Vault != m.Vault {
		return nil, fmt.Errorf("%w: presented %s, market vault %s", guard.ErrInvalidVault, p.Vault, m.Vault)
	}

	pos, err := guard.LoadUserSupply(ctx, txn, s.programID, p.User, p.Market)
	if err != nil {
		if errors.Is(err, guard.ErrAccountNotInitialized) {
			return nil, fmt.Errorf("%w: no position", guard.ErrInsufficientBalance)
		}
		return nil, err
	}
	if pos.CTokenBalance < p.Amount {
		return nil, fmt.Errorf("%w: have %d, need %d", guard.ErrInsufficientBalance, pos.CTokenBalance, p.Amount)
	}
	if m.TotalSupply < p.Amount {
		return nil, fmt.Errorf("%w: market total %d below position", guard.ErrMathOverflow, m.TotalSupply)
	}

	pos.CTokenBalance -= p.Amount
	m.TotalSupply -= p.Amount
	if err := s.save(ctx, txn, pos, m); err != nil {
		return nil, err
	}

	capability, err := custody.Authorize(s.programID, p.Market, m)
	if err != nil {
		return nil, err
	}
	amount := toUnderlying(p.Amount)
	if err := custody.TransferOut(ctx, txn, capability, p.UserTokenAccount, amount); err != nil {
		return nil, err
	}

	return &Receipt{
		Market:        p.Market,
		Position:      pos.Address,
		Amount:        amount,
		CTokens:       p.Amount,
		CTokenBalance: pos.CTokenBalance,
		TotalSupply:   m.TotalSupply,
	}, nil
}

// Position reads the claim of user in market.
func (s *Service) Position(ctx context.Context, r guard.AccountReader, market, user pubkey.PublicKey) (*domain.UserSupplyAccount, error) {
	return guard.LoadUserSupply(ctx, r, s.programID, user, market)
}

// position loads the user's claim, or returns a fresh one to be created on save.
func (s *Service) position(ctx context.Context, txn *ledger.Txn, user, market pubkey.PublicKey) (*domain.UserSupplyAccount, error) {
	pos, err := guard.LoadUserSupply(ctx, txn, s.programID, user, market)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, guard.ErrAccountNotInitialized) {
		return nil, err
	}

	address, bump, err := guard.UserSupplyAddress(s.programID, user, market)
	if err != nil {
		return nil, fmt.Errorf("derive position address: %w", err)
	}
	return &domain.UserSupplyAccount{
		Address: address,
		Market:  market,
		User:    user,
		Bump:    bump,
	}, nil
}

func (s *Service) save(ctx context.Context, txn *ledger.Txn, pos *domain.UserSupplyAccount, m *domain.Market) error {
	posData, err := pos.MarshalBinary()
	if err != nil {
		return err
	}
	exists, err := txn.Exists(ctx, pos.Address)
	if err != nil {
		return err
	}
	if exists {
		err = txn.Put(ctx, s.programID, pos.Address, posData)
	} else {
		err = txn.Create(ctx, s.programID, pos.Address, posData)
	}
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}

	marketData, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if err := txn.Put(ctx, s.programID, m.Address, marketData); err != nil {
		return fmt.Errorf("save market: %w", err)
	}
	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, guard.ErrMathOverflow
	}
	return sum, nil
}
