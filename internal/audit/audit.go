// Package audit checks the solvency invariant of a market:
// the positions sum to the market total, and the total is covered by the vault.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/token"
)

// ViolationKind names a broken invariant.
type ViolationKind string

// Violation kinds.
const (
	// ViolationSupplyMismatch: the positions do not sum to the market total.
	ViolationSupplyMismatch ViolationKind = "supply_mismatch"
	// ViolationUndercollateralized: the vault holds less than the market total.
	ViolationUndercollateralized ViolationKind = "vault_shortfall"
	// ViolationForeignPosition: a position of the market was stored at a
	// non-canonical address.
	ViolationForeignPosition ViolationKind = "foreign_position"
)

// maxAttempts bounds re-reads when the market changes while positions are listed.
const maxAttempts = 3

// ErrUnstable is returned when the market kept changing across every attempt.
var ErrUnstable = errors.New("audit: market changed during every attempt")

// Violation is one broken invariant.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

// Report is the result of CheckMarket.
type Report struct {
	Market         pubkey.PublicKey `json:"market"`
	Slot           uint64           `json:"slot"`
	Positions      int              `json:"positions"`
	PositionsTotal string           `json:"positionsTotal"` // decimal, may exceed u64
	TotalSupply    uint64           `json:"totalSupply"`
	VaultBalance   uint64           `json:"vaultBalance"`
	Violations     []Violation      `json:"violations"`
	MarketVersion  uint64           `json:"marketVersion"`
}

// OK reports whether no violation was found.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Auditor reads committed ledger state.
type Auditor struct {
	programID pubkey.PublicKey
	ledger    *ledger.Ledger
}

// New creates an Auditor.
func New(programID pubkey.PublicKey, l *ledger.Ledger) *Auditor {
	return &Auditor{programID: programID, ledger: l}
}

// CheckMarket audits one market. The market record is read before and after
// listing positions; if its version moved the snapshot is retaken.
func (a *Auditor) CheckMarket(ctx context.Context, market pubkey.PublicKey) (*Report, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		report, stable, err := a.check(ctx, market)
		if err != nil {
			return nil, err
		}
		if stable {
			observability.RecordAudit(report.kinds())
			return report, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnstable, market)
}

func (a *Auditor) check(ctx context.Context, market pubkey.PublicKey) (*Report, bool, error) {
	before, err := a.ledger.Get(ctx, market)
	if err != nil {
		return nil, false, err
	}
	m, err := guard.LoadMarket(ctx, a.ledger, a.programID, market)
	if err != nil {
		return nil, false, err
	}

	accounts, err := a.ledger.FindByOwner(ctx, a.programID, domain.UserSupplyPrefix(market))
	if err != nil {
		return nil, false, fmt.Errorf("list positions: %w", err)
	}
	vaultBalance, err := token.BalanceOf(ctx, a.ledger, m.Vault)
	if err != nil {
		return nil, false, fmt.Errorf("read vault: %w", err)
	}
	slot, err := a.ledger.Slot(ctx)
	if err != nil {
		return nil, false, err
	}

	after, err := a.ledger.Get(ctx, market)
	if err != nil {
		return nil, false, err
	}
	if after.Version != before.Version {
		return nil, false, nil
	}

	report := &Report{
		Market:        market,
		Slot:          slot,
		Positions:     len(accounts),
		TotalSupply:   m.TotalSupply,
		VaultBalance:  vaultBalance,
		MarketVersion: before.Version,
		Violations:    []Violation{},
	}

	sum := new(uint256.Int)
	for _, acc := range accounts {
		var pos domain.UserSupplyAccount
		if err := pos.UnmarshalBinary(acc.Data); err != nil {
			return nil, false, fmt.Errorf("decode position %s: %w", acc.Address, err)
		}
		canonical, _, err := guard.UserSupplyAddress(a.programID, pos.User, market)
		if err != nil {
			return nil, false, err
		}
		if canonical != acc.Address {
			report.add(ViolationForeignPosition, "position %s of user %s is not at %s", acc.Address, pos.User, canonical)
			continue
		}
		sum.Add(sum, uint256.NewInt(pos.CTokenBalance))
	}
	report.PositionsTotal = sum.Dec()

	total := uint256.NewInt(m.TotalSupply)
	if !sum.Eq(total) {
		report.add(ViolationSupplyMismatch, "positions sum to %s, market total is %d", sum.Dec(), m.TotalSupply)
	}
	if uint256.NewInt(vaultBalance).Lt(total) {
		report.add(ViolationUndercollateralized, "vault holds %d, market total is %d", vaultBalance, m.TotalSupply)
	}
	return report, true, nil
}

func (r *Report) add(kind ViolationKind, format string, args ...interface{}) {
	r.Violations = append(r.Violations, Violation{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

func (r *Report) kinds() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = string(v.Kind)
	}
	return out
}
