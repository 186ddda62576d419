// Package program is the lending program's entry point. It verifies a signed
// request, runs its instruction inside one ledger unit of work, and after
// commit records and broadcasts the resulting events.
package program

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/idhash"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/lending"
	"solana-lending-lab/internal/market"
	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/oracle"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/storage"
	"solana-lending-lab/internal/token"
)

// EventSink receives events of committed instructions.
type EventSink interface {
	Publish(events []*domain.Event)
}

// Result is the outcome of a committed instruction. Only the record the
// instruction produced is set.
type Result struct {
	Signature    string               `json:"signature"`
	Slot         uint64               `json:"slot"`
	Kind         Kind                 `json:"kind"`
	Config       *domain.Config       `json:"config,omitempty"`
	Oracle       *domain.PriceOracle  `json:"oracle,omitempty"`
	Market       *domain.Market       `json:"market,omitempty"`
	Receipt      *lending.Receipt     `json:"receipt,omitempty"`
	Mint         *domain.Mint         `json:"mint,omitempty"`
	TokenAccount *domain.TokenAccount `json:"tokenAccount,omitempty"`
}

// Processor executes signed requests.
type Processor struct {
	programID pubkey.PublicKey
	ledger    *ledger.Ledger
	oracles   *oracle.Registry
	markets   *market.Registry
	lending   *lending.Service
	events    storage.EventStore
	sinks     []EventSink
	logger    *log.Logger
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithEventStore persists events of committed instructions.
func WithEventStore(s storage.EventStore) Option {
	return func(p *Processor) { p.events = s }
}

// WithSink broadcasts events of committed instructions.
func WithSink(s EventSink) Option {
	return func(p *Processor) { p.sinks = append(p.sinks, s) }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a Processor for programID over l.
func NewProcessor(programID pubkey.PublicKey, l *ledger.Ledger, opts ...Option) *Processor {
	p := &Processor{
		programID: programID,
		ledger:    l,
		oracles:   oracle.NewRegistry(programID),
		markets:   market.NewRegistry(programID),
		lending:   lending.NewService(programID),
		logger:    log.New(io.Discard, "", 0),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProgramID is the id of the program records are owned by.
func (p *Processor) ProgramID() pubkey.PublicKey { return p.programID }

// Ledger exposes the underlying ledger for read-only queries.
func (p *Processor) Ledger() *ledger.Ledger { return p.ledger }

// Process verifies req and executes its instruction atomically. A request
// whose first signature was already processed fails with ErrDuplicateRequest.
func (p *Processor) Process(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	kind := req.Instruction.Kind

	res, events, err := p.process(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = errorClass(err)
		if errors.Is(err, ledger.ErrConflict) {
			observability.RecordConflict()
		}
		p.logger.Printf("rejected %s %s: %v", kind, shortID(req.ID()), err)
	} else {
		observability.RecordCommittedSlot(res.Slot)
		p.logger.Printf("committed %s %s at slot %d", kind, shortID(res.Signature), res.Slot)
	}
	observability.RecordInstruction(string(kind), outcome, time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	p.emit(ctx, events)
	return res, nil
}

func (p *Processor) process(ctx context.Context, req *Request) (*Result, []*domain.Event, error) {
	signers, err := req.Verify()
	if err != nil {
		return nil, nil, err
	}
	if err := req.Instruction.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		res    *Result
		events []*domain.Event
	)
	err = p.ledger.Execute(ctx, signers, func(txn *ledger.Txn) error {
		if err := p.markProcessed(ctx, txn, req.ID()); err != nil {
			return err
		}

		ex := &execution{
			Processor: p,
			txn:       txn,
			caller:    signers[0],
			res:       &Result{Signature: req.ID(), Slot: txn.Slot(), Kind: req.Instruction.Kind},
		}
		if err := ex.dispatch(ctx, &req.Instruction); err != nil {
			return err
		}
		res, events = ex.res, ex.events
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

func (p *Processor) markProcessed(ctx context.Context, txn *ledger.Txn, id string) error {
	receipt := &domain.RequestReceipt{Slot: txn.Slot()}
	data, err := receipt.MarshalBinary()
	if err != nil {
		return err
	}
	address := receiptAddress(id)
	txn.OnExists(address, guard.ErrDuplicateRequest)
	return txn.Create(ctx, p.programID, address, data)
}

// emit persists and broadcasts events. The instruction is already committed,
// so failures are logged and counted, never returned.
func (p *Processor) emit(ctx context.Context, events []*domain.Event) {
	if len(events) == 0 {
		return
	}
	if p.events != nil {
		err := p.events.InsertBulk(ctx, events)
		observability.RecordEventsPersisted(len(events), err)
		if err != nil {
			p.logger.Printf("persist %d events: %v", len(events), err)
		}
	}
	for _, s := range p.sinks {
		s.Publish(events)
	}
}

// execution is the state of one instruction inside its unit of work.
type execution struct {
	*Processor
	txn    *ledger.Txn
	caller pubkey.PublicKey
	res    *Result
	events []*domain.Event
}

func (ex *execution) event(kind domain.EventKind, fill func(e *domain.Event)) {
	e := &domain.Event{
		EventID:     idhash.ComputeEventID(ex.res.Signature, len(ex.events), kind),
		Kind:        kind,
		Slot:        ex.res.Slot,
		Signature:   ex.res.Signature,
		Actor:       ex.caller.String(),
		TimestampMs: ex.now().UnixMilli(),
	}
	fill(e)
	ex.events = append(ex.events, e)
}

func (ex *execution) dispatch(ctx context.Context, ix *Instruction) error {
	txn := ex.txn
	switch ix.Kind {
	case KindInitialize:
		a := ix.Initialize
		cfg, err := ex.markets.Initialize(ctx, txn, a.Admin, a.PermissionedMarkets)
		if err != nil {
			return err
		}
		ex.res.Config = cfg
		ex.event(domain.EventConfigInitialized, func(e *domain.Event) {
			e.Account = cfg.Address.String()
		})

	case KindSetAdmin:
		cfg, err := ex.markets.SetAdmin(ctx, txn, ix.SetAdmin.NewAdmin)
		if err != nil {
			return err
		}
		ex.res.Config = cfg
		ex.event(domain.EventAdminChanged, func(e *domain.Event) {
			e.Account = cfg.Admin.String()
		})

	case KindCreateOracle:
		a := ix.CreateOracle
		exponent := oracle.DefaultExponent
		if a.Exponent != nil {
			exponent = *a.Exponent
		}
		o, err := ex.oracles.Create(ctx, txn, oracle.CreateParams{
			Oracle: a.Oracle, Authority: ex.caller, Price: a.Price, Exponent: exponent,
		})
		if err != nil {
			return err
		}
		ex.res.Oracle = o
		ex.event(domain.EventOracleCreated, func(e *domain.Event) {
			e.Oracle = o.Address.String()
			e.Price = o.Price
		})

	case KindUpdateOracle:
		a := ix.UpdateOracle
		o, err := ex.oracles.Update(ctx, txn, a.Oracle, a.Price)
		if err != nil {
			return err
		}
		ex.res.Oracle = o
		ex.event(domain.EventOracleUpdated, func(e *domain.Event) {
			e.Oracle = o.Address.String()
			e.Price = o.Price
		})

	case KindCreateMarket:
		a := ix.CreateMarket
		m, err := ex.markets.Create(ctx, txn, market.CreateParams{
			Market:           a.Market,
			ID:               a.ID,
			SupplyMint:       a.SupplyMint,
			CollateralMint:   a.CollateralMint,
			SupplyOracle:     a.SupplyOracle,
			CollateralOracle: a.CollateralOracle,
			Vault:            a.Vault,
			Authority:        ex.caller,
		})
		if err != nil {
			return err
		}
		ex.res.Market = m
		ex.event(domain.EventMarketCreated, func(e *domain.Event) {
			e.Market = m.Address.String()
			e.Account = m.Vault.String()
		})

	case KindSupply:
		a := ix.Supply
		r, err := ex.lending.Supply(ctx, txn, lending.SupplyParams{
			Market: a.Market, User: ex.caller, UserTokenAccount: a.UserTokenAccount, Vault: a.Vault, Amount: a.Amount,
		})
		if err != nil {
			return err
		}
		ex.res.Receipt = r
		ex.event(domain.EventSupplied, func(e *domain.Event) {
			e.Market = r.Market.String()
			e.Account = r.Position.String()
			e.Amount = r.Amount
		})

	case KindWithdraw:
		a := ix.Withdraw
		r, err := ex.lending.Withdraw(ctx, txn, lending.WithdrawParams{
			Market: a.Market, User: ex.caller, UserTokenAccount: a.UserTokenAccount, Vault: a.Vault, Amount: a.Amount,
		})
		if err != nil {
			return err
		}
		ex.res.Receipt = r
		ex.event(domain.EventWithdrawn, func(e *domain.Event) {
			e.Market = r.Market.String()
			e.Account = r.Position.String()
			e.Amount = r.Amount
		})

	case KindCreateMint:
		a := ix.CreateMint
		m, err := token.InitializeMint(ctx, txn, token.InitializeMintParams{
			Mint: a.Mint, MintAuthority: a.MintAuthority, Decimals: a.Decimals, TransferFeeBps: a.TransferFeeBps,
		})
		if err != nil {
			return err
		}
		ex.res.Mint = m
		ex.event(domain.EventMintCreated, func(e *domain.Event) {
			e.Account = m.Address.String()
		})

	case KindCreateTokenAccount:
		a := ix.CreateTokenAccount
		acc, err := token.InitializeAccount(ctx, txn, a.Account, a.Mint, a.Owner)
		if err != nil {
			return err
		}
		ex.tokenAccountOpened(acc)

	case KindCreateAssociatedTokenAccount:
		a := ix.CreateAssociatedTokenAccount
		acc, err := token.CreateAssociatedAccount(ctx, txn, a.Owner, a.Mint)
		if err != nil {
			return err
		}
		ex.tokenAccountOpened(acc)

	case KindMintTo:
		a := ix.MintTo
		if err := token.MintTo(ctx, txn, a.Mint, a.Destination, a.Amount); err != nil {
			return err
		}
		acc, err := token.LoadAccount(ctx, txn, a.Destination)
		if err != nil {
			return err
		}
		ex.res.TokenAccount = acc
		ex.event(domain.EventMinted, func(e *domain.Event) {
			e.Account = a.Destination.String()
			e.Amount = a.Amount
		})

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedInstruction, ix.Kind)
	}
	return nil
}

func (ex *execution) tokenAccountOpened(acc *domain.TokenAccount) {
	ex.res.TokenAccount = acc
	ex.event(domain.EventTokenAccountOpen, func(e *domain.Event) {
		e.Account = acc.Address.String()
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// errorClass buckets a rejection for the instructions metric.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, guard.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrNoSignatures),
		errors.Is(err, guard.ErrUnauthorized), errors.Is(err, token.ErrMissingRequiredSignature):
		return "unauthorized"
	case errors.Is(err, ErrMalformedInstruction):
		return "malformed"
	default:
		return "rejected"
	}
}
