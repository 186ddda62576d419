package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"solana-lending-lab/internal/client"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/keypair"
	"solana-lending-lab/internal/oracle"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/token"
)

func runDerive(_ context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("derive: expected market, user-supply, config or ata")
	}
	fs := flag.NewFlagSet("derive "+args[0], flag.ContinueOnError)
	out := map[string]interface{}{}
	switch args[0] {
	case "market":
		id := fs.Uint64("id", 0, "Market id")
		supplyMint := keyVar(fs, "supply-mint", "Supply mint")
		collateralMint := keyVar(fs, "collateral-mint", "Collateral mint")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := require(map[string]*keyFlag{"supply-mint": supplyMint, "collateral-mint": collateralMint}); err != nil {
			return err
		}
		market, bump, err := guard.MarketAddress(e.programID, *id, supplyMint.key, collateralMint.key)
		if err != nil {
			return err
		}
		vault, err := token.AssociatedAddress(market, supplyMint.key)
		if err != nil {
			return err
		}
		out["address"], out["bump"], out["vault"] = market, bump, vault
	case "user-supply":
		user := keyVar(fs, "user", "Position owner")
		market := keyVar(fs, "market", "Market")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := require(map[string]*keyFlag{"user": user, "market": market}); err != nil {
			return err
		}
		addr, bump, err := guard.UserSupplyAddress(e.programID, user.key, market.key)
		if err != nil {
			return err
		}
		out["address"], out["bump"] = addr, bump
	case "config":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		addr, bump, err := guard.ConfigAddress(e.programID)
		if err != nil {
			return err
		}
		out["address"], out["bump"] = addr, bump
	case "ata":
		owner := keyVar(fs, "owner", "Token owner")
		mint := keyVar(fs, "mint", "Mint")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := require(map[string]*keyFlag{"owner": owner, "mint": mint}); err != nil {
			return err
		}
		addr, err := token.AssociatedAddress(owner.key, mint.key)
		if err != nil {
			return err
		}
		out["address"] = addr
	default:
		return fmt.Errorf("derive: unknown kind %q", args[0])
	}
	return e.print(out)
}

// send signs ix with the CLI keypair followed by extra and prints the result.
func (e *env) send(ctx context.Context, ix program.Instruction, extra ...*keypair.Keypair) error {
	signer, err := e.signer()
	if err != nil {
		return err
	}
	res, err := e.client().Send(ctx, ix, append([]*keypair.Keypair{signer}, extra...)...)
	if err != nil {
		return err
	}
	return e.print(res)
}

func runInit(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	permissioned := fs.Bool("permissioned", false, "Only the admin may create markets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := e.signer()
	if err != nil {
		return err
	}
	return e.send(ctx, program.Instruction{Kind: program.KindInitialize, Initialize: &program.InitializeArgs{
		Admin: signer.PublicKey(), PermissionedMarkets: *permissioned,
	}})
}

func runSetAdmin(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("set-admin", flag.ContinueOnError)
	newAdmin := keyVar(fs, "new-admin", "New admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"new-admin": newAdmin}); err != nil {
		return err
	}
	return e.send(ctx, program.Instruction{Kind: program.KindSetAdmin, SetAdmin: &program.SetAdminArgs{NewAdmin: newAdmin.key}})
}

func runCreateOracle(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create-oracle", flag.ContinueOnError)
	path := fs.String("oracle-keypair", "", "Oracle account keypair (created if missing)")
	price := fs.Uint64("price", 0, "Initial price in base units")
	exponent := fs.Int("exponent", int(oracle.DefaultExponent), "Display exponent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--oracle-keypair is required")
	}
	if *exponent < -128 || *exponent > 127 {
		return fmt.Errorf("--exponent %d out of range", *exponent)
	}
	feed, _, err := loadOrCreate(*path)
	if err != nil {
		return err
	}
	exp := int8(*exponent)
	return e.send(ctx, program.Instruction{Kind: program.KindCreateOracle, CreateOracle: &program.CreateOracleArgs{
		Oracle: feed.PublicKey(), Price: *price, Exponent: &exp,
	}}, feed)
}

func runUpdateOracle(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("update-oracle", flag.ContinueOnError)
	feed := keyVar(fs, "oracle", "Oracle account")
	price := fs.Uint64("price", 0, "New price in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"oracle": feed}); err != nil {
		return err
	}
	return e.send(ctx, program.Instruction{Kind: program.KindUpdateOracle, UpdateOracle: &program.UpdateOracleArgs{
		Oracle: feed.key, Price: *price,
	}})
}

func runCreateMint(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create-mint", flag.ContinueOnError)
	path := fs.String("mint-keypair", "", "Mint account keypair (created if missing)")
	decimals := fs.Uint("decimals", 6, "Decimal places")
	feeBps := fs.Uint("fee-bps", 0, "Transfer fee in basis points")
	authority := keyVar(fs, "mint-authority", "Mint authority (default: signer)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--mint-keypair is required")
	}
	if *decimals > 255 || *feeBps > 10_000 {
		return errors.New("--decimals or --fee-bps out of range")
	}
	mint, _, err := loadOrCreate(*path)
	if err != nil {
		return err
	}
	signer, err := e.signer()
	if err != nil {
		return err
	}
	auth := signer.PublicKey()
	if authority.set {
		auth = authority.key
	}
	return e.send(ctx, program.Instruction{Kind: program.KindCreateMint, CreateMint: &program.CreateMintArgs{
		Mint: mint.PublicKey(), MintAuthority: auth, Decimals: uint8(*decimals), TransferFeeBps: uint16(*feeBps),
	}}, mint)
}

func runCreateTokenAccount(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create-token-account", flag.ContinueOnError)
	mint := keyVar(fs, "mint", "Mint")
	owner := keyVar(fs, "owner", "Owner (default: signer)")
	path := fs.String("account-keypair", "", "Keypair account (default: associated account)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"mint": mint}); err != nil {
		return err
	}
	signer, err := e.signer()
	if err != nil {
		return err
	}
	o := signer.PublicKey()
	if owner.set {
		o = owner.key
	}
	if *path == "" {
		return e.send(ctx, program.Instruction{Kind: program.KindCreateAssociatedTokenAccount,
			CreateAssociatedTokenAccount: &program.CreateAssociatedTokenAccountArgs{Owner: o, Mint: mint.key}})
	}
	account, _, err := loadOrCreate(*path)
	if err != nil {
		return err
	}
	return e.send(ctx, program.Instruction{Kind: program.KindCreateTokenAccount, CreateTokenAccount: &program.CreateTokenAccountArgs{
		Account: account.PublicKey(), Mint: mint.key, Owner: o,
	}}, account)
}

func runMintTo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("mint-to", flag.ContinueOnError)
	mint := keyVar(fs, "mint", "Mint")
	to := keyVar(fs, "to", "Destination token account")
	amount := fs.String("amount", "", "Amount in base units, or a decimal UI amount such as 1.5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"mint": mint, "to": to}); err != nil {
		return err
	}
	c := e.client()
	n, err := parseAmount(ctx, c, mint.key, *amount)
	if err != nil {
		return err
	}
	return e.send(ctx, program.Instruction{Kind: program.KindMintTo, MintTo: &program.MintToArgs{
		Mint: mint.key, Destination: to.key, Amount: n,
	}})
}

func runCreateMarket(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create-market", flag.ContinueOnError)
	id := fs.Uint64("id", 0, "Market id")
	keys := map[string]*keyFlag{
		"supply-mint":       keyVar(fs, "supply-mint", "Supply mint"),
		"collateral-mint":   keyVar(fs, "collateral-mint", "Collateral mint"),
		"supply-oracle":     keyVar(fs, "supply-oracle", "Supply price feed"),
		"collateral-oracle": keyVar(fs, "collateral-oracle", "Collateral price feed"),
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(keys); err != nil {
		return err
	}
	supplyMint := keys["supply-mint"].key
	market, _, err := guard.MarketAddress(e.programID, *id, supplyMint, keys["collateral-mint"].key)
	if err != nil {
		return err
	}
	vault, err := token.AssociatedAddress(market, supplyMint)
	if err != nil {
		return err
	}

	c := e.client()
	info, err := c.AccountInfo(ctx, vault)
	if err != nil {
		return err
	}
	if info == nil {
		if err := e.send(ctx, program.Instruction{Kind: program.KindCreateAssociatedTokenAccount,
			CreateAssociatedTokenAccount: &program.CreateAssociatedTokenAccountArgs{Owner: market, Mint: supplyMint}}); err != nil {
			return fmt.Errorf("create vault: %w", err)
		}
	}
	return e.send(ctx, program.Instruction{Kind: program.KindCreateMarket, CreateMarket: &program.CreateMarketArgs{
		Market:           market,
		ID:               *id,
		SupplyMint:       supplyMint,
		CollateralMint:   keys["collateral-mint"].key,
		SupplyOracle:     keys["supply-oracle"].key,
		CollateralOracle: keys["collateral-oracle"].key,
		Vault:            vault,
	}})
}

func runSupply(ctx context.Context, e *env, args []string) error {
	return runMove(ctx, e, "supply", args)
}

func runWithdraw(ctx context.Context, e *env, args []string) error {
	return runMove(ctx, e, "withdraw", args)
}

// runMove builds a supply or withdraw against the market's vault. The token
// account defaults to the signer's associated account of the supply mint.
func runMove(ctx context.Context, e *env, name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	market := keyVar(fs, "market", "Market")
	account := keyVar(fs, "token-account", "Signer's token account (default: associated account)")
	amount := fs.String("amount", "", "Amount in base units, or a decimal UI amount such as 1.5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"market": market}); err != nil {
		return err
	}
	c := e.client()
	m, err := c.Market(ctx, market.key)
	if err != nil {
		return err
	}
	n, err := parseAmount(ctx, c, m.SupplyMint, *amount)
	if err != nil {
		return err
	}
	src := account.key
	if !account.set {
		signer, err := e.signer()
		if err != nil {
			return err
		}
		if src, err = token.AssociatedAddress(signer.PublicKey(), m.SupplyMint); err != nil {
			return err
		}
	}
	ix := program.Instruction{Kind: program.KindSupply, Supply: &program.SupplyArgs{
		Market: market.key, UserTokenAccount: src, Vault: m.Vault, Amount: n,
	}}
	if name == "withdraw" {
		ix = program.Instruction{Kind: program.KindWithdraw, Withdraw: &program.WithdrawArgs{
			Market: market.key, UserTokenAccount: src, Vault: m.Vault, Amount: n,
		}}
	}
	return e.send(ctx, ix)
}

// parseAmount accepts base units or a decimal amount scaled by the mint's
// decimals.
func parseAmount(ctx context.Context, c *client.Client, mint pubkey.PublicKey, s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("--amount is required")
	}
	if !strings.Contains(s, ".") {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("--amount: %w", err)
		}
		return n, nil
	}
	ui, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("--amount: %w", err)
	}
	m, err := c.Mint(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("load mint: %w", err)
	}
	return scaleAmount(ui, m.Decimals)
}

func scaleAmount(ui decimal.Decimal, decimals uint8) (uint64, error) {
	base := ui.Shift(int32(decimals))
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", ui, decimals)
	}
	if base.IsNegative() || !base.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s out of range", ui)
	}
	return base.BigInt().Uint64(), nil
}

func runGet(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("get: expected a record kind")
	}
	kind, rest := args[0], args[1:]
	keys := make([]pubkey.PublicKey, 0, len(rest))
	for _, a := range rest {
		if kind == "events" && len(keys) == 1 {
			break
		}
		k, err := pubkey.Parse(a)
		if err != nil {
			return fmt.Errorf("get %s: %w", kind, err)
		}
		keys = append(keys, k)
	}
	want := func(n int) error {
		if len(keys) < n {
			return fmt.Errorf("get %s: expected %d address argument(s)", kind, n)
		}
		return nil
	}

	c := e.client()
	var (
		v   interface{}
		err error
	)
	switch kind {
	case "slot":
		v, err = c.Slot(ctx)
	case "config":
		v, err = c.Config(ctx)
	case "oracle":
		if err = want(1); err == nil {
			v, err = c.Oracle(ctx, keys[0])
		}
	case "market":
		if err = want(1); err == nil {
			v, err = c.Market(ctx, keys[0])
		}
	case "user-supply":
		if err = want(2); err == nil {
			v, err = c.UserSupply(ctx, keys[0], keys[1])
		}
	case "mint":
		if err = want(1); err == nil {
			v, err = c.Mint(ctx, keys[0])
		}
	case "token-account":
		if err = want(1); err == nil {
			v, err = c.TokenAccount(ctx, keys[0])
		}
	case "account":
		if err = want(1); err == nil {
			v, err = c.AccountInfo(ctx, keys[0])
		}
	case "events":
		if err = want(1); err == nil {
			limit := 20
			if len(rest) > 1 {
				if limit, err = strconv.Atoi(rest[1]); err != nil {
					return fmt.Errorf("get events: limit: %w", err)
				}
			}
			v, err = c.Events(ctx, keys[0], limit)
		}
	default:
		return fmt.Errorf("get: unknown kind %q", kind)
	}
	if err != nil {
		return err
	}
	return e.print(v)
}

func runAudit(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	market := keyVar(fs, "market", "Market")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := require(map[string]*keyFlag{"market": market}); err != nil {
		return err
	}
	report, err := e.client().AuditMarket(ctx, market.key)
	if err != nil {
		return err
	}
	if err := e.print(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("market %s has %d violation(s)", market.key, len(report.Violations))
	}
	return nil
}
