// Package main is the operator CLI of the lending API: key management,
// address derivation, signed instructions, queries and the event stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"solana-lending-lab/internal/client"
	"solana-lending-lab/internal/config"
	"solana-lending-lab/internal/keypair"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/solana"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"keygen":               {"keygen [--out path] [--force]", runKeygen},
	"pubkey":               {"pubkey [--keypair path]", runPubkey},
	"derive":               {"derive market|user-supply|config|ata [flags]", runDerive},
	"init":                 {"init [--permissioned]", runInit},
	"set-admin":            {"set-admin --new-admin key", runSetAdmin},
	"create-oracle":        {"create-oracle --oracle-keypair path --price n [--exponent e]", runCreateOracle},
	"update-oracle":        {"update-oracle --oracle key --price n", runUpdateOracle},
	"create-mint":          {"create-mint --mint-keypair path [--decimals d] [--fee-bps b] [--mint-authority key]", runCreateMint},
	"create-token-account": {"create-token-account --mint key [--owner key] [--account-keypair path]", runCreateTokenAccount},
	"mint-to":              {"mint-to --mint key --to account --amount n", runMintTo},
	"create-market":        {"create-market --id n --supply-mint key --collateral-mint key --supply-oracle key --collateral-oracle key", runCreateMarket},
	"supply":               {"supply --market key --amount n [--token-account key]", runSupply},
	"withdraw":             {"withdraw --market key --amount n [--token-account key]", runWithdraw},
	"get":                  {"get slot|config|oracle|market|user-supply|mint|token-account|account|events [args]", runGet},
	"audit":                {"audit --market key", runAudit},
	"watch":                {"watch [--account key]", runWatch},
}

// env carries the global flags.
type env struct {
	url         string
	keypairPath string
	programID   pubkey.PublicKey
	out         io.Writer
}

func (e *env) client() *client.Client {
	return client.New(e.url, solana.WithTimeout(30*time.Second), solana.WithMaxRetries(2))
}

func (e *env) signer() (*keypair.Keypair, error) {
	return keypair.Load(e.keypairPath)
}

func (e *env) print(v interface{}) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("lendctl", flag.ContinueOnError)
	url := global.String("url", envOr("LENDING_URL", "http://localhost:8899"), "Lending API endpoint")
	keypairPath := global.String("keypair", envOr("LENDING_KEYPAIR", defaultKeypairPath()), "Signer keypair file")
	programID := global.String("program-id", envOr("LENDING_PROGRAM_ID", config.Default().ProgramID), "Program id used for address derivation")
	global.Usage = func() { usage(global.Output()) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(global.Output())
		return errors.New("missing command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		usage(global.Output())
		return fmt.Errorf("unknown command %q", rest[0])
	}

	pid, err := pubkey.Parse(*programID)
	if err != nil {
		return fmt.Errorf("--program-id: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return cmd.run(ctx, &env{url: *url, keypairPath: *keypairPath, programID: pid, out: out}, rest[1:])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: lendctl [--url u] [--keypair path] [--program-id key] <command> [flags]")
	fmt.Fprintln(w, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// keyFlag is a flag.Value holding a public key.
type keyFlag struct {
	key pubkey.PublicKey
	set bool
}

func (k *keyFlag) String() string {
	if !k.set {
		return ""
	}
	return k.key.String()
}

func (k *keyFlag) Set(s string) error {
	pk, err := pubkey.Parse(s)
	if err != nil {
		return err
	}
	k.key, k.set = pk, true
	return nil
}

func keyVar(fs *flag.FlagSet, name, usage string) *keyFlag {
	k := &keyFlag{}
	fs.Var(k, name, usage)
	return k
}

func require(flags map[string]*keyFlag) error {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !flags[name].set {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

// loadOrCreate reads a keypair file, generating and saving a new keypair if
// the file does not exist.
func loadOrCreate(path string) (*keypair.Keypair, bool, error) {
	kp, err := keypair.Load(path)
	if err == nil {
		return kp, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	if kp, err = keypair.Generate(); err != nil {
		return nil, false, err
	}
	if err := kp.Save(path); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

func runKeygen(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", e.keypairPath, "Output file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s exists (use --force to overwrite)", *out)
	}
	kp, err := keypair.Generate()
	if err != nil {
		return err
	}
	if err := kp.Save(*out); err != nil {
		return err
	}
	return e.print(map[string]string{"publicKey": kp.PublicKey().String(), "path": *out})
}

func runPubkey(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	path := fs.String("keypair", e.keypairPath, "Keypair file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kp, err := keypair.Load(*path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, kp.PublicKey())
	return err
}

func runWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	account := keyVar(fs, "account", "Only stream events touching this account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	events, err := e.client().Watch(ctx, account.String())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.out)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("event stream closed")
}
