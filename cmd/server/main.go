// Package main runs the lending program behind the JSON-RPC and websocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"solana-lending-lab/internal/api"
	"solana-lending-lab/internal/clock"
	"solana-lending-lab/internal/config"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/solana"
	"solana-lending-lab/internal/storage"
	"solana-lending-lab/internal/storage/clickhouse"
	"solana-lending-lab/internal/storage/memory"
	"solana-lending-lab/internal/storage/migrations"
	pgstore "solana-lending-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	envFile := flag.String("env-file", ".env", "Environment file loaded before LENDING_* variables")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	backend := flag.String("storage", "", "Account storage backend: memory or postgres")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for the event log")
	clockSource := flag.String("clock", "", "Slot source: wall or rpc")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Solana RPC endpoint for the rpc clock")
	programID := flag.String("program-id", "", "Program id (base58)")
	logFile := flag.String("log-file", "", "Rotating log file (default stdout)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.ListenAddr = *listen
		case "storage":
			cfg.Storage.Backend = *backend
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickHouseDSN = *clickhouseDSN
		case "clock":
			cfg.Clock.Source = *clockSource
		case "rpc-endpoint":
			cfg.Clock.RPCEndpoint = *rpcEndpoint
		case "program-id":
			cfg.ProgramID = *programID
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	out := logOutput(cfg.Log)
	logger := log.New(out, "[server] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting with config %+v", cfg.Sanitized())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, out, logger); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func loadConfig(path, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logOutput(c config.LogConfig) io.Writer {
	if c.File == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   true,
	})
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, out io.Writer, logger *log.Logger) error {
	programKey, err := cfg.Program()
	if err != nil {
		return err
	}

	accounts, events, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	slots, err := createClock(cfg.Clock)
	if err != nil {
		return err
	}

	hub := api.NewHub(log.New(out, "[ws] ", log.LstdFlags|log.Lshortfile))
	defer hub.Close()

	proc := program.NewProcessor(programKey, ledger.New(accounts, slots),
		program.WithEventStore(events),
		program.WithSink(hub),
		program.WithLogger(log.New(out, "[program] ", log.LstdFlags|log.Lshortfile)),
	)

	srv := api.NewServer(proc, hub, events, api.Options{
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       log.New(out, "[api] ", log.LstdFlags|log.Lshortfile),
	})
	if rl := srv.RateLimiter(); rl != nil {
		go rl.Run(ctx.Done())
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Program %s listening on %s", programKey, cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	cancel()

	hub.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer stop()
	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-shutdownCtx.Done():
		}
	}()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// createStores opens the account store for the configured backend and the
// event log: ClickHouse when a DSN is set, memory otherwise.
func createStores(ctx context.Context, c config.StorageConfig, logger *log.Logger) (storage.AccountStore, storage.EventStore, func(), error) {
	var (
		accounts storage.AccountStore = memory.NewAccountStore()
		events   storage.EventStore   = memory.NewEventStore()
		closers  []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if c.Backend == config.BackendPostgres {
		pool, err := pgstore.NewPool(ctx, c.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		accounts = pgstore.NewAccountStore(pool)
		logger.Println("Using PostgreSQL account store")
	} else {
		logger.Println("Using in-memory account store")
	}

	if c.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, c.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		events = clickhouse.NewEventStore(conn)
		logger.Println("Using ClickHouse event log")
	}

	return accounts, events, cleanup, nil
}

func createClock(c config.ClockConfig) (ledger.SlotSource, error) {
	switch c.Source {
	case config.ClockRPC:
		rpc := solana.NewHTTPClient(c.RPCEndpoint, solana.WithTimeout(5*time.Second), solana.WithMaxRetries(1))
		return clock.NewRPC(rpc, c.RefreshInterval.Duration, c.MaxStaleness.Duration), nil
	case config.ClockWall:
		return clock.NewWall(clock.Genesis, c.SlotDuration.Duration), nil
	default:
		return nil, fmt.Errorf("unknown clock source %q", c.Source)
	}
}
