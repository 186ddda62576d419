package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/storage"
)

// applicationName tags ledger sessions in pg_stat_activity unless the DSN
// sets its own.
const applicationName = "lending-ledger"

// Pool is the connection pool backing the account ledger. Every ledger
// commit runs as one transaction on a connection from it.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to the ledger database and pings it before returning.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close releases every ledger connection.
func (p *Pool) Close() {
	p.Pool.Close()
}

// SQLSTATE codes the account store maps to storage errors.
const (
	pgErrUniqueViolation      = "23505" // create of an allocated address
	pgErrSerializationFailure = "40001" // lost a concurrent commit
	pgErrDeadlockDetected     = "40P01" // lock cycle between two commits
)

// isDuplicateKeyError reports an insert into an address that already has a
// row, which the ledger surfaces as a lost create.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// isNotFoundError reports an address with no account row.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isSerializationError checks if the transaction lost a concurrent update
// race, including a lock cycle between two commits.
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected
	}
	return false
}

// observe records query latency. Not-found, conflict and duplicate results
// are outcomes, not database errors.
func observe(operation string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrDuplicateKey) {
		err = nil
	}
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)
}
