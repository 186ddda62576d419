package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("update account: %w", &pgconn.PgError{Code: code})
	}

	tests := []struct {
		name          string
		err           error
		duplicate     bool
		serialization bool
		notFound      bool
	}{
		{name: "unique violation", err: wrap(pgErrUniqueViolation), duplicate: true},
		{name: "serialization failure", err: wrap(pgErrSerializationFailure), serialization: true},
		{name: "deadlock", err: wrap(pgErrDeadlockDetected), serialization: true},
		{name: "no rows", err: fmt.Errorf("get: %w", pgx.ErrNoRows), notFound: true},
		{name: "other", err: errors.New("connection reset")},
		{name: "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.duplicate, isDuplicateKeyError(tt.err))
			assert.Equal(t, tt.serialization, isSerializationError(tt.err))
			assert.Equal(t, tt.notFound, isNotFoundError(tt.err))
		})
	}
}

func TestNewPool_TagsSessions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	var name string
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT current_setting('application_name')").Scan(&name))
	assert.Equal(t, applicationName, name)
}
