package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, "001_accounts.sql", pg[0].name)
	assert.Contains(t, pg[0].sql, "CREATE TABLE IF NOT EXISTS accounts")

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)

	stmts, err := splitStatements(ch[0].sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "ReplacingMergeTree")
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    []string
		wantErr bool
	}{
		{
			name: "comments and blank statements",
			sql:  "-- header\nCREATE TABLE a (x UInt8);\n\n;\nCREATE TABLE b (y UInt8);\n",
			want: []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y UInt8)"},
		},
		{
			name: "trailing statement without semicolon",
			sql:  "SELECT 1;\nSELECT 2",
			want: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name: "quoted text without semicolons",
			sql:  "INSERT INTO t VALUES ('a-b');",
			want: []string{"INSERT INTO t VALUES ('a-b')"},
		},
		{
			name:    "quoted semicolon",
			sql:     "INSERT INTO t VALUES ('a;b');",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitStatements(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "clickhouse://default:@localhost:9000/lending", want: "lending"},
		{dsn: "clickhouse://localhost:9000", wantErr: true},
		{dsn: "clickhouse://localhost:9000/bad-name", wantErr: true},
	}
	for _, tt := range tests {
		got, err := databaseFromDSN(tt.dsn)
		if tt.wantErr {
			assert.Error(t, err, tt.dsn)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
