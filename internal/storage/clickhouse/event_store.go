package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
// ledger_events is a ReplacingMergeTree keyed by event_id, so re-inserting
// an event collapses on merge and reads use FINAL.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk appends events in one batch.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "insert_events", time.Since(start).Seconds(), err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			event_id, kind, slot, signature, actor, market, oracle, account,
			amount, price, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID, string(e.Kind), e.Slot, e.Signature, e.Actor,
			e.Market, e.Oracle, e.Account, e.Amount, e.Price, e.TimestampMs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAccount returns events touching address, newest first.
func (s *EventStore) GetByAccount(ctx context.Context, address string, limit int) (events []*domain.Event, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "events_by_account", time.Since(start).Seconds(), err)
	}()

	query := `
		SELECT event_id, kind, slot, signature, actor, market, oracle, account,
		       amount, price, timestamp_ms
		FROM ledger_events FINAL
		WHERE actor = ? OR market = ? OR oracle = ? OR account = ?
		ORDER BY slot DESC, timestamp_ms DESC
	`
	args := []interface{}{address, address, address, address}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events by account: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// chRows abstracts driver.Rows for scanning helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanEvents scans multiple rows.
func scanEvents(rows chRows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var e domain.Event
		var kind string
		err := rows.Scan(
			&e.EventID, &kind, &e.Slot, &e.Signature, &e.Actor,
			&e.Market, &e.Oracle, &e.Account, &e.Amount, &e.Price, &e.TimestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
