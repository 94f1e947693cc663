// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vault0-foundation/vault0/lib/sqlitepool"
)

// Store persists the event chain in SQLite. The schema is append-only
// by convention: the ledger only ever inserts, and verification on
// Open catches any out-of-band tampering with the rows.
type Store struct {
	pool *sqlitepool.Pool
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	idx        INTEGER PRIMARY KEY,
	ts_milli   INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	prev_hash  BLOB    NOT NULL,
	hash       BLOB    NOT NULL
)`

// OpenStore opens (or creates) the evidence database at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, createEventsTable, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening evidence store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// insert writes one event. Called with the ledger write lock held, so
// inserts arrive strictly in chain order.
func (s *Store) insert(ctx context.Context, event Event) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO events (idx, ts_milli, kind, message, prev_hash, hash) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				int64(event.Index),
				event.Timestamp.UnixMilli(),
				string(event.Kind),
				event.Message,
				event.PrevHash[:],
				event.Hash[:],
			},
		})
	if err != nil {
		return fmt.Errorf("inserting event %d: %w", event.Index, err)
	}
	return nil
}

// loadAll reads the full chain ordered by index.
func (s *Store) loadAll(ctx context.Context) ([]Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn,
		`SELECT idx, ts_milli, kind, message, prev_hash, hash FROM events ORDER BY idx`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event := Event{
					Index:     uint64(stmt.ColumnInt64(0)),
					Timestamp: time.UnixMilli(stmt.ColumnInt64(1)),
					Kind:      Kind(stmt.ColumnText(2)),
					Message:   stmt.ColumnText(3),
				}
				if stmt.ColumnLen(4) != len(event.PrevHash) || stmt.ColumnLen(5) != len(event.Hash) {
					return fmt.Errorf("%w: event %d has malformed hash columns", ErrLedgerCorruption, event.Index)
				}
				stmt.ColumnBytes(4, event.PrevHash[:])
				stmt.ColumnBytes(5, event.Hash[:])
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("loading evidence events: %w", err)
	}
	return events, nil
}
