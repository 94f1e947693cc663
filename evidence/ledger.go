// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vault0-foundation/vault0/lib/clock"
)

// Hash is a 32-byte BLAKE3 digest linking the event chain.
type Hash [32]byte

// String returns the canonical hex rendering used in CLI output and
// receipts.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// eventDomainKey is the fixed BLAKE3 keyed-mode key for evidence
// hashes. The bytes are the ASCII domain name zero-padded to 32 bytes:
// readable in hex dumps, and changing it invalidates every existing
// chain.
var eventDomainKey = [32]byte{
	'v', 'a', 'u', 'l', 't', '0', '.', 'e', 'v', 'i', 'd', 'e', 'n', 'c', 'e', '.',
	'e', 'v', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Kind classifies an event. The set is closed: every proxy outcome
// maps onto exactly one of these.
type Kind string

const (
	KindAllowed Kind = "allowed"
	KindBlocked Kind = "blocked"
	KindPayment Kind = "payment"
	KindInfo    Kind = "info"
)

// Event is one immutable ledger entry. Hash covers Timestamp, Kind,
// Message, and PrevHash; Index is positional and implied by PrevHash.
type Event struct {
	Index     uint64
	Timestamp time.Time
	Kind      Kind
	Message   string
	PrevHash  Hash
	Hash      Hash
}

// ErrLedgerCorruption reports a hash-chain verification failure. The
// ledger is surfaced broken, never rewritten.
var ErrLedgerCorruption = errors.New("evidence chain verification failed")

// hashEvent computes the chained hash. Fields are length-delimited so
// no two distinct (kind, message) pairs can produce the same input
// stream.
func hashEvent(prev Hash, timestampMilli int64, kind Kind, message string) Hash {
	hasher, err := blake3.NewKeyed(eventDomainKey[:])
	if err != nil {
		panic("evidence: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var scratch [8]byte
	hasher.Write(prev[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(timestampMilli))
	hasher.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(len(kind)))
	hasher.Write(scratch[:])
	hasher.Write([]byte(kind))
	binary.BigEndian.PutUint64(scratch[:], uint64(len(message)))
	hasher.Write(scratch[:])
	hasher.Write([]byte(message))

	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// Stats summarizes the ledger for the status surface.
type Stats struct {
	Total   int
	Allowed int
	Blocked int
	Payment int
	Info    int
	// Head is the hash of the latest event, or all zeros when empty.
	Head Hash
}

// Ledger is the append-only event chain. Appends are serialized by the
// write lock, which also spans the durable insert when a store is
// attached. Reads snapshot under the read lock.
type Ledger struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	events []Event
	store  *Store
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock substitutes the time source. Tests use a fake clock to get
// reproducible chains.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger attaches a logger for operational messages.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithStore attaches durable SQLite persistence. Existing events are
// not loaded here — use Open to restore a ledger from disk.
func WithStore(store *Store) Option {
	return func(l *Ledger) { l.store = store }
}

// NewLedger returns an empty in-memory ledger.
func NewLedger(options ...Option) *Ledger {
	ledger := &Ledger{
		clock:  clock.Real(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(ledger)
	}
	return ledger
}

// Open restores a ledger from a SQLite store, verifying the full chain
// before accepting it. A verification failure returns
// ErrLedgerCorruption with the offending index; the database is left
// untouched.
func Open(ctx context.Context, store *Store, options ...Option) (*Ledger, error) {
	ledger := NewLedger(options...)
	ledger.store = store

	events, err := store.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := verifyChain(events); err != nil {
		return nil, err
	}
	ledger.events = events
	ledger.logger.Info("evidence ledger opened", "events", len(events))
	return ledger, nil
}

// Append adds one event to the chain and, when a store is attached,
// persists it before the event becomes visible. On a persistence
// failure the in-memory chain is unchanged.
func (l *Ledger) Append(ctx context.Context, kind Kind, message string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev Hash
	if n := len(l.events); n > 0 {
		prev = l.events[n-1].Hash
	}

	timestamp := l.clock.Now()
	event := Event{
		Index:     uint64(len(l.events)),
		Timestamp: timestamp,
		Kind:      kind,
		Message:   message,
		PrevHash:  prev,
	}
	event.Hash = hashEvent(prev, timestamp.UnixMilli(), kind, message)

	if l.store != nil {
		if err := l.store.insert(ctx, event); err != nil {
			return Event{}, fmt.Errorf("persisting evidence event: %w", err)
		}
	}

	l.events = append(l.events, event)
	l.logger.Debug("evidence appended", "index", event.Index, "kind", kind)
	return event, nil
}

// Events returns a snapshot of the full chain.
func (l *Ledger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make([]Event, len(l.events))
	copy(snapshot, l.events)
	return snapshot
}

// Stats computes per-kind counts over a consistent snapshot.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Total: len(l.events)}
	for _, event := range l.events {
		switch event.Kind {
		case KindAllowed:
			stats.Allowed++
		case KindBlocked:
			stats.Blocked++
		case KindPayment:
			stats.Payment++
		case KindInfo:
			stats.Info++
		}
	}
	if n := len(l.events); n > 0 {
		stats.Head = l.events[n-1].Hash
	}
	return stats
}

// Verify recomputes the whole chain and returns ErrLedgerCorruption on
// the first mismatch.
func (l *Ledger) Verify() error {
	return verifyChain(l.Events())
}

// verifyChain checks linkage and recomputes every hash.
func verifyChain(events []Event) error {
	var prev Hash
	for index, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("%w: event %d prev_hash does not link", ErrLedgerCorruption, index)
		}
		expected := hashEvent(prev, event.Timestamp.UnixMilli(), event.Kind, event.Message)
		if event.Hash != expected {
			return fmt.Errorf("%w: event %d hash mismatch", ErrLedgerCorruption, index)
		}
		prev = event.Hash
	}
	return nil
}
