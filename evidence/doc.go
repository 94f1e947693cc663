// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package evidence implements the tamper-evident event ledger. Every
// proxy decision appends exactly one event; each event's hash covers
// its own fields plus the previous event's hash, so any mutation,
// deletion, or reorder of past events breaks the chain.
//
// Hashes are BLAKE3 in keyed mode with a fixed domain-separation key,
// so evidence hashes can never collide with hashes computed in any
// other context. The chain starts from an all-zero previous hash.
//
// Appends are strictly serialized behind a single writer lock, which
// also covers the durable SQLite insert — an event is either fully in
// memory and on disk, or in neither. Reads (stats, export) take a
// consistent snapshot and may run concurrently with appends.
//
// The ledger is never repaired: a verification failure surfaces as
// ErrLedgerCorruption and the broken chain is preserved as-is, since
// rewriting it would defeat the tamper evidence it exists to provide.
package evidence
