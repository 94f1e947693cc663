// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool backing the
// durable evidence ledger.
//
// It wraps zombiezen.com/go/sqlite with production defaults: WAL
// journal mode so receipt exports and stats queries never block the
// (strictly serialized) append path, NORMAL synchronous for
// process-crash durability, and a busy timeout so a slow export does
// not surface SQLITE_BUSY to the proxy pipeline.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are NOT
// safe for concurrent use — each goroutine holds its own connection for
// the duration of its work. The evidence store takes exactly one
// connection inside its append critical section, which preserves the
// ledger's single-writer ordering guarantee.
package sqlitepool
