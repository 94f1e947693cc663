// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() with deterministic time control.
//
// The evidence ledger is the main consumer: event hashes cover the
// event timestamp, so the hash-chain tests need two ledgers fed from
// the same fake clock to produce identical chains. The payment pending
// queue uses the clock for pending-entry timestamps for the same
// reason.
package clock
