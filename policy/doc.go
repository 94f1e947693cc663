// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the declarative access policy evaluated on
// every proxied request: domain allow/block lists, a per-session spend
// cap for payment settlement, and ordered redaction patterns applied
// to observed content before it is logged or returned.
//
// The policy document is a human-editable YAML file. The engine holds
// the compiled document behind an atomic pointer: evaluation is
// lock-free and an evaluator sees either the old or the new document
// in full, never a partial update. Evaluation is deterministic — the
// same request against the same document always yields the same
// verdict.
package policy
