// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package payment implements HTTP 402 settlement. When an upstream
// responds 402 Payment Required, the proxy parses the payment demand,
// checks it against the policy spend cap, and — when auto-settlement
// is enabled — produces a single-use signed authorization that is
// attached to the retried request as a payment proof header.
//
// Spend accounting is a single critical section: the cap check and the
// total increment happen under one lock, so two concurrent settlements
// can never both pass a cap that only admits one of them. Nonces are
// random 128-bit values tracked per session; a replayed nonce is
// rejected outright.
//
// When auto-settlement is disabled, demands land in a bounded pending
// queue for explicit operator confirmation. Nothing is signed until
// the operator acts.
//
// This package never submits a transaction anywhere: it only produces
// an authorization the upstream service consumes.
package payment
