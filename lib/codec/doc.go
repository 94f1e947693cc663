// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Vault0's standard CBOR encoding.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical value always produces identical bytes. This matters in three
// places: the vault container (a byte-for-byte stable plaintext keeps
// AEAD round-trip tests honest), payment authorizations (the signature
// covers the encoded bytes, so encoding must be canonical), and
// exported evidence receipts (external verifiers recompute hashes over
// the exact exported bytes).
//
// Decoding accepts standard CBOR and silently ignores unknown fields
// for forward compatibility.
package codec
