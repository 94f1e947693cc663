// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package wallet manages the mnemonic-derived signing key used for
// payment authorizations. The mnemonic is a standard BIP-39 phrase;
// the Ed25519 signing key is derived from its seed, so the same
// phrase always reproduces the same key.
//
// Key material lives in locked secret buffers while the wallet is
// open, and at rest it is sealed under the vault key — the same
// passphrase that protects credentials protects the wallet. The
// wallet only ever exposes signing operations to the proxy pipeline;
// the payment settlement layer builds the payload, the wallet signs
// it, and neither the seed nor the private key crosses that boundary.
package wallet
