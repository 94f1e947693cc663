// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the encrypted credential store behind the
// secretless proxy. Secrets are stored under operator-chosen aliases;
// the proxy resolves aliases to real values per request and never
// returns plaintext to the agent.
//
// At rest the vault is a single container file: Argon2id parameters and
// salt in the clear, the entry list encrypted with XChaCha20-Poly1305
// under a key derived from the master passphrase. Every mutation
// re-encrypts the full entry list with a fresh random nonce and
// atomically replaces the file (write-to-temp, fsync, rename), so a
// crash mid-write leaves the previous valid container intact.
//
// An unlocked vault is a *Session: the derived key and decrypted entry
// values live in mmap-backed secret buffers (see lib/secret) and are
// zeroed on Lock. Entry reads are shared; mutations and Lock take the
// session write lock. AEAD authentication failure on unlock is the
// sole signal for a wrong passphrase — there are no partial-success
// states.
package vault
