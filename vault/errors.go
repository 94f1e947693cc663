// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import "errors"

var (
	// ErrLocked is returned by entry operations after Lock. The proxy
	// converts this into a blocked response — a locked vault fails
	// closed, never open.
	ErrLocked = errors.New("vault is locked")

	// ErrIncorrectPassphrase is returned by Unlock when authenticated
	// decryption of the container fails. AEAD tag mismatch is the sole
	// basis for this error.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase")

	// ErrWeakPassphrase is returned by Create when the passphrase is
	// shorter than MinPassphraseLength. Strength beyond the length
	// floor is advisory and enforced by the shell, not here.
	ErrWeakPassphrase = errors.New("passphrase is too short")

	// ErrDuplicateAlias is returned by AddEntry when the alias already
	// exists. Aliases appear in agent-visible configuration, so silent
	// replacement would let a stale config reference the wrong secret.
	ErrDuplicateAlias = errors.New("alias already exists")

	// ErrEmptyValue is returned by AddEntry for an empty secret value.
	ErrEmptyValue = errors.New("secret value is empty")

	// ErrNotFound is returned by GetEntry and DeleteEntry for an
	// unknown alias.
	ErrNotFound = errors.New("no entry with that alias")
)
