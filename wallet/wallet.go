// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/vault0-foundation/vault0/lib/codec"
	"github.com/vault0-foundation/vault0/lib/secret"
	"github.com/vault0-foundation/vault0/vault"
)

// entropyBits yields a 12-word mnemonic.
const entropyBits = 128

// Wallet holds the signing seed in locked memory. Safe for concurrent
// signing; Close zeros the key material.
type Wallet struct {
	mnemonic *secret.Buffer
	seed     *secret.Buffer
	public   ed25519.PublicKey
}

// Create generates a new random mnemonic and derives the signing key.
// The mnemonic is retrievable once via ExportMnemonic for the operator
// to record; persist the wallet with SaveSealed before relying on it.
func Create() (*Wallet, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("generating entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generating mnemonic: %w", err)
	}
	secret.Zero(entropy)
	return fromMnemonic(mnemonic)
}

// Import reconstructs a wallet from an existing mnemonic phrase.
func Import(mnemonic string) (*Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}
	return fromMnemonic(mnemonic)
}

// fromMnemonic moves the phrase and derived seed into locked buffers.
// The first 32 bytes of the BIP-39 seed become the Ed25519 seed.
func fromMnemonic(mnemonic string) (*Wallet, error) {
	mnemonicBytes := []byte(mnemonic)
	mnemonicBuffer, err := secret.NewFromBytes(mnemonicBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting mnemonic: %w", err)
	}

	fullSeed := bip39.NewSeed(mnemonicBuffer.String(), "")
	seedBuffer, err := secret.NewFromBytes(fullSeed[:ed25519.SeedSize])
	if err != nil {
		mnemonicBuffer.Close()
		return nil, fmt.Errorf("protecting seed: %w", err)
	}
	secret.Zero(fullSeed)

	key := ed25519.NewKeyFromSeed(seedBuffer.Bytes())
	public := append(ed25519.PublicKey(nil), key.Public().(ed25519.PublicKey)...)
	secret.Zero(key)

	return &Wallet{
		mnemonic: mnemonicBuffer,
		seed:     seedBuffer,
		public:   public,
	}, nil
}

// PublicKey returns the verification key. Safe to publish.
func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.public
}

// Address is the operator-facing wallet identifier: the hex-encoded
// public key.
func (w *Wallet) Address() string {
	return hex.EncodeToString(w.public)
}

// Sign produces an Ed25519 signature over payload. The private key is
// reconstructed from the locked seed for the duration of the call and
// zeroed before returning.
func (w *Wallet) Sign(payload []byte) ([]byte, error) {
	if w.seed.Closed() {
		return nil, fmt.Errorf("wallet is closed")
	}
	key := ed25519.NewKeyFromSeed(w.seed.Bytes())
	defer secret.Zero(key)
	return ed25519.Sign(key, payload), nil
}

// Verify checks a signature against the wallet's public key.
func Verify(public ed25519.PublicKey, payload, signature []byte) bool {
	return ed25519.Verify(public, payload, signature)
}

// ExportMnemonic returns the recovery phrase as a string for the
// operator to record. The heap copy is unavoidable at this boundary;
// callers must not log or persist it.
func (w *Wallet) ExportMnemonic() (string, error) {
	if w.mnemonic.Closed() {
		return "", fmt.Errorf("wallet is closed")
	}
	return w.mnemonic.String(), nil
}

// Close zeros the mnemonic and seed. Idempotent.
func (w *Wallet) Close() {
	w.mnemonic.Close()
	w.seed.Close()
}

// sealedWallet is the CBOR payload sealed under the vault key.
type sealedWallet struct {
	Mnemonic string `cbor:"mnemonic"`
}

// SaveSealed persists the wallet at path, encrypted under the vault
// session's key. Requires an unlocked session.
func (w *Wallet) SaveSealed(session *vault.Session, path string) error {
	if w.mnemonic.Closed() {
		return fmt.Errorf("wallet is closed")
	}
	plaintext, err := codec.Marshal(sealedWallet{Mnemonic: w.mnemonic.String()})
	if err != nil {
		return fmt.Errorf("encoding wallet: %w", err)
	}
	defer secret.Zero(plaintext)

	sealed, err := session.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("sealing wallet: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("writing wallet file: %w", err)
	}
	return nil
}

// LoadSealed opens a wallet persisted by SaveSealed. Requires the same
// vault (same key) that sealed it.
func LoadSealed(session *vault.Session, path string) (*Wallet, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}
	plaintext, err := session.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("unsealing wallet: %w", err)
	}
	defer secret.Zero(plaintext)

	var stored sealedWallet
	if err := codec.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("decoding wallet: %w", err)
	}
	return Import(stored.Mnemonic)
}
