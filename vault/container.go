// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vault0-foundation/vault0/lib/codec"
	"github.com/vault0-foundation/vault0/lib/secret"
)

const (
	// containerVersion is the on-disk format version. Bumped only on
	// incompatible changes to the container structure or cipher suite.
	containerVersion = 1

	keySize  = 32
	saltSize = 16

	// MinPassphraseLength is the floor enforced by Create.
	MinPassphraseLength = 12
)

// kdfParams records the Argon2id cost parameters in the container
// header so old vaults remain readable after the defaults change.
type kdfParams struct {
	Time      uint32 `cbor:"time"`
	MemoryKiB uint32 `cbor:"memory_kib"`
	Threads   uint8  `cbor:"threads"`
}

// defaultKDFParams targets roughly a quarter second of derivation on
// commodity hardware: interactive unlock stays tolerable while offline
// guessing stays expensive.
var defaultKDFParams = kdfParams{
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   4,
}

// container is the CBOR structure written to disk. Salt and KDF
// parameters are authenticated implicitly: tampering with them changes
// the derived key and the AEAD open fails.
type container struct {
	Version    int       `cbor:"version"`
	Salt       []byte    `cbor:"salt"`
	KDF        kdfParams `cbor:"kdf"`
	Nonce      []byte    `cbor:"nonce"`
	Ciphertext []byte    `cbor:"ciphertext"`
}

// entryRecord is the serialized form of one vault entry inside the
// encrypted payload. Value is plaintext here; the encoded entry list
// only ever exists transiently and is zeroed after sealing.
type entryRecord struct {
	Alias     string `cbor:"alias"`
	Provider  string `cbor:"provider,omitempty"`
	Value     []byte `cbor:"value"`
	CreatedAt int64  `cbor:"created_at"`
}

// deriveKey runs Argon2id over the passphrase and returns the key in a
// locked secret buffer.
func deriveKey(passphrase []byte, salt []byte, params kdfParams) (*secret.Buffer, error) {
	raw := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Threads, keySize)
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("storing derived key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext under key with a fresh random nonce and
// returns nonce and ciphertext. XChaCha20-Poly1305's 24-byte nonce
// makes random nonces safe at any realistic mutation rate.
func seal(key *secret.Buffer, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing cipher: %w", err)
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// open decrypts and authenticates ciphertext. Any failure (wrong key,
// flipped bit, truncation) surfaces as ErrIncorrectPassphrase: the AEAD
// does not distinguish, and neither do we.
func open(key *secret.Buffer, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrIncorrectPassphrase
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIncorrectPassphrase
	}
	return plaintext, nil
}

// readContainer loads and decodes the container file.
func readContainer(path string) (*container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault container: %w", err)
	}
	var c container
	if err := codec.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding vault container %s: %w", path, err)
	}
	if c.Version != containerVersion {
		return nil, fmt.Errorf("unsupported vault container version %d in %s", c.Version, path)
	}
	if len(c.Salt) != saltSize {
		return nil, fmt.Errorf("malformed vault container %s: bad salt length %d", path, len(c.Salt))
	}
	return &c, nil
}

// writeContainer encodes the container and atomically replaces path:
// write to a temp file in the same directory, fsync, rename. The
// previous container stays valid until the rename commits.
func writeContainer(path string, c *container) error {
	data, err := codec.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding vault container: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vault0-container-*")
	if err != nil {
		return fmt.Errorf("creating temp container: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting container permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp container: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp container: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing vault container: %w", err)
	}

	// Persist the rename itself. Failure here is non-fatal: the data
	// is already in place, only the directory entry may lag a crash.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
