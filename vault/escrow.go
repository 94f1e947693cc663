// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/vault0-foundation/vault0/lib/codec"
	"github.com/vault0-foundation/vault0/lib/secret"
)

// Escrow backs up the vault for passphrase-loss recovery. The entry
// list is encrypted with age to one or more operator recovery keys and
// written as a standalone file. The escrow file is independent of the
// passphrase: whoever holds a recovery private key can restore the
// entries into a fresh vault.

// RecoveryKeypair holds an age x25519 keypair for escrow. The private
// key lives in a secret buffer; the public key string is safe to print
// and store anywhere.
type RecoveryKeypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory. Idempotent.
func (k *RecoveryKeypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateRecoveryKeypair creates a new age x25519 keypair for use as
// an escrow recipient. The caller must Close the result when done.
func GenerateRecoveryKeypair() (*RecoveryKeypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating recovery keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// intermediate string is heap-resident until GC'd; the buffer is
	// the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting recovery key: %w", err)
	}

	return &RecoveryKeypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// WriteEscrow encrypts the current entry list to the given age public
// keys and atomically writes the result to path. Requires an unlocked
// session. At least one recipient is required.
func (s *Session) WriteEscrow(path string, recipientKeys []string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one escrow recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recovery key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Closed() {
		return ErrLocked
	}

	records := make([]entryRecord, 0, len(s.entries))
	for _, e := range s.entries {
		records = append(records, entryRecord{
			Alias:     e.alias,
			Provider:  e.provider,
			Value:     e.value.Bytes(),
			CreatedAt: e.createdAt.UnixMilli(),
		})
	}
	plaintext, err := codec.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding escrow payload: %w", err)
	}
	defer secret.Zero(plaintext)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return fmt.Errorf("creating escrow encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("encrypting escrow payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing escrow encryption: %w", err)
	}

	if err := os.WriteFile(path, ciphertext.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing escrow file: %w", err)
	}
	s.logger.Info("escrow written", "path", path, "entries", len(records), "recipients", len(recipientKeys))
	return nil
}

// RestoredEntry is one entry recovered from an escrow file. Value is a
// secret buffer owned by the caller.
type RestoredEntry struct {
	Alias    string
	Provider string
	Value    *secret.Buffer
}

// ReadEscrow decrypts an escrow file with a recovery private key and
// returns the entries it contains. The private key is borrowed, not
// closed. Callers typically feed the result to AddEntry on a freshly
// created vault, which transfers ownership of each value buffer.
func ReadEscrow(path string, privateKey *secret.Buffer) ([]RestoredEntry, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing recovery key: %w", err)
	}

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading escrow file: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting escrow file: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading escrow payload: %w", err)
	}
	defer secret.Zero(plaintext)

	var records []entryRecord
	if err := codec.Unmarshal(plaintext, &records); err != nil {
		return nil, fmt.Errorf("decoding escrow payload: %w", err)
	}

	restored := make([]RestoredEntry, 0, len(records))
	for _, record := range records {
		value, err := secret.NewFromBytes(record.Value)
		if err != nil {
			for _, r := range restored {
				r.Value.Close()
			}
			return nil, fmt.Errorf("protecting entry %q: %w", record.Alias, err)
		}
		restored = append(restored, RestoredEntry{
			Alias:    record.Alias,
			Provider: record.Provider,
			Value:    value,
		})
	}
	return restored, nil
}
