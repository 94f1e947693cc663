// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vault0-foundation/vault0/lib/secret"
)

func testPassphrase(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func testValue(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating value buffer: %v", err)
	}
	return buffer
}

func TestCreateUnlockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	passphrase := testPassphrase(t, "correct horse battery staple")

	session, err := Create(path, passphrase, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := session.AddEntry("openai-key", "openai", testValue(t, "sk-test-1234567890abcdef")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	session.Lock()

	reopened, err := Unlock(path, passphrase, nil)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	defer reopened.Lock()

	value, err := reopened.GetEntry("openai-key")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	defer value.Close()
	if got := value.String(); got != "sk-test-1234567890abcdef" {
		t.Errorf("GetEntry value = %q, want original secret", got)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")

	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	session.Lock()

	_, err = Unlock(path, testPassphrase(t, "wrong horse battery staple"), nil)
	if !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("Unlock with wrong passphrase = %v, want ErrIncorrectPassphrase", err)
	}
}

func TestCreateWeakPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	_, err := Create(path, testPassphrase(t, "short"), nil)
	if !errors.Is(err, ErrWeakPassphrase) {
		t.Fatalf("Create with short passphrase = %v, want ErrWeakPassphrase", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("container file should not exist after rejected Create")
	}
}

func TestTamperedContainerFailsUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	passphrase := testPassphrase(t, "correct horse battery staple")

	session, err := Create(path, passphrase, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := session.AddEntry("key", "", testValue(t, "supersecretvalue")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	session.Lock()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	// Flip a bit near the end, inside the ciphertext.
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing tampered container: %v", err)
	}

	_, err = Unlock(path, passphrase, nil)
	if !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("Unlock of tampered container = %v, want ErrIncorrectPassphrase", err)
	}
}

func TestDuplicateAliasRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer session.Lock()

	if err := session.AddEntry("api-key", "", testValue(t, "first-value-here")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	err = session.AddEntry("api-key", "", testValue(t, "second-value-here"))
	if !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("duplicate AddEntry = %v, want ErrDuplicateAlias", err)
	}

	// The original value must be untouched.
	value, err := session.GetEntry("api-key")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	defer value.Close()
	if got := value.String(); got != "first-value-here" {
		t.Errorf("value after rejected duplicate = %q, want first value", got)
	}
}

func TestEmptyValueRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer session.Lock()

	if err := session.AddEntry("empty", "", nil); !errors.Is(err, ErrEmptyValue) {
		t.Fatalf("AddEntry with nil value = %v, want ErrEmptyValue", err)
	}
}

func TestDeleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	passphrase := testPassphrase(t, "correct horse battery staple")
	session, err := Create(path, passphrase, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := session.AddEntry("doomed", "", testValue(t, "ephemeral-secret")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := session.DeleteEntry("doomed"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := session.GetEntry("doomed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetEntry after delete = %v, want ErrNotFound", err)
	}
	if err := session.DeleteEntry("doomed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteEntry = %v, want ErrNotFound", err)
	}
	session.Lock()

	// Deletion must survive a reopen.
	reopened, err := Unlock(path, passphrase, nil)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	defer reopened.Lock()
	if _, err := reopened.GetEntry("doomed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetEntry after reopen = %v, want ErrNotFound", err)
	}
}

func TestListEntriesPreviewMasking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer session.Lock()

	if err := session.AddEntry("long", "openai", testValue(t, "sk-abcdef123456")); err != nil {
		t.Fatalf("AddEntry long: %v", err)
	}
	if err := session.AddEntry("short", "", testValue(t, "tiny12")); err != nil {
		t.Fatalf("AddEntry short: %v", err)
	}

	infos, err := session.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("ListEntries returned %d entries, want 2", len(infos))
	}
	// Sorted by alias: "long" before "short".
	if infos[0].Preview != "sk-...456" {
		t.Errorf("long preview = %q, want %q", infos[0].Preview, "sk-...456")
	}
	if infos[1].Preview != "****" {
		t.Errorf("short preview = %q, want %q", infos[1].Preview, "****")
	}
	if infos[0].Provider != "openai" {
		t.Errorf("provider = %q, want %q", infos[0].Provider, "openai")
	}
}

func TestLockedSessionFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := session.AddEntry("key", "", testValue(t, "some-secret-value")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	session.Lock()
	session.Lock() // idempotent

	if _, err := session.GetEntry("key"); !errors.Is(err, ErrLocked) {
		t.Errorf("GetEntry after Lock = %v, want ErrLocked", err)
	}
	if _, err := session.ListEntries(); !errors.Is(err, ErrLocked) {
		t.Errorf("ListEntries after Lock = %v, want ErrLocked", err)
	}
	if err := session.AddEntry("other", "", testValue(t, "another-secret-1")); !errors.Is(err, ErrLocked) {
		t.Errorf("AddEntry after Lock = %v, want ErrLocked", err)
	}
	if err := session.DeleteEntry("key"); !errors.Is(err, ErrLocked) {
		t.Errorf("DeleteEntry after Lock = %v, want ErrLocked", err)
	}
	if _, err := session.Seal([]byte("data")); !errors.Is(err, ErrLocked) {
		t.Errorf("Seal after Lock = %v, want ErrLocked", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	session, err := Create(path, testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer session.Lock()

	sealed, err := session.Seal([]byte("wallet seed material"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := session.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "wallet seed material" {
		t.Errorf("Open = %q, want sealed plaintext", opened)
	}

	sealed[len(sealed)-1] ^= 0x01
	if _, err := session.Open(sealed); !errors.Is(err, ErrIncorrectPassphrase) {
		t.Errorf("Open of tampered blob = %v, want ErrIncorrectPassphrase", err)
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	dir := t.TempDir()
	session, err := Create(filepath.Join(dir, "vault.enc"), testPassphrase(t, "correct horse battery staple"), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer session.Lock()
	if err := session.AddEntry("anthropic-key", "anthropic", testValue(t, "sk-ant-abcdef0123456789")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	keypair, err := GenerateRecoveryKeypair()
	if err != nil {
		t.Fatalf("GenerateRecoveryKeypair: %v", err)
	}
	defer keypair.Close()

	escrowPath := filepath.Join(dir, "vault.escrow")
	if err := session.WriteEscrow(escrowPath, []string{keypair.PublicKey}); err != nil {
		t.Fatalf("WriteEscrow: %v", err)
	}

	restored, err := ReadEscrow(escrowPath, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("ReadEscrow: %v", err)
	}
	if len(restored) != 1 {
		t.Fatalf("ReadEscrow returned %d entries, want 1", len(restored))
	}
	defer restored[0].Value.Close()
	if restored[0].Alias != "anthropic-key" || restored[0].Provider != "anthropic" {
		t.Errorf("restored entry metadata = %q/%q", restored[0].Alias, restored[0].Provider)
	}
	if got := restored[0].Value.String(); got != "sk-ant-abcdef0123456789" {
		t.Errorf("restored value = %q, want original secret", got)
	}

	// A different keypair must not be able to open the escrow.
	other, err := GenerateRecoveryKeypair()
	if err != nil {
		t.Fatalf("GenerateRecoveryKeypair: %v", err)
	}
	defer other.Close()
	if _, err := ReadEscrow(escrowPath, other.PrivateKey); err == nil {
		t.Error("ReadEscrow with wrong recovery key should fail")
	}
}
