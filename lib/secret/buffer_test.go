// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestBufferRoundTrip(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buffer.Close()

	copy(buffer.Bytes(), []byte("vault-test-key!!"))

	if got := buffer.Bytes(); !bytes.Equal(got, []byte("vault-test-key!!")) {
		t.Errorf("Bytes() = %q, want %q", got, "vault-test-key!!")
	}
	if buffer.Len() != 16 {
		t.Errorf("Len() = %d, want 16", buffer.Len())
	}
}

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("sk-test-secret-value")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for i, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed: %x", i, b)
		}
	}
	if buffer.String() != "sk-test-secret-value" {
		t.Errorf("buffer contents lost: %q", buffer.String())
	}
}

func TestNewFromBytesEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("passphrase"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !buffer.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestReadAfterClosePanics(t *testing.T) {
	buffer, err := NewFromBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic reading closed buffer")
		}
	}()
	_ = buffer.Bytes()
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %x, want 0", i, b)
		}
	}
}
