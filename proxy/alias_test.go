// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vault0-foundation/vault0/lib/secret"
	"github.com/vault0-foundation/vault0/vault"
)

func newAliasSession(t *testing.T) *vault.Session {
	t.Helper()
	passphrase, err := secret.NewFromBytes([]byte("correct-horse-battery-staple1"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer passphrase.Close()
	session, err := vault.Create(filepath.Join(t.TempDir(), "vault.enc"), passphrase, nil)
	if err != nil {
		t.Fatalf("vault.Create: %v", err)
	}
	t.Cleanup(func() { session.Lock() })
	for alias, value := range map[string]string{
		"openai":    "sk-test-123",
		"anthropic": "ant-test-456",
	} {
		buffer, err := secret.NewFromBytes([]byte(value))
		if err != nil {
			t.Fatalf("NewFromBytes: %v", err)
		}
		if err := session.AddEntry(alias, alias, buffer); err != nil {
			t.Fatalf("AddEntry(%q): %v", alias, err)
		}
	}
	return session
}

func TestRewriteSubstitutesEveryToken(t *testing.T) {
	resolver := newResolver(newAliasSession(t))

	content := []byte(`{"key": "VAULT0_ALIAS:openai", "other": "VAULT0_ALIAS:anthropic", "again": "VAULT0_ALIAS:openai"}`)
	rewritten, count, err := resolver.rewrite(content)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	got := string(rewritten)
	if strings.Contains(got, AliasPrefix) {
		t.Errorf("rewritten content still holds an alias token: %s", got)
	}
	if !strings.Contains(got, "sk-test-123") || !strings.Contains(got, "ant-test-456") {
		t.Errorf("rewritten content missing substituted values: %s", got)
	}
}

func TestRewriteUnknownAliasFailsClosed(t *testing.T) {
	resolver := newResolver(newAliasSession(t))

	_, _, err := resolver.rewrite([]byte("Bearer VAULT0_ALIAS:missing"))
	if !errors.Is(err, ErrUnresolvedAlias) {
		t.Fatalf("rewrite error = %v, want ErrUnresolvedAlias", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the alias: %v", err)
	}
	if strings.Contains(err.Error(), "sk-test-123") {
		t.Errorf("error must never carry a secret value: %v", err)
	}
}

func TestRewriteHeadersInPlace(t *testing.T) {
	resolver := newResolver(newAliasSession(t))

	header := http.Header{}
	header.Set("Authorization", "Bearer VAULT0_ALIAS:openai")
	header.Set("Accept", "application/json")

	count, err := resolver.rewriteHeaders(header)
	if err != nil {
		t.Fatalf("rewriteHeaders: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if got := header.Get("Authorization"); got != "Bearer sk-test-123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept header changed: %q", got)
	}
}

func TestLookupCachesPerRequest(t *testing.T) {
	session := newAliasSession(t)
	resolver := newResolver(session)

	if _, err := resolver.lookup("openai"); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	// A deleted entry still resolves from the request-scoped cache.
	if err := session.DeleteEntry("openai"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	value, err := resolver.lookup("openai")
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("cached value = %q", value)
	}
}

func TestContainsAlias(t *testing.T) {
	if !containsAlias([]byte("x-api-key: VAULT0_ALIAS:openai")) {
		t.Error("containsAlias missed a token")
	}
	if containsAlias([]byte("no tokens here")) {
		t.Error("containsAlias false positive")
	}
}
