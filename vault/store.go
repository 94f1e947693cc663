// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vault0-foundation/vault0/lib/codec"
	"github.com/vault0-foundation/vault0/lib/secret"
)

// Session is an unlocked vault. The derived key and every entry value
// live in locked secret buffers; Lock zeros them all. A Session is safe
// for concurrent use: entry reads share a read lock, mutations and Lock
// take the write lock, so the proxy's resolution hot path never blocks
// behind another reader.
type Session struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	key     *secret.Buffer
	salt    []byte
	kdf     kdfParams
	entries []*entry
}

type entry struct {
	alias     string
	provider  string
	createdAt time.Time
	value     *secret.Buffer
}

// EntryInfo is the non-secret view of an entry returned by ListEntries.
// Preview is a masked fragment safe to print: the first and last three
// characters for values longer than six bytes, "****" otherwise.
type EntryInfo struct {
	Alias     string
	Provider  string
	CreatedAt time.Time
	Preview   string
}

// Create initializes a new vault container at path and returns the
// unlocked session. The passphrase buffer is borrowed, not consumed;
// the caller remains responsible for closing it.
func Create(path string, passphrase *secret.Buffer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if passphrase.Len() < MinPassphraseLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassphrase, MinPassphraseLength)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key, err := deriveKey(passphrase.Bytes(), salt, defaultKDFParams)
	if err != nil {
		return nil, err
	}

	session := &Session{
		path:   path,
		logger: logger,
		key:    key,
		salt:   salt,
		kdf:    defaultKDFParams,
	}
	if err := session.persistLocked(); err != nil {
		key.Close()
		return nil, err
	}

	logger.Info("vault created", "path", path)
	return session, nil
}

// Unlock opens an existing container with the given passphrase. A wrong
// passphrase, a truncated file, and a flipped ciphertext bit all return
// ErrIncorrectPassphrase — the AEAD cannot tell them apart and callers
// must not be able to either.
func Unlock(path string, passphrase *secret.Buffer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c, err := readContainer(path)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase.Bytes(), c.Salt, c.KDF)
	if err != nil {
		return nil, err
	}

	plaintext, err := open(key, c.Nonce, c.Ciphertext)
	if err != nil {
		key.Close()
		return nil, err
	}
	defer secret.Zero(plaintext)

	var records []entryRecord
	if err := codec.Unmarshal(plaintext, &records); err != nil {
		key.Close()
		return nil, fmt.Errorf("decoding vault entries: %w", err)
	}

	entries := make([]*entry, 0, len(records))
	for _, record := range records {
		value, err := secret.NewFromBytes(record.Value)
		if err != nil {
			key.Close()
			for _, e := range entries {
				e.value.Close()
			}
			return nil, fmt.Errorf("storing entry %q: %w", record.Alias, err)
		}
		entries = append(entries, &entry{
			alias:     record.Alias,
			provider:  record.Provider,
			createdAt: time.UnixMilli(record.CreatedAt),
			value:     value,
		})
	}

	logger.Info("vault unlocked", "path", path, "entries", len(entries))
	return &Session{
		path:    path,
		logger:  logger,
		key:     key,
		salt:    c.Salt,
		kdf:     c.KDF,
		entries: entries,
	}, nil
}

// Path returns the container file path.
func (s *Session) Path() string {
	return s.path
}

// Lock zeros the derived key and every entry value. All subsequent
// entry operations return ErrLocked. Idempotent.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Closed() {
		return
	}
	s.key.Close()
	for _, e := range s.entries {
		e.value.Close()
	}
	s.logger.Info("vault locked", "path", s.path)
}

// AddEntry stores value under alias. On success the session takes
// ownership of the value buffer and the caller must not use it
// afterwards; on error ownership stays with the caller. The container
// on disk is rewritten before AddEntry returns.
func (s *Session) AddEntry(alias, provider string, value *secret.Buffer) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias is empty")
	}
	if value == nil || value.Closed() || value.Len() == 0 {
		return ErrEmptyValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Closed() {
		return ErrLocked
	}
	for _, e := range s.entries {
		if e.alias == alias {
			return fmt.Errorf("%w: %q", ErrDuplicateAlias, alias)
		}
	}

	s.entries = append(s.entries, &entry{
		alias:     alias,
		provider:  provider,
		createdAt: time.Now(),
		value:     value,
	})
	if err := s.persistLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return err
	}

	s.logger.Info("vault entry added", "alias", alias, "provider", provider)
	return nil
}

// GetEntry returns a copy of the secret value for alias. The returned
// buffer is owned by the caller and must be closed after use; closing
// it does not affect the entry.
func (s *Session) GetEntry(alias string) (*secret.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Closed() {
		return nil, ErrLocked
	}
	for _, e := range s.entries {
		if e.alias == alias {
			copied, err := secret.New(e.value.Len())
			if err != nil {
				return nil, fmt.Errorf("copying entry %q: %w", alias, err)
			}
			copy(copied.Bytes(), e.value.Bytes())
			return copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, alias)
}

// DeleteEntry removes the entry for alias and rewrites the container.
func (s *Session) DeleteEntry(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key.Closed() {
		return ErrLocked
	}
	for index, e := range s.entries {
		if e.alias != alias {
			continue
		}
		removed := e
		s.entries = append(s.entries[:index], s.entries[index+1:]...)
		if err := s.persistLocked(); err != nil {
			// Restore in-memory state so the session matches disk.
			s.entries = append(s.entries, nil)
			copy(s.entries[index+1:], s.entries[index:])
			s.entries[index] = removed
			return err
		}
		removed.value.Close()
		s.logger.Info("vault entry deleted", "alias", alias)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNotFound, alias)
}

// ListEntries returns metadata for every entry, sorted by alias. No
// secret material appears in the result beyond the masked preview.
func (s *Session) ListEntries() ([]EntryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Closed() {
		return nil, ErrLocked
	}

	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, EntryInfo{
			Alias:     e.alias,
			Provider:  e.provider,
			CreatedAt: e.createdAt,
			Preview:   maskValue(e.value.String()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Alias < infos[j].Alias })
	return infos, nil
}

// Seal encrypts arbitrary bytes under the vault key with a fresh nonce,
// returning nonce||ciphertext. Used by the wallet to keep its signing
// seed under the same passphrase as the credential entries.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Closed() {
		return nil, ErrLocked
	}
	nonce, ciphertext, err := seal(s.key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open decrypts a blob produced by Seal.
func (s *Session) Open(sealed []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Closed() {
		return nil, ErrLocked
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrIncorrectPassphrase
	}
	return open(s.key, sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:])
}

// persistLocked serializes the entry list, encrypts it, and atomically
// replaces the container file. Caller holds the write lock (or, during
// Create/Unlock, exclusive ownership of the session).
func (s *Session) persistLocked() error {
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
		return fmt.Errorf("encoding vault entries: %w", err)
	}
	defer secret.Zero(plaintext)

	nonce, ciphertext, err := seal(s.key, plaintext)
	if err != nil {
		return err
	}

	return writeContainer(s.path, &container{
		Version:    containerVersion,
		Salt:       s.salt,
		KDF:        s.kdf,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
}

// maskValue produces the list preview: first and last three characters
// with an ellipsis between, or "****" when the value is too short for
// that to hide anything.
func maskValue(value string) string {
	if utf8.RuneCountInString(value) <= 6 {
		return "****"
	}
	runes := []rune(value)
	return string(runes[:3]) + "..." + string(runes[len(runes)-3:])
}
