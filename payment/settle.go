// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vault0-foundation/vault0/lib/codec"
	"github.com/vault0-foundation/vault0/policy"
	"github.com/vault0-foundation/vault0/wallet"
)

// ProofHeader carries the base64-encoded authorization on the retried
// request.
const ProofHeader = "X-Payment"

const nonceSize = 16

var (
	// ErrSpendCapExceeded is returned when a settlement would push the
	// session total past the policy cap. Nothing is signed.
	ErrSpendCapExceeded = errors.New("spend cap exceeded")

	// ErrReplayedNonce is returned when an authorization nonce has
	// already been used in this session.
	ErrReplayedNonce = errors.New("replayed payment nonce")

	// ErrDeferred is returned when auto-settlement is disabled and the
	// demand has been queued for operator confirmation instead.
	ErrDeferred = errors.New("settlement deferred for confirmation")
)

// Authorization is a single-use signed payment commitment. The
// signature covers the deterministic CBOR encoding of every field
// except itself.
type Authorization struct {
	Recipient   string `cbor:"recipient"`
	AmountCents int64  `cbor:"amount_cents"`
	Currency    string `cbor:"currency"`
	Network     string `cbor:"network"`
	Nonce       []byte `cbor:"nonce"`
	PublicKey   []byte `cbor:"public_key"`
	Signature   []byte `cbor:"signature,omitempty"`
}

// signingPayload returns the bytes the wallet signs: the authorization
// with the signature field empty, in deterministic CBOR. Verifiers
// rebuild the identical encoding.
func (a Authorization) signingPayload() ([]byte, error) {
	unsigned := a
	unsigned.Signature = nil
	payload, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding authorization payload: %w", err)
	}
	return payload, nil
}

// EncodeProof serializes the authorization for the proof header.
func (a Authorization) EncodeProof() (string, error) {
	raw, err := codec.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeProof reverses EncodeProof.
func DecodeProof(proof string) (Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return Authorization{}, fmt.Errorf("decoding payment proof: %w", err)
	}
	var authorization Authorization
	if err := codec.Unmarshal(raw, &authorization); err != nil {
		return Authorization{}, fmt.Errorf("decoding payment proof: %w", err)
	}
	return authorization, nil
}

// VerifyAuthorization checks the signature against the embedded public
// key.
func VerifyAuthorization(a Authorization) bool {
	if len(a.PublicKey) != ed25519.PublicKeySize || len(a.Signature) != ed25519.SignatureSize {
		return false
	}
	payload, err := a.signingPayload()
	if err != nil {
		return false
	}
	return wallet.Verify(ed25519.PublicKey(a.PublicKey), payload, a.Signature)
}

// Account tracks settled spend for the current session. The session
// spans the process lifetime; Reset starts a new one explicitly. The
// cap check and the total increment form one critical section.
type Account struct {
	mu      sync.Mutex
	settled int64
	nonces  map[[nonceSize]byte]struct{}
}

// NewAccount returns an empty spend account.
func NewAccount() *Account {
	return &Account{nonces: make(map[[nonceSize]byte]struct{})}
}

// Authorize reserves amountCents against the cap. capCents nil means
// unlimited. The reservation is final: a settlement that fails after
// Authorize must call Refund to release it.
func (a *Account) Authorize(amountCents int64, capCents *int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrMalformedRequest)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if capCents != nil && a.settled+amountCents > *capCents {
		return fmt.Errorf("%w: %d settled + %d requested > %d cap",
			ErrSpendCapExceeded, a.settled, amountCents, *capCents)
	}
	a.settled += amountCents
	return nil
}

// Refund releases a reservation after a failed settlement.
func (a *Account) Refund(amountCents int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled -= amountCents
}

// SettledCents returns the session total.
func (a *Account) SettledCents() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

// Reset starts a new spend session: zero total, empty nonce history.
func (a *Account) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = 0
	a.nonces = make(map[[nonceSize]byte]struct{})
}

// registerNonce records a nonce, rejecting reuse.
func (a *Account) registerNonce(nonce []byte) error {
	var key [nonceSize]byte
	copy(key[:], nonce)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.nonces[key]; seen {
		return ErrReplayedNonce
	}
	a.nonces[key] = struct{}{}
	return nil
}

// Settler produces authorizations for parsed payment demands.
type Settler struct {
	wallet  *wallet.Wallet
	account *Account
	engine  *policy.Engine
	pending *Queue
	logger  *slog.Logger
}

// NewSettler wires the settlement pipeline. pending receives demands
// when auto-settlement is off.
func NewSettler(w *wallet.Wallet, account *Account, engine *policy.Engine, pending *Queue, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Settler{
		wallet:  w,
		account: account,
		engine:  engine,
		pending: pending,
		logger:  logger,
	}
}

// Account exposes the spend account for status surfaces.
func (s *Settler) Account() *Account {
	return s.account
}

// Pending exposes the confirmation queue.
func (s *Settler) Pending() *Queue {
	return s.pending
}

// Settle handles one payment demand. With auto-settlement disabled the
// demand is queued and ErrDeferred returned. Otherwise the spend cap
// gates signing: on success the returned authorization is single-use
// and already recorded against the session total.
func (s *Settler) Settle(required Required) (*Authorization, error) {
	doc := s.engine.Document()

	if !doc.AutoSettle402 {
		entry, err := s.pending.Add(required)
		if err != nil {
			return nil, err
		}
		s.logger.Info("payment deferred for confirmation",
			"id", entry.ID, "recipient", required.Recipient, "amount_cents", required.AmountCents)
		return nil, ErrDeferred
	}

	if err := s.account.Authorize(required.AmountCents, doc.SpendCapCents); err != nil {
		return nil, err
	}

	authorization, err := s.sign(required)
	if err != nil {
		s.account.Refund(required.AmountCents)
		return nil, err
	}

	s.logger.Info("payment settled",
		"recipient", required.Recipient,
		"amount_cents", required.AmountCents,
		"currency", required.Currency,
		"session_total_cents", s.account.SettledCents())
	return authorization, nil
}

// sign builds and signs a fresh single-use authorization.
func (s *Settler) sign(required Required) (*Authorization, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	if err := s.account.registerNonce(nonce); err != nil {
		return nil, err
	}

	authorization := Authorization{
		Recipient:   required.Recipient,
		AmountCents: required.AmountCents,
		Currency:    required.Currency,
		Network:     required.Network,
		Nonce:       nonce,
		PublicKey:   append([]byte(nil), s.wallet.PublicKey()...),
	}
	payload, err := authorization.signingPayload()
	if err != nil {
		return nil, err
	}
	signature, err := s.wallet.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("signing authorization: %w", err)
	}
	authorization.Signature = signature
	return &authorization, nil
}
