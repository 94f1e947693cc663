// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vault0-foundation/vault0/evidence"
	"github.com/vault0-foundation/vault0/mcpguard"
	"github.com/vault0-foundation/vault0/payment"
	"github.com/vault0-foundation/vault0/policy"
	"github.com/vault0-foundation/vault0/lib/secret"
	"github.com/vault0-foundation/vault0/vault"
	"github.com/vault0-foundation/vault0/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// noDialTransport fails the test if the pipeline ever reaches the
// network. Used on block-path tests to prove zero bytes go out.
type noDialTransport struct{ t *testing.T }

func (n noDialTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n.t.Errorf("request to %s reached the network on a block path", r.URL)
	return nil, http.ErrUseLastResponse
}

type fixture struct {
	handler *Handler
	session *vault.Session
	ledger  *evidence.Ledger
	settler *payment.Settler
}

// newFixture assembles a full pipeline: vault with one "openai" entry,
// the given policy, an in-memory ledger, and optionally a wallet.
func newFixture(t *testing.T, doc *policy.Document, withWallet bool, client *http.Client) *fixture {
	t.Helper()

	passphrase, err := secret.NewFromBytes([]byte("correct-horse-battery-staple1"))
	if err != nil {
		t.Fatalf("passphrase: %v", err)
	}
	t.Cleanup(func() { passphrase.Close() })

	session, err := vault.Create(filepath.Join(t.TempDir(), "vault.enc"), passphrase, nil)
	if err != nil {
		t.Fatalf("vault.Create: %v", err)
	}
	t.Cleanup(session.Lock)

	value, err := secret.NewFromBytes([]byte("sk-test-123"))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if err := session.AddEntry("openai", "openai", value); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	engine, err := policy.NewEngine(doc, nil)
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}
	ledger := evidence.NewLedger()

	var settler *payment.Settler
	if withWallet {
		w, err := wallet.Import(testMnemonic)
		if err != nil {
			t.Fatalf("wallet.Import: %v", err)
		}
		t.Cleanup(w.Close)
		settler = payment.NewSettler(w, payment.NewAccount(), engine, payment.NewQueue(nil), nil)
	}

	handler := NewHandler(HandlerConfig{
		Session: session,
		Engine:  engine,
		Guard:   mcpguard.New(engine, nil),
		Ledger:  ledger,
		Settler: settler,
		Client:  client,
	})
	return &fixture{handler: handler, session: session, ledger: ledger, settler: settler}
}

func requireEvents(t *testing.T, ledger *evidence.Ledger, kinds ...evidence.Kind) []evidence.Event {
	t.Helper()
	events := ledger.Events()
	if len(events) != len(kinds) {
		t.Fatalf("ledger has %d events, want %d: %+v", len(events), len(kinds), events)
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Errorf("event %d kind = %s, want %s (message %q)", i, events[i].Kind, kind, events[i].Message)
		}
	}
	return events
}

func TestAliasInjectionEndToEnd(t *testing.T) {
	var sawAuthorization string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthorization = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newFixture(t, &policy.Document{AllowDomains: []string{"127.0.0.1"}}, false, nil)

	request := httptest.NewRequest("POST", upstream.URL+"/v1/chat/completions", strings.NewReader(`{"model":"gpt"}`))
	request.Header.Set("Authorization", "Bearer VAULT0_ALIAS:openai")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if sawAuthorization != "Bearer sk-test-123" {
		t.Errorf("upstream saw Authorization %q, want rewritten bearer", sawAuthorization)
	}
	requireEvents(t, f.ledger, evidence.KindAllowed)
}

func TestAliasInjectionInBody(t *testing.T) {
	var sawBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sawBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newFixture(t, &policy.Document{}, false, nil)

	request := httptest.NewRequest("POST", upstream.URL+"/hook", strings.NewReader(`{"token":"VAULT0_ALIAS:openai"}`))
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if sawBody != `{"token":"sk-test-123"}` {
		t.Errorf("upstream saw body %q", sawBody)
	}
}

func TestBlockedDomainNeverReachesNetwork(t *testing.T) {
	f := newFixture(t, &policy.Document{BlockDomains: []string{"internal.company.local"}}, false,
		&http.Client{Transport: noDialTransport{t}})

	request := httptest.NewRequest("GET", "http://internal.company.local/data", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	var blocked blockedResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &blocked); err != nil {
		t.Fatalf("decoding block response: %v", err)
	}
	if !blocked.Blocked || blocked.Reason != "blocked domain" {
		t.Errorf("block response = %+v", blocked)
	}
	events := requireEvents(t, f.ledger, evidence.KindBlocked)
	if !strings.Contains(events[0].Message, "blocked domain") {
		t.Errorf("blocked event message = %q", events[0].Message)
	}
}

func TestUnresolvedAliasFailsClosed(t *testing.T) {
	f := newFixture(t, &policy.Document{}, false, &http.Client{Transport: noDialTransport{t}})

	request := httptest.NewRequest("GET", "http://api.example.com/data", nil)
	request.Header.Set("Authorization", "Bearer VAULT0_ALIAS:missing")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	var blocked blockedResponse
	json.Unmarshal(recorder.Body.Bytes(), &blocked)
	if blocked.Reason != "unresolved alias" {
		t.Errorf("reason = %q, want unresolved alias", blocked.Reason)
	}
	requireEvents(t, f.ledger, evidence.KindBlocked)
}

func TestLockedVaultFailsClosed(t *testing.T) {
	f := newFixture(t, &policy.Document{}, false, &http.Client{Transport: noDialTransport{t}})
	f.session.Lock()

	request := httptest.NewRequest("GET", "http://api.example.com/data", nil)
	request.Header.Set("Authorization", "Bearer VAULT0_ALIAS:openai")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	var blocked blockedResponse
	json.Unmarshal(recorder.Body.Bytes(), &blocked)
	if blocked.Reason != "vault is locked" {
		t.Errorf("reason = %q, want vault is locked", blocked.Reason)
	}
}

func TestMCPMetadataAddressBlockedDespiteAllowlist(t *testing.T) {
	f := newFixture(t, &policy.Document{
		MCPAllowOrigins: []string{"169.254.169.254"},
	}, false, &http.Client{Transport: noDialTransport{t}})

	request := httptest.NewRequest("GET", "http://169.254.169.254/latest/meta-data/", nil)
	request.Header.Set("X-Vault0-Class", "mcp")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	var blocked blockedResponse
	json.Unmarshal(recorder.Body.Bytes(), &blocked)
	if blocked.Reason != "SSRF-protected target" {
		t.Errorf("reason = %q, want SSRF-protected target", blocked.Reason)
	}
	requireEvents(t, f.ledger, evidence.KindBlocked)
}

func TestResponseRedaction(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Debug-Token", "Bearer leaked.upstream.token")
		w.Write([]byte(`{"leak": "sk-abcdefghij0123456789"}`))
	}))
	defer upstream.Close()

	f := newFixture(t, &policy.Document{
		OutputRedactPatterns: []string{`sk-[a-zA-Z0-9]{20,}`, `Bearer [a-zA-Z0-9._-]+`},
	}, false, nil)

	request := httptest.NewRequest("GET", upstream.URL+"/v1/keys", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "sk-abcdefghij0123456789") {
		t.Error("secret survived body redaction")
	}
	if !strings.Contains(recorder.Body.String(), policy.RedactionMask) {
		t.Errorf("body %q missing redaction mask", recorder.Body.String())
	}
	if got := recorder.Header().Get("X-Debug-Token"); got != policy.RedactionMask {
		t.Errorf("header redaction: got %q", got)
	}
	events := requireEvents(t, f.ledger, evidence.KindAllowed)
	if !strings.Contains(events[0].Message, "2 redactions") {
		t.Errorf("allowed event message = %q, want 2 redactions noted", events[0].Message)
	}
}

func TestPaymentAutoSettleRetry(t *testing.T) {
	var proofSeen payment.Authorization
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proof := r.Header.Get(payment.ProofHeader)
		if proof == "" {
			w.Header().Set("Payment-Required", `{"recipient": "acct-1", "amount_cents": 250, "currency": "USD", "network": "base"}`)
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		decoded, err := payment.DecodeProof(proof)
		if err != nil || !payment.VerifyAuthorization(decoded) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		proofSeen = decoded
		w.Write([]byte("paid content"))
	}))
	defer upstream.Close()

	cap := int64(1000)
	f := newFixture(t, &policy.Document{AutoSettle402: true, SpendCapCents: &cap}, true, nil)

	request := httptest.NewRequest("GET", upstream.URL+"/premium", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after settlement retry", recorder.Code)
	}
	if recorder.Body.String() != "paid content" {
		t.Errorf("body = %q", recorder.Body.String())
	}
	if proofSeen.AmountCents != 250 || proofSeen.Recipient != "acct-1" {
		t.Errorf("upstream verified proof = %+v", proofSeen)
	}
	if total := f.settler.Account().SettledCents(); total != 250 {
		t.Errorf("settled total = %d, want 250", total)
	}
	requireEvents(t, f.ledger, evidence.KindPayment, evidence.KindAllowed)
}

func TestPaymentDeferredWhenAutoSettleOff(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Payment-Required", `{"recipient": "acct-1", "amount_cents": 250, "currency": "USD"}`)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("payment required"))
	}))
	defer upstream.Close()

	f := newFixture(t, &policy.Document{AutoSettle402: false}, true, nil)

	request := httptest.NewRequest("GET", upstream.URL+"/premium", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want passthrough 402", recorder.Code)
	}
	pending := f.settler.Pending().List()
	if len(pending) != 1 || pending[0].Required.AmountCents != 250 {
		t.Fatalf("pending queue = %+v", pending)
	}
	if f.settler.Account().SettledCents() != 0 {
		t.Error("deferred payment must not touch the spend total")
	}
	events := requireEvents(t, f.ledger, evidence.KindPayment, evidence.KindAllowed)
	if !strings.Contains(events[0].Message, "pending confirmation") {
		t.Errorf("payment event message = %q", events[0].Message)
	}
}

func TestPaymentOverCapDelivers402(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Payment-Required", `{"recipient": "acct-1", "amount_cents": 5000, "currency": "USD"}`)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer upstream.Close()

	cap := int64(1000)
	f := newFixture(t, &policy.Document{AutoSettle402: true, SpendCapCents: &cap}, true, nil)

	request := httptest.NewRequest("GET", upstream.URL+"/premium", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", recorder.Code)
	}
	if f.settler.Account().SettledCents() != 0 {
		t.Error("refused settlement must not touch the spend total")
	}
	events := requireEvents(t, f.ledger, evidence.KindPayment, evidence.KindAllowed)
	if !strings.Contains(events[0].Message, "spend cap exceeded") {
		t.Errorf("payment event message = %q", events[0].Message)
	}
}

func TestConnectRefused(t *testing.T) {
	f := newFixture(t, &policy.Document{}, false, &http.Client{Transport: noDialTransport{t}})

	request := httptest.NewRequest(http.MethodConnect, "//secure.example.com:443", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", recorder.Code)
	}
	requireEvents(t, f.ledger, evidence.KindInfo)
}

func TestUpstreamUnreachable(t *testing.T) {
	// Closed server: the address is valid but nothing listens.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	f := newFixture(t, &policy.Document{}, false, nil)

	request := httptest.NewRequest("GET", url+"/data", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", recorder.Code)
	}
	events := requireEvents(t, f.ledger, evidence.KindInfo)
	if !strings.Contains(events[0].Message, "upstream unreachable") {
		t.Errorf("info event message = %q", events[0].Message)
	}
}

func TestCancelledRequestEmitsInfoNotAllowed(t *testing.T) {
	f := newFixture(t, &policy.Document{}, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	request := httptest.NewRequest("GET", "http://api.example.com/slow", nil).WithContext(ctx)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	events := requireEvents(t, f.ledger, evidence.KindInfo)
	if !strings.Contains(events[0].Message, "cancelled") {
		t.Errorf("info event message = %q", events[0].Message)
	}
}

func TestInternalStatusEndpoint(t *testing.T) {
	f := newFixture(t, &policy.Document{}, false, &http.Client{Transport: noDialTransport{t}})
	f.ledger.Append(context.Background(), evidence.KindAllowed, "seed event")

	request := httptest.NewRequest("GET", "/status", nil)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var status Status
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Events.Total != 1 || status.Events.Allowed != 1 {
		t.Errorf("status = %+v", status)
	}

	health := httptest.NewRecorder()
	f.handler.ServeHTTP(health, httptest.NewRequest("GET", "/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health status = %d", health.Code)
	}
}

func TestRequestRedactionWhenEnabled(t *testing.T) {
	var sawBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sawBody = string(body)
	}))
	defer upstream.Close()

	f := newFixture(t, &policy.Document{
		RedactRequests:       true,
		OutputRedactPatterns: []string{`sk-[a-zA-Z0-9]{20,}`},
	}, false, nil)

	request := httptest.NewRequest("POST", upstream.URL+"/exfil", strings.NewReader(`stolen: sk-abcdefghij0123456789`))
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	if strings.Contains(sawBody, "sk-abcdefghij0123456789") {
		t.Error("secret-shaped content left the proxy with request redaction on")
	}
	if !strings.Contains(sawBody, policy.RedactionMask) {
		t.Errorf("upstream body = %q, want redaction mask", sawBody)
	}
}
