// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vault0-foundation/vault0/evidence"
	"github.com/vault0-foundation/vault0/mcpguard"
	"github.com/vault0-foundation/vault0/payment"
	"github.com/vault0-foundation/vault0/policy"
	"github.com/vault0-foundation/vault0/vault"
)

// Handler runs the per-request pipeline. It implements http.Handler
// for absolute-form proxy requests; origin-form requests hit the small
// internal surface (health, status).
type Handler struct {
	session      *vault.Session
	engine       *policy.Engine
	guard        *mcpguard.Guard
	ledger       *evidence.Ledger
	settler      *payment.Settler
	logger       *slog.Logger
	client       *http.Client
	maxBodyBytes int64
}

// HandlerConfig wires the pipeline. Session, Engine, Guard, and Ledger
// are required; Settler is optional (no wallet means no settlement).
type HandlerConfig struct {
	Session      *vault.Session
	Engine       *policy.Engine
	Guard        *mcpguard.Guard
	Ledger       *evidence.Ledger
	Settler      *payment.Settler
	Logger       *slog.Logger
	MaxBodyBytes int64

	// Client overrides the upstream HTTP client. Tests substitute one
	// pointed at local fixtures.
	Client *http.Client
}

// NewHandler builds the pipeline handler.
func NewHandler(config HandlerConfig) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := config.Client
	if client == nil {
		// No overall timeout: SSE streams are long-lived. Redirects are
		// returned to the agent rather than followed, so every hop gets
		// its own policy verdict.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		session:      config.Session,
		engine:       config.Engine,
		guard:        config.Guard,
		ledger:       config.Ledger,
		settler:      config.Settler,
		logger:       logger,
		client:       client,
		maxBodyBytes: maxBody,
	}
}

// blockedResponse is the JSON body returned for every blocked request.
type blockedResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		// HTTPS tunneling would make the payload opaque to alias
		// rewriting and redaction, so it is refused outright.
		h.appendEvent(r, evidence.KindInfo, fmt.Sprintf("CONNECT to %s refused: tunneling unsupported", r.Host))
		http.Error(w, "CONNECT tunneling is not supported", http.StatusNotImplemented)
		return
	}

	if !r.URL.IsAbs() {
		h.serveInternal(w, r)
		return
	}

	h.serveProxy(w, r)
}

// serveInternal handles requests addressed to the proxy itself.
func (h *Handler) serveInternal(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	case r.Method == http.MethodGet && r.URL.Path == "/status":
		h.serveStatus(w)
	case r.Method == http.MethodGet && r.URL.Path == "/payments/pending":
		h.servePendingPayments(w)
	default:
		http.Error(w, "proxy requests must use absolute-form URLs", http.StatusBadRequest)
	}
}

// Status is the operator-facing snapshot served at GET /status.
type Status struct {
	Events          evidence.Stats `json:"events"`
	SettledCents    int64          `json:"settled_cents"`
	PendingPayments int            `json:"pending_payments"`
}

func (h *Handler) serveStatus(w http.ResponseWriter) {
	status := Status{Events: h.ledger.Stats()}
	if h.settler != nil {
		status.SettledCents = h.settler.Account().SettledCents()
		status.PendingPayments = h.settler.Pending().Len()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// servePendingPayments lists queued payment demands for the operator
// CLI. Without a wallet the list is always empty.
func (h *Handler) servePendingPayments(w http.ResponseWriter) {
	pending := []payment.Pending{}
	if h.settler != nil {
		pending = h.settler.Pending().List()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pending)
}

// serveProxy runs the full pipeline for one outbound request.
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	host := r.URL.Host
	class := mcpguard.Classify(r.URL.Hostname(), r.URL.Path, r.Header)

	// Token non-passthrough is enforced before any verdict: agent
	// credentials destined for an MCP origin never survive past this
	// point, even on the block path.
	if class == policy.ClassMCP {
		if stripped := mcpguard.StripTokens(r.Header); stripped > 0 {
			h.logger.Debug("stripped client tokens for MCP origin", "host", host, "count", stripped)
		}
	}

	verdict := h.engine.Evaluate(policy.Request{Host: host, Method: r.Method, Class: class})
	if verdict.Decision == policy.Allow && class == policy.ClassMCP {
		verdict = h.guard.Check(host)
	}
	if verdict.Decision == policy.Block {
		h.block(w, r, verdict.Reason)
		return
	}

	// Buffer the request body: alias rewriting and the 402 retry both
	// need the full payload.
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		h.block(w, r, "request body unreadable")
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		h.appendEvent(r, evidence.KindInfo, fmt.Sprintf("%s %s rejected: body exceeds limit", r.Method, host))
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Exfiltration guard on agent-originated content. This runs before
	// alias injection so redaction patterns can never destroy a secret
	// the proxy itself is about to inject.
	if h.engine.Document().RedactRequests {
		body, _ = h.engine.Redact(body)
	}

	// Resolve alias tokens. Any failure blocks the whole request: a
	// partially substituted request must never reach the network.
	resolve := newResolver(h.session)
	headerCount, err := resolve.rewriteHeaders(r.Header)
	if err == nil && containsAlias(body) {
		var bodyCount int
		body, bodyCount, err = resolve.rewrite(body)
		headerCount += bodyCount
	}
	if err != nil {
		h.block(w, r, resolveFailureReason(err))
		return
	}

	response, err := h.forward(r, body, "")
	if err != nil {
		h.forwardFailure(w, r, err)
		return
	}

	if response.StatusCode == http.StatusPaymentRequired {
		response = h.handlePaymentRequired(r, body, response)
	}
	defer response.Body.Close()

	redactions := h.relayResponse(w, r, response)
	h.appendEvent(r, evidence.KindAllowed, fmt.Sprintf("%s %s -> %d (%d aliases injected, %d redactions)",
		r.Method, host, response.StatusCode, headerCount, redactions))
	h.logger.Info("request forwarded",
		"method", r.Method,
		"host", host,
		"class", class.String(),
		"status", response.StatusCode,
		"duration", time.Since(started))
}

// resolveFailureReason maps vault errors onto block reasons without
// leaking internals.
func resolveFailureReason(err error) string {
	switch {
	case errors.Is(err, vault.ErrLocked):
		return "vault is locked"
	case errors.Is(err, ErrUnresolvedAlias), errors.Is(err, vault.ErrNotFound):
		return "unresolved alias"
	default:
		return "credential resolution failed"
	}
}

// block appends the blocked evidence event and returns the
// policy-defined error response. The vault is never touched on this
// path.
func (h *Handler) block(w http.ResponseWriter, r *http.Request, reason string) {
	h.appendEvent(r, evidence.KindBlocked, fmt.Sprintf("%s %s blocked: %s", r.Method, r.URL.Host, reason))
	h.logger.Warn("request blocked", "method", r.Method, "host", r.URL.Host, "reason", reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(blockedResponse{Blocked: true, Reason: reason})
}

// forward sends the rewritten request upstream. proof, when non-empty,
// is attached as the payment proof header on a 402 retry.
func (h *Handler) forward(r *http.Request, body []byte, proof string) (*http.Response, error) {
	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	for name, values := range r.Header {
		if isHopByHopHeader(name) {
			continue
		}
		for _, value := range values {
			upstream.Header.Add(name, value)
		}
	}
	upstream.Header.Set("X-Forwarded-For", "vault0-proxy")
	if proof != "" {
		upstream.Header.Set(payment.ProofHeader, proof)
	}
	return h.client.Do(upstream)
}

// forwardFailure handles an upstream dial or transport error. A
// cancelled request gets an info event, never a false "allowed".
func (h *Handler) forwardFailure(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		h.appendEvent(r, evidence.KindInfo, fmt.Sprintf("%s %s cancelled before completion", r.Method, r.URL.Host))
		return
	}
	h.appendEvent(r, evidence.KindInfo, fmt.Sprintf("%s %s failed: upstream unreachable", r.Method, r.URL.Host))
	h.logger.Warn("upstream unreachable", "method", r.Method, "host", r.URL.Host, "error", err)
	http.Error(w, "upstream unreachable", http.StatusBadGateway)
}

// handlePaymentRequired runs the 402 settlement flow. On a successful
// settlement the request is retried once with the proof attached and
// the retry's response returned; on any other outcome the original 402
// is reconstructed and delivered.
func (h *Handler) handlePaymentRequired(r *http.Request, requestBody []byte, response *http.Response) *http.Response {
	demandBody, readErr := io.ReadAll(io.LimitReader(response.Body, h.maxBodyBytes))
	response.Body.Close()
	restored := restoreBody(response, demandBody)
	if readErr != nil {
		return restored
	}

	if h.settler == nil {
		h.appendEvent(r, evidence.KindPayment, fmt.Sprintf("402 from %s: no wallet configured", r.URL.Host))
		return restored
	}

	required, err := payment.ParseRequired(response.Header, demandBody)
	if err != nil {
		h.appendEvent(r, evidence.KindPayment, fmt.Sprintf("402 from %s: malformed payment demand", r.URL.Host))
		return restored
	}

	authorization, err := h.settler.Settle(required)
	switch {
	case errors.Is(err, payment.ErrDeferred):
		h.appendEvent(r, evidence.KindPayment,
			fmt.Sprintf("402 from %s: %d cents to %s pending confirmation", r.URL.Host, required.AmountCents, required.Recipient))
		return restored
	case errors.Is(err, payment.ErrSpendCapExceeded):
		h.appendEvent(r, evidence.KindPayment,
			fmt.Sprintf("402 from %s: refused, spend cap exceeded", r.URL.Host))
		return restored
	case err != nil:
		h.appendEvent(r, evidence.KindPayment,
			fmt.Sprintf("402 from %s: settlement failed", r.URL.Host))
		return restored
	}

	proof, err := authorization.EncodeProof()
	if err != nil {
		h.settler.Account().Refund(required.AmountCents)
		h.appendEvent(r, evidence.KindPayment, fmt.Sprintf("402 from %s: settlement failed", r.URL.Host))
		return restored
	}

	h.appendEvent(r, evidence.KindPayment,
		fmt.Sprintf("settled %d cents %s to %s", required.AmountCents, required.Currency, required.Recipient))

	retried, err := h.forward(r, requestBody, proof)
	if err != nil {
		// The authorization was produced; the spend stands. Deliver
		// the original 402 so the agent can surface the failure.
		h.logger.Warn("retry after settlement failed", "host", r.URL.Host, "error", err)
		return restored
	}
	restored.Body.Close()
	return retried
}

// restoreBody rebuilds a response whose body has been consumed.
func restoreBody(response *http.Response, body []byte) *http.Response {
	restored := *response
	restored.Body = io.NopCloser(bytes.NewReader(body))
	restored.ContentLength = int64(len(body))
	return &restored
}

// relayResponse filters and writes the upstream response, returning
// the number of redactions applied. SSE responses stream chunk by
// chunk; everything else is buffered so redaction sees the whole body.
func (h *Handler) relayResponse(w http.ResponseWriter, r *http.Request, response *http.Response) int {
	redactions := 0
	for name, values := range response.Header {
		if isHopByHopHeader(name) || strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, value := range values {
			masked, count := h.engine.RedactString(value)
			redactions += count
			w.Header().Add(name, masked)
		}
	}

	if strings.Contains(response.Header.Get("Content-Type"), "text/event-stream") {
		return redactions + h.streamSSE(w, response)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, h.maxBodyBytes))
	if err != nil {
		h.logger.Warn("reading upstream response failed", "host", r.URL.Host, "error", err)
	}
	masked, count := h.engine.Redact(body)
	redactions += count

	w.WriteHeader(response.StatusCode)
	w.Write(masked)
	return redactions
}

// streamSSE relays a server-sent event stream, redacting each chunk as
// it passes. A secret split across a chunk boundary can evade the
// pattern; SSE payloads are model output, where the buffered path's
// whole-body guarantee is not worth stalling the stream for.
func (h *Handler) streamSSE(w http.ResponseWriter, response *http.Response) int {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return 0
	}

	w.WriteHeader(response.StatusCode)
	flusher.Flush()

	buffer := make([]byte, 4096)
	redactions := 0
	for {
		n, err := response.Body.Read(buffer)
		if n > 0 {
			masked, count := h.engine.Redact(buffer[:n])
			redactions += count
			if _, writeErr := w.Write(masked); writeErr != nil {
				return redactions
			}
			flusher.Flush()
		}
		if err != nil {
			return redactions
		}
	}
}

// appendEvent writes one ledger event with the message passed through
// redaction first — secrets must never appear in evidence entries.
// The append survives request cancellation: a cancelled request still
// gets its info event persisted.
func (h *Handler) appendEvent(r *http.Request, kind evidence.Kind, message string) {
	masked, _ := h.engine.RedactString(message)
	if _, err := h.ledger.Append(context.WithoutCancel(r.Context()), kind, masked); err != nil {
		h.logger.Error("evidence append failed", "kind", string(kind), "error", err)
	}
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}
