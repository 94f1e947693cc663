// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync/atomic"
)

// Class tags a request at proxy ingress. The classification decides
// which checks run: generic requests get the domain policy only, MCP
// requests additionally pass through the MCP guard.
type Class int

const (
	ClassGeneric Class = iota
	ClassMCP
)

func (c Class) String() string {
	if c == ClassMCP {
		return "mcp"
	}
	return "generic"
}

// Request is the per-call descriptor the engine evaluates. It carries
// no secret material: headers are inspected upstream and only the
// policy-relevant fields arrive here.
type Request struct {
	Host   string
	Method string
	Class  Class
}

// Decision is the binary outcome of an evaluation.
type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// Verdict is produced once per request and feeds the evidence ledger.
type Verdict struct {
	Decision          Decision
	Reason            string
	RedactionsApplied int
}

// compiled pairs a document with its compiled redaction patterns and
// normalized domain lists. Built once per document swap, immutable
// afterwards.
type compiled struct {
	doc          Document
	allowDomains []string
	blockDomains []string
	patterns     []*regexp.Regexp
}

// Engine evaluates requests against the current policy document. Safe
// for concurrent use: Evaluate and Redact read the compiled document
// through an atomic pointer, SetDocument swaps it wholesale.
type Engine struct {
	current atomic.Pointer[compiled]
	logger  *slog.Logger
}

// NewEngine compiles doc and returns a ready engine.
func NewEngine(doc *Document, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	engine := &Engine{logger: logger}
	if err := engine.SetDocument(doc); err != nil {
		return nil, err
	}
	return engine, nil
}

// SetDocument validates, compiles, and atomically installs a new
// document. In-flight evaluations keep the document they started with.
func (e *Engine) SetDocument(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	c := &compiled{doc: *doc}
	for _, domain := range doc.AllowDomains {
		c.allowDomains = append(c.allowDomains, strings.ToLower(domain))
	}
	for _, domain := range doc.BlockDomains {
		c.blockDomains = append(c.blockDomains, strings.ToLower(domain))
	}
	for _, pattern := range doc.OutputRedactPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("redaction pattern %q: %w", pattern, err)
		}
		c.patterns = append(c.patterns, compiled)
	}

	e.current.Store(c)
	e.logger.Info("policy installed",
		"allow_domains", len(c.allowDomains),
		"block_domains", len(c.blockDomains),
		"redact_patterns", len(c.patterns),
		"auto_settle_402", doc.AutoSettle402)
	return nil
}

// Document returns a copy of the current document.
func (e *Engine) Document() Document {
	return e.current.Load().doc
}

// Evaluate runs the domain checks and returns the verdict. Block list
// first; then, if the allowlist is non-empty, the host must match an
// entry. Deterministic: no time-based or random state.
func (e *Engine) Evaluate(req Request) Verdict {
	c := e.current.Load()
	host := normalizeHost(req.Host)

	for _, domain := range c.blockDomains {
		if matchDomain(host, domain) {
			return Verdict{Decision: Block, Reason: "blocked domain"}
		}
	}
	if len(c.allowDomains) > 0 {
		for _, domain := range c.allowDomains {
			if matchDomain(host, domain) {
				return Verdict{Decision: Allow}
			}
		}
		return Verdict{Decision: Block, Reason: "not in allowlist"}
	}
	return Verdict{Decision: Allow}
}

// Redact applies the redaction patterns in order and returns the
// masked content plus the number of replacements. Redaction never
// changes an allow/block decision.
func (e *Engine) Redact(content []byte) ([]byte, int) {
	c := e.current.Load()
	count := 0
	for _, pattern := range c.patterns {
		content = pattern.ReplaceAllFunc(content, func(match []byte) []byte {
			count++
			return []byte(RedactionMask)
		})
	}
	return content, count
}

// RedactString is Redact for header values and other small strings.
func (e *Engine) RedactString(content string) (string, int) {
	masked, count := e.Redact([]byte(content))
	return string(masked), count
}

// RedactionMask replaces every redaction-pattern match.
const RedactionMask = "[REDACTED]"

// normalizeHost lowercases and strips any port suffix.
func normalizeHost(host string) string {
	if stripped, _, err := net.SplitHostPort(host); err == nil {
		host = stripped
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// matchDomain reports whether host equals the domain or is a subdomain
// of it. Both sides are already lowercased.
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
