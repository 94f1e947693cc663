// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk policy schema. Zero value: everything
// allowed, nothing redacted, no spend cap — use DefaultHardened for a
// sane starting point.
type Document struct {
	// AllowDomains restricts destinations to the listed domains (exact
	// or subdomain match, case-insensitive). Empty means all domains
	// are permitted except those in BlockDomains.
	AllowDomains []string `yaml:"allow_domains"`

	// BlockDomains always takes precedence over AllowDomains.
	BlockDomains []string `yaml:"block_domains"`

	// SpendCapCents caps the total of settled payments in the current
	// session. Nil means unlimited.
	SpendCapCents *int64 `yaml:"spend_cap_cents"`

	// OutputRedactPatterns are regular expressions applied in order to
	// observed response content; every match is replaced with the
	// redaction mask.
	OutputRedactPatterns []string `yaml:"output_redact_patterns"`

	// RedactRequests extends redaction to agent-originated request
	// bodies, guarding against exfiltration through outbound content.
	// Off by default: redaction is an observation control, and request
	// bodies normally carry the aliases the proxy itself injects.
	RedactRequests bool `yaml:"redact_requests"`

	// AutoSettle402 enables automatic payment settlement on HTTP 402
	// responses, gated by SpendCapCents. When false, 402s are queued
	// for explicit operator confirmation.
	AutoSettle402 bool `yaml:"auto_settle_402"`

	// MCPAllowOrigins is the origin allowlist for MCP-classified
	// requests, distinct from the general domain policy. An MCP
	// request whose origin is absent is blocked.
	MCPAllowOrigins []string `yaml:"mcp_allow_origins"`
}

// DefaultHardened returns the policy written by `vault0 policy init`:
// major model-provider APIs allowed, the cloud metadata address
// blocked, a 10-dollar spend cap, and redaction patterns for common
// API-key shapes.
func DefaultHardened() *Document {
	cap := int64(1000)
	return &Document{
		AllowDomains: []string{
			"api.openai.com",
			"api.anthropic.com",
		},
		BlockDomains: []string{
			"169.254.169.254",
			"metadata.google.internal",
		},
		SpendCapCents: &cap,
		OutputRedactPatterns: []string{
			`sk-[a-zA-Z0-9]{20,}`,
			`Bearer [a-zA-Z0-9._-]+`,
		},
		AutoSettle402: false,
	}
}

// Validate checks the document: every redaction pattern must compile
// and domain entries must be non-empty. Called on load and before
// save, so an invalid document never reaches the engine.
func (d *Document) Validate() error {
	for _, pattern := range d.OutputRedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("redaction pattern %q: %w", pattern, err)
		}
	}
	for _, domain := range d.AllowDomains {
		if domain == "" {
			return fmt.Errorf("allow_domains contains an empty entry")
		}
	}
	for _, domain := range d.BlockDomains {
		if domain == "" {
			return fmt.Errorf("block_domains contains an empty entry")
		}
	}
	if d.SpendCapCents != nil && *d.SpendCapCents < 0 {
		return fmt.Errorf("spend_cap_cents is negative")
	}
	return nil
}

// Load reads and validates a policy document from a YAML file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy in %s: %w", path, err)
	}
	return &doc, nil
}

// Save validates and writes the document as YAML.
func (d *Document) Save(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing policy file: %w", err)
	}
	return nil
}
