// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package mcpguard

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/vault0-foundation/vault0/policy"
)

// classHeader lets the agent declare a request's class explicitly.
const classHeader = "X-Vault0-Class"

// strippedHeaders are never forwarded to an MCP origin. The proxy
// injects its own vault-resolved credentials after the strip, so
// nothing the agent supplies can reach a downstream tool server.
var strippedHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"X-Api-Key",
}

// Classify tags an incoming request. A request is MCP when the agent
// declares it via the class header, or when the destination identifies
// itself as an MCP endpoint through its host or path.
func Classify(host, path string, header http.Header) policy.Class {
	if strings.EqualFold(header.Get(classHeader), "mcp") {
		return policy.ClassMCP
	}
	lowerHost := strings.ToLower(host)
	if strings.Contains(lowerHost, "mcp") || strings.Contains(strings.ToLower(path), "/mcp") {
		return policy.ClassMCP
	}
	return policy.ClassGeneric
}

// Guard evaluates MCP-specific checks against the current policy
// document. LookupIP is swappable for tests; nil uses the system
// resolver.
type Guard struct {
	engine   *policy.Engine
	logger   *slog.Logger
	lookupIP func(host string) ([]net.IP, error)
}

// New returns a guard reading its origin allowlist from the engine's
// current document on every check, so policy hot-reloads apply
// immediately.
func New(engine *policy.Engine, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{
		engine:   engine,
		logger:   logger,
		lookupIP: net.LookupIP,
	}
}

// Check evaluates an MCP destination. The SSRF check runs first and is
// unconditional: a metadata or private address is blocked even when the
// origin sits on the allowlist.
func (g *Guard) Check(host string) policy.Verdict {
	bare := host
	if stripped, _, err := net.SplitHostPort(host); err == nil {
		bare = stripped
	}

	if g.isProtectedAddress(bare) {
		return policy.Verdict{Decision: policy.Block, Reason: "SSRF-protected target"}
	}

	doc := g.engine.Document()
	for _, origin := range doc.MCPAllowOrigins {
		if matchOrigin(bare, origin) {
			return policy.Verdict{Decision: policy.Allow}
		}
	}
	return policy.Verdict{Decision: policy.Block, Reason: "origin not allowlisted"}
}

// StripTokens removes client-supplied credential headers in place and
// returns how many were removed. Called before dispatch on every MCP
// request, including ones that end up blocked.
func StripTokens(header http.Header) int {
	stripped := 0
	for _, name := range strippedHeaders {
		if header.Get(name) != "" {
			header.Del(name)
			stripped++
		}
	}
	return stripped
}

// isProtectedAddress reports whether host is, or resolves to, an
// address class that must never be reachable through the proxy.
func (g *Guard) isProtectedAddress(host string) bool {
	// Well-known metadata hostnames, independent of resolution.
	lower := strings.ToLower(host)
	if lower == "metadata.google.internal" || lower == "metadata" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return isProtectedIP(ip)
	}

	ips, err := g.lookupIP(host)
	if err != nil {
		// Unresolvable destinations fail closed.
		g.logger.Warn("MCP destination did not resolve", "host", host, "error", err)
		return true
	}
	for _, ip := range ips {
		if isProtectedIP(ip) {
			return true
		}
	}
	return false
}

// isProtectedIP covers loopback, RFC 1918 private, link-local (which
// includes the 169.254.169.254 metadata address), IPv6 unique-local,
// and unspecified addresses.
func isProtectedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// fc00::/7 unique-local. IsPrivate covers this for IPv6 since Go
	// 1.17, but the explicit check keeps the invariant visible.
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil && (v6[0]&0xfe) == 0xfc {
		return true
	}
	return false
}

// matchOrigin matches an MCP origin entry: exact host or subdomain,
// case-insensitive.
func matchOrigin(host, origin string) bool {
	host = strings.ToLower(host)
	origin = strings.ToLower(origin)
	if stripped, _, err := net.SplitHostPort(origin); err == nil {
		origin = stripped
	}
	return host == origin || strings.HasSuffix(host, "."+origin)
}
