// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcpguard implements the specialized checks for MCP-classified
// requests (structured tool-invocation calls to Model Context Protocol
// servers). These run in addition to the general domain policy:
//
//   - Origin allowlist: the MCP origin must appear in the policy's
//     MCP-specific allowlist, distinct from the general domain lists.
//   - SSRF protection: destinations resolving to loopback, private,
//     link-local, unique-local, or cloud-metadata addresses are blocked
//     unconditionally. No policy configuration can override this.
//   - Token non-passthrough: client-supplied authorization headers are
//     stripped before the request is ever dispatched, on both the allow
//     and the block path.
package mcpguard
