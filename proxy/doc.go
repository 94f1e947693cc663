// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the secretless HTTP intermediary the agent
// runtime is pointed at. Every outbound request passes through one
// pipeline: classify, evaluate policy (plus the MCP guard for
// tool-invocation requests), resolve alias tokens against the vault,
// forward, filter the response, and append exactly one evidence event.
//
// The agent never holds a real credential. Requests reference secrets
// by alias token (VAULT0_ALIAS:<name>); the proxy substitutes the real
// value after the policy verdict and only for allowed requests. Any
// alias that fails to resolve blocks the whole request — there is no
// partial substitution.
//
// A 402 Payment Required response hands off to the payment settlement
// layer: within policy, a signed single-use authorization is attached
// and the request retried once; otherwise the demand is queued for the
// operator and the 402 returned as-is.
//
// The listener binds loopback only. The proxy is a local, single
// operator surface, not a network service.
package proxy
