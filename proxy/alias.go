// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/vault0-foundation/vault0/vault"
)

// AliasPrefix marks a credential reference in agent-visible content.
// The agent writes "Authorization: Bearer VAULT0_ALIAS:openai" and the
// proxy substitutes the real value after the policy verdict.
const AliasPrefix = "VAULT0_ALIAS:"

// aliasPattern matches the prefix plus the alias name. Alias names are
// the characters the vault accepts: letters, digits, dash, underscore,
// dot.
var aliasPattern = regexp.MustCompile(`VAULT0_ALIAS:([A-Za-z0-9_.\-]+)`)

// ErrUnresolvedAlias reports an alias token that did not resolve. The
// whole request fails closed — partial substitution would forward a
// request with a literal alias where a secret belongs.
var ErrUnresolvedAlias = errors.New("unresolved alias")

// resolver maps alias names to secret values for one request. Each
// distinct alias is fetched from the vault once; the plaintext strings
// are request-scoped heap copies and the proxy never logs them.
type resolver struct {
	session  *vault.Session
	resolved map[string]string
}

func newResolver(session *vault.Session) *resolver {
	return &resolver{
		session:  session,
		resolved: make(map[string]string),
	}
}

// lookup fetches one alias, caching per request.
func (r *resolver) lookup(alias string) (string, error) {
	if value, ok := r.resolved[alias]; ok {
		return value, nil
	}
	buffer, err := r.session.GetEntry(alias)
	if err != nil {
		return "", err
	}
	value := buffer.String()
	buffer.Close()
	r.resolved[alias] = value
	return value, nil
}

// rewrite substitutes every alias token in content. Any resolution
// failure aborts with ErrUnresolvedAlias naming the alias (never the
// underlying value).
func (r *resolver) rewrite(content []byte) ([]byte, int, error) {
	var failed error
	count := 0
	rewritten := aliasPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		alias := string(match[len(AliasPrefix):])
		value, err := r.lookup(alias)
		if err != nil {
			if failed == nil {
				failed = fmt.Errorf("%w: %q", ErrUnresolvedAlias, alias)
			}
			return match
		}
		count++
		return []byte(value)
	})
	if failed != nil {
		return nil, 0, failed
	}
	return rewritten, count, nil
}

// rewriteHeaders substitutes alias tokens across all header values in
// place, returning the number of substitutions.
func (r *resolver) rewriteHeaders(header http.Header) (int, error) {
	total := 0
	for name, values := range header {
		for index, value := range values {
			rewritten, count, err := r.rewrite([]byte(value))
			if err != nil {
				return 0, err
			}
			if count > 0 {
				header[name][index] = string(rewritten)
				total += count
			}
		}
	}
	return total, nil
}

// containsAlias reports whether content references any alias.
func containsAlias(content []byte) bool {
	return aliasPattern.Match(content)
}
