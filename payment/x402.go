// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// requiredHeader carries a payment demand as a JSON object in a
// response header, for upstreams that keep the 402 body for
// human-readable content.
const requiredHeader = "Payment-Required"

// ErrMalformedRequest reports a 402 response whose payment demand
// could not be parsed. The proxy treats this as an upstream error, not
// a settlement opportunity.
var ErrMalformedRequest = errors.New("malformed payment request")

// Required is the parsed payment demand from a 402 response.
type Required struct {
	Recipient   string `json:"recipient"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Network     string `json:"network"`
}

// ParseRequired extracts the payment demand from a 402 response. The
// Payment-Required header takes precedence; otherwise the body must be
// a JSON object with the demand fields. The body bytes are the already
// read (and possibly redacted-for-logging) response body — this
// function never reads from the network.
func ParseRequired(header http.Header, body []byte) (Required, error) {
	raw := header.Get(requiredHeader)
	if raw == "" {
		raw = strings.TrimSpace(string(body))
	}
	if raw == "" {
		return Required{}, fmt.Errorf("%w: no demand in header or body", ErrMalformedRequest)
	}

	var required Required
	if err := json.Unmarshal([]byte(raw), &required); err != nil {
		return Required{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if required.Recipient == "" {
		return Required{}, fmt.Errorf("%w: missing recipient", ErrMalformedRequest)
	}
	if required.AmountCents <= 0 {
		return Required{}, fmt.Errorf("%w: non-positive amount", ErrMalformedRequest)
	}
	if required.Currency == "" {
		return Required{}, fmt.Errorf("%w: missing currency", ErrMalformedRequest)
	}
	return required, nil
}
