// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"fmt"
	"net/url"
)

// StateTokenKey is the state entry holding the CSRF token.
const StateTokenKey = "token"

// StateNonceKey is the state entry holding the nonce sent with the
// authorization request.
const StateNonceKey = "nonce"

// maxStateSize limits the encoded state accepted on a callback.
const maxStateSize = 4096

// State is the key/value blob round-tripped through the provider in the
// oauth2 "state" parameter.  It always carries a CSRF token and may carry
// extra entries such as a post-login return path.
type State struct {
	values url.Values
}

// NewState creates a State for csrfToken with the extra entries.  The extra
// entries can't replace the CSRF token or the nonce.
func NewState(csrfToken string, extra map[string]string) (*State, error) {
	const op = "NewState"
	if csrfToken == "" {
		return nil, fmt.Errorf("%s: csrf token is empty: %w", op, ErrInvalidParameter)
	}
	v := url.Values{}
	for k, e := range extra {
		if k == StateTokenKey || k == StateNonceKey || k == "" {
			continue
		}
		v.Set(k, e)
	}
	v.Set(StateTokenKey, csrfToken)
	return &State{values: v}, nil
}

// ParseState decodes a state parameter.  Missing, oversized or unparsable
// state, or state without a CSRF token, fails with ErrInvalidState.
func ParseState(encoded string) (*State, error) {
	const op = "ParseState"
	if encoded == "" {
		return nil, fmt.Errorf("%s: state is missing: %w", op, ErrInvalidState)
	}
	if len(encoded) > maxStateSize {
		return nil, fmt.Errorf("%s: state is too large: %w", op, ErrInvalidState)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: state is not base64url: %w", op, ErrInvalidState)
	}
	v, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: state is not a key/value blob: %w", op, ErrInvalidState)
	}
	if v.Get(StateTokenKey) == "" {
		return nil, fmt.Errorf("%s: state has no csrf token: %w", op, ErrInvalidState)
	}
	return &State{values: v}, nil
}

// Encode returns the state parameter value.
func (s *State) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(s.values.Encode()))
}

// Token returns the CSRF token.
func (s *State) Token() string { return s.values.Get(StateTokenKey) }

// Nonce returns the nonce the id_token must carry, if any.
func (s *State) Nonce() string { return s.values.Get(StateNonceKey) }

func (s *State) setNonce(nonce string) { s.values.Set(StateNonceKey, nonce) }

// Get returns the extra entry for key.
func (s *State) Get(key string) string { return s.values.Get(key) }
