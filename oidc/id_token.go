// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-openid/jwt"
)

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// AccessToken is an oauth access_token.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth
// access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// IdentityToken is a parsed id_token whose signature and claims have not been
// verified yet.  Only a TrustConfiguration can establish trust in it.
type IdentityToken struct {
	raw         IdToken
	accessToken AccessToken
	keyID       string
	algorithm   string
	registered  josejwt.Claims
	claims      map[string]interface{}
}

// ParseIdentityToken parses a compact serialized id_token without verifying
// it.
//
// Supported options: WithAccessToken
func ParseIdentityToken(raw string, opt ...Option) (*IdentityToken, error) {
	const op = "ParseIdentityToken"
	if raw == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	parsed, err := josejwt.ParseSigned(raw, jwt.ParseAlgorithms())
	if err != nil {
		return nil, fmt.Errorf("%s: malformed id_token: %w: %w", op, ErrTokenValidation, err)
	}
	t := &IdentityToken{
		raw:         IdToken(raw),
		accessToken: getIdentityTokenOpts(opt...).withAccessToken,
	}
	if len(parsed.Headers) > 0 {
		t.keyID = parsed.Headers[0].KeyID
		t.algorithm = parsed.Headers[0].Algorithm
	}
	if err := parsed.UnsafeClaimsWithoutVerification(&t.registered, &t.claims); err != nil {
		return nil, fmt.Errorf("%s: unreadable id_token claims: %w: %w", op, ErrTokenValidation, err)
	}
	return t, nil
}

// Raw returns the compact serialized id_token.
func (t *IdentityToken) Raw() IdToken { return t.raw }

// AccessToken returns the access_token issued with the id_token, if any.
func (t *IdentityToken) AccessToken() AccessToken { return t.accessToken }

// KeyID returns the "kid" header.
func (t *IdentityToken) KeyID() string { return t.keyID }

// Algorithm returns the "alg" header.
func (t *IdentityToken) Algorithm() string { return t.algorithm }

// Issuer returns the "iss" claim.
func (t *IdentityToken) Issuer() string { return t.registered.Issuer }

// Subject returns the "sub" claim.
func (t *IdentityToken) Subject() string { return t.registered.Subject }

// Audience returns the "aud" claim.
func (t *IdentityToken) Audience() []string { return t.registered.Audience }

// Expiry returns the "exp" claim, or the zero time if it's missing.
func (t *IdentityToken) Expiry() time.Time {
	if t.registered.Expiry == nil {
		return time.Time{}
	}
	return t.registered.Expiry.Time()
}

// NotBefore returns the "nbf" claim, or the zero time if it's missing.
func (t *IdentityToken) NotBefore() time.Time {
	if t.registered.NotBefore == nil {
		return time.Time{}
	}
	return t.registered.NotBefore.Time()
}

// Expired reports whether the token's own "exp" has passed at now.  A token
// without "exp" is treated as expired.
func (t *IdentityToken) Expired(now time.Time) bool {
	exp := t.Expiry()
	return exp.IsZero() || !now.Before(exp)
}

// Claim returns the named claim.
func (t *IdentityToken) Claim(name string) (interface{}, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// Claims returns a copy of every claim.
func (t *IdentityToken) Claims() map[string]interface{} {
	c := make(map[string]interface{}, len(t.claims))
	for k, v := range t.claims {
		c[k] = v
	}
	return c
}

// StringClaim returns the named claim when it's a non-empty string.
func (t *IdentityToken) StringClaim(name string) (string, bool) {
	s, ok := t.claims[name].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Username returns the configured username claim.  A missing, empty or
// non-string claim is an error rather than a default.
func (t *IdentityToken) Username(claim string) (string, error) {
	const op = "IdentityToken.Username"
	v, ok := t.claims[claim]
	if !ok {
		return "", fmt.Errorf("%s: claim %q is missing: %w: %w", op, claim, ErrTokenValidation, ErrInvalidUsernameClaim)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: claim %q is a %T, not a string: %w: %w", op, claim, v, ErrTokenValidation, ErrInvalidUsernameClaim)
	}
	if s == "" {
		return "", fmt.Errorf("%s: claim %q is empty: %w: %w", op, claim, ErrTokenValidation, ErrInvalidUsernameClaim)
	}
	return s, nil
}

// idTokenOptions is the set of available options for ParseIdentityToken
type idTokenOptions struct {
	withAccessToken AccessToken
}

func idTokenDefaults() idTokenOptions {
	return idTokenOptions{}
}

func getIdentityTokenOpts(opt ...Option) idTokenOptions {
	opts := idTokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAccessToken attaches the access_token issued with the id_token.
func WithAccessToken(at AccessToken) Option {
	return func(o interface{}) {
		if o, ok := o.(*idTokenOptions); ok {
			o.withAccessToken = at
		}
	}
}
