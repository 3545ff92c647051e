// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

// DefaultLeeway is the clock skew tolerated by LooseValidAt.
const DefaultLeeway = josejwt.DefaultLeeway

// Constraint is one validation rule asserted against an identity token.
// String describes the rule and its parameters; two constraints with the same
// description assert the same thing.
type Constraint interface {
	fmt.Stringer
	Assert(ctx context.Context, t *IdentityToken) error
}

// LooseValidAt requires the token to carry an "exp" that hasn't passed, and
// to be past its "nbf" and "iat" when present, all within Leeway.
type LooseValidAt struct {
	Now    func() time.Time
	Leeway time.Duration
}

// String implements Constraint.
func (c LooseValidAt) String() string {
	return fmt.Sprintf("LooseValidAt(leeway=%s)", c.Leeway)
}

// Assert implements Constraint.
func (c LooseValidAt) Assert(_ context.Context, t *IdentityToken) error {
	const op = "LooseValidAt.Assert"
	if t.registered.Expiry == nil {
		return fmt.Errorf("%s: token has no exp claim", op)
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	if err := t.registered.ValidateWithLeeway(josejwt.Expected{Time: now}, c.Leeway); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PermittedFor requires the token's audience to include Audience.
type PermittedFor struct {
	Audience string
}

// String implements Constraint.
func (c PermittedFor) String() string {
	return fmt.Sprintf("PermittedFor(%s)", c.Audience)
}

// Assert implements Constraint.
func (c PermittedFor) Assert(_ context.Context, t *IdentityToken) error {
	const op = "PermittedFor.Assert"
	if !t.registered.Audience.Contains(c.Audience) {
		return fmt.Errorf("%s: token is not permitted for %q: %w", op, c.Audience, josejwt.ErrInvalidAudience)
	}
	return nil
}

// HostedDomain requires the token's "hd" claim to equal Domain.
type HostedDomain struct {
	Domain string
}

// String implements Constraint.
func (c HostedDomain) String() string {
	return fmt.Sprintf("HostedDomain(%s)", c.Domain)
}

// Assert implements Constraint.
func (c HostedDomain) Assert(_ context.Context, t *IdentityToken) error {
	const op = "HostedDomain.Assert"
	hd, _ := t.StringClaim("hd")
	if hd != c.Domain {
		return fmt.Errorf("%s: hosted domain %q is not %q", op, hd, c.Domain)
	}
	return nil
}

// Nonce requires the token's "nonce" claim to equal Value, binding the token
// to the authorization request that asked for it.
type Nonce struct {
	Value string
}

// String implements Constraint.
func (c Nonce) String() string { return "Nonce" }

// Assert implements Constraint.
func (c Nonce) Assert(_ context.Context, t *IdentityToken) error {
	const op = "Nonce.Assert"
	got, ok := t.StringClaim("nonce")
	switch {
	case !ok:
		return fmt.Errorf("%s: token has no nonce claim: %w", op, ErrInvalidNonce)
	case subtle.ConstantTimeCompare([]byte(got), []byte(c.Value)) != 1:
		return fmt.Errorf("%s: nonce does not match the request: %w", op, ErrInvalidNonce)
	}
	return nil
}

// IssuedBy requires the token's "iss" claim to equal Issuer.
type IssuedBy struct {
	Issuer string
}

// String implements Constraint.
func (c IssuedBy) String() string {
	return fmt.Sprintf("IssuedBy(%s)", c.Issuer)
}

// Assert implements Constraint.
func (c IssuedBy) Assert(_ context.Context, t *IdentityToken) error {
	const op = "IssuedBy.Assert"
	if t.Issuer() != c.Issuer {
		return fmt.Errorf("%s: issuer %q is not %q: %w", op, t.Issuer(), c.Issuer, josejwt.ErrInvalidIssuer)
	}
	return nil
}

// UserInfoEndpoint calls the provider's user-info endpoint with the token's
// access_token (or the id_token itself when there's none) and requires the
// returned "sub" to match the token's.
type UserInfoEndpoint struct {
	Endpoint string
	Client   *http.Client
}

// String implements Constraint.
func (c UserInfoEndpoint) String() string {
	return fmt.Sprintf("UserInfoEndpoint(%s)", c.Endpoint)
}

// Assert implements Constraint.
func (c UserInfoEndpoint) Assert(ctx context.Context, t *IdentityToken) error {
	const op = "UserInfoEndpoint.Assert"
	credential := string(t.AccessToken())
	if credential == "" {
		credential = string(t.Raw())
	}
	if c.Client != nil {
		ctx = HttpClientContext(ctx, c.Client)
	}
	p := (&gooidc.ProviderConfig{UserInfoURL: c.Endpoint}).NewProvider(ctx)
	info, err := p.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: credential,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUserInfoFailed, err)
	}
	if info.Subject != t.Subject() {
		return fmt.Errorf("%s: user info subject %q is not %q: %w", op, info.Subject, t.Subject(), ErrUserInfoFailed)
	}
	return nil
}
