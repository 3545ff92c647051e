// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Credential is a token presented for authentication.  Zone is the provider
// key the credential belongs to.
type Credential interface {
	Zone() string
}

// AccountToken is the credential of a previously authenticated identity,
// presented again on a later request.
type AccountToken struct {
	zone        string
	username    string
	token       *IdentityToken
	accessToken AccessToken
	attributes  map[string]string
}

var _ Credential = (*AccountToken)(nil)

// NewAccountToken returns the credential for an authenticated identity.
func NewAccountToken(identity *AuthenticatedIdentity) (*AccountToken, error) {
	const op = "NewAccountToken"
	if identity == nil || identity.Token == nil {
		return nil, fmt.Errorf("%s: identity is empty: %w", op, ErrNilParameter)
	}
	return &AccountToken{
		zone:        identity.Zone,
		username:    identity.Username,
		token:       identity.Token,
		accessToken: identity.AccessToken,
		attributes:  copyAttributes(identity.Attributes),
	}, nil
}

// NewAccountTokenFromBearer parses a raw id_token presented as a bearer
// credential for zone.  The username is read from usernameClaim.  Nothing is
// verified yet.
func NewAccountTokenFromBearer(raw, zone, usernameClaim string) (*AccountToken, error) {
	const op = "NewAccountTokenFromBearer"
	if zone == "" {
		return nil, fmt.Errorf("%s: zone is empty: %w", op, ErrInvalidParameter)
	}
	token, err := ParseIdentityToken(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	username, err := token.Username(usernameClaim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AccountToken{zone: zone, username: username, token: token}, nil
}

// Zone implements Credential.
func (t *AccountToken) Zone() string { return t.zone }

// Username returns the username the credential claims.
func (t *AccountToken) Username() string { return t.username }

// Token returns the credential's identity token.
func (t *AccountToken) Token() *IdentityToken { return t.token }

// BearerTokenAuthenticationProvider re-validates account tokens on every
// request after the redirect flow.  It only uses local and Discovery-backed
// checks and never contacts the token endpoint.
type BearerTokenAuthenticationProvider struct {
	config  *Config
	factory *TrustConfigurationFactory
	roles   *RoleChain
	logger  hclog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewBearerTokenAuthenticationProvider creates a provider.
//
// Supported options: WithLogger, WithMetrics, WithNow
func NewBearerTokenAuthenticationProvider(c *Config, f *TrustConfigurationFactory, roles *RoleChain, opt ...Option) (*BearerTokenAuthenticationProvider, error) {
	const op = "NewBearerTokenAuthenticationProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%s: trust configuration factory is nil: %w", op, ErrNilParameter)
	}
	opts := getBearerOpts(opt...)
	now := opts.withNowFunc
	if now == nil {
		now = c.Now
	}
	return &BearerTokenAuthenticationProvider{
		config:  c,
		factory: f,
		roles:   roles,
		logger:  opts.withLogger.Named("bearer"),
		metrics: opts.withMetrics,
		now:     now,
	}, nil
}

// Config returns the provider's config.
func (p *BearerTokenAuthenticationProvider) Config() *Config { return p.config }

// Credential parses a raw bearer id_token into an AccountToken for this
// provider's zone and username claim.
func (p *BearerTokenAuthenticationProvider) Credential(raw string) (*AccountToken, error) {
	return NewAccountTokenFromBearer(raw, p.config.ProviderKey, p.config.UsernameClaim)
}

// Supports reports whether cred is an AccountToken of this provider's zone.
func (p *BearerTokenAuthenticationProvider) Supports(cred Credential) bool {
	t, ok := cred.(*AccountToken)
	return ok && t != nil && t.zone == p.config.ProviderKey
}

// Authenticate re-validates cred and returns a fresh identity.  A credential
// past its own expiry fails with ErrStaleCredential before any other check.
func (p *BearerTokenAuthenticationProvider) Authenticate(ctx context.Context, cred Credential) (identity *AuthenticatedIdentity, err error) {
	const op = "BearerTokenAuthenticationProvider.Authenticate"
	defer func() {
		p.metrics.observeAuthentication(FlowBearer, err)
		if err != nil {
			p.logger.Debug("bearer authentication failed", "kind", ErrorKind(err), "error", err)
		}
	}()
	if !p.Supports(cred) {
		return nil, authFailure(fmt.Errorf("%s: %w", op, ErrUnsupportedCredential))
	}
	t := cred.(*AccountToken)
	if t.token == nil {
		return nil, authFailure(fmt.Errorf("%s: credential has no token: %w: %w", op, ErrTokenValidation, ErrNilParameter))
	}
	if t.token.Expired(p.now()) {
		return nil, authFailure(fmt.Errorf("%s: token expired at %s: %w", op, t.token.Expiry(), ErrStaleCredential))
	}

	tc, err := p.factory.Build(ctx)
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	if err := tc.Assert(ctx, t.token); err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	rc := RoleContext{Zone: t.zone, Username: t.username, Token: t.token}
	return &AuthenticatedIdentity{
		Zone:        t.zone,
		Username:    t.username,
		Roles:       p.roles.Roles(ctx, rc, p.config.DefaultRoles),
		Token:       t.token,
		AccessToken: t.accessToken,
		Attributes:  copyAttributes(t.attributes),
	}, nil
}

// Refresh re-checks a stored identity without re-validating it: it fails with
// ErrStaleCredential once the identity's own token has expired.
func (p *BearerTokenAuthenticationProvider) Refresh(identity *AuthenticatedIdentity) (*AuthenticatedIdentity, error) {
	const op = "BearerTokenAuthenticationProvider.Refresh"
	if identity == nil {
		return nil, authFailure(fmt.Errorf("%s: identity is nil: %w: %w", op, ErrStaleCredential, ErrNilParameter))
	}
	if identity.Zone != p.config.ProviderKey {
		return nil, authFailure(fmt.Errorf("%s: identity belongs to zone %q: %w", op, identity.Zone, ErrUnsupportedCredential))
	}
	if identity.Expired(p.now()) {
		return nil, authFailure(fmt.Errorf("%s: %w", op, ErrStaleCredential))
	}
	return identity, nil
}

// bearerOptions is the set of available options for
// BearerTokenAuthenticationProvider
type bearerOptions struct {
	withLogger  hclog.Logger
	withMetrics *Metrics
	withNowFunc func() time.Time
}

func bearerDefaults() bearerOptions {
	return bearerOptions{withLogger: hclog.NewNullLogger()}
}

func getBearerOpts(opt ...Option) bearerOptions {
	opts := bearerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
