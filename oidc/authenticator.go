// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Phase is a state of the redirect flow state machine.
type Phase int

const (
	// PhaseIneligible means the request isn't a callback this authenticator
	// handles.
	PhaseIneligible Phase = iota
	PhaseEligible
	PhaseExchanging
	PhaseValidating
	PhaseAuthenticated
	PhaseFailed
)

// String returns the phase's name.
func (p Phase) String() string {
	switch p {
	case PhaseIneligible:
		return "ineligible"
	case PhaseEligible:
		return "eligible"
	case PhaseExchanging:
		return "exchanging"
	case PhaseValidating:
		return "validating"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Attempt is the outcome of one run of the redirect flow.
type Attempt struct {
	// Phase is the final phase: PhaseIneligible, PhaseAuthenticated or
	// PhaseFailed.
	Phase Phase

	// FailedIn is the phase the attempt failed in.
	FailedIn Phase

	// Identity is set when the attempt is authenticated.
	Identity *AuthenticatedIdentity

	// TargetPath is the post-login return path found in the state, if any.
	TargetPath string

	// Err is set when the attempt failed.  It wraps ErrAuthenticationFailed
	// and the error's kind.
	Err error
}

// RedirectFlowAuthenticator completes the authorization code flow on the
// provider's redirect callback.
type RedirectFlowAuthenticator struct {
	config    *Config
	discovery *Discovery
	factory   *TrustConfigurationFactory
	roles     *RoleChain
	csrf      CSRFTokenManager
	assertion *ClientAssertion
	client    *http.Client
	logger    hclog.Logger
	metrics   *Metrics
}

// NewRedirectFlowAuthenticator creates an authenticator.  A nil factory
// leaves the authenticator unconfigured: it supports no request and fails
// every attempt with ErrConfiguration.
//
// Supported options: WithCSRFTokenManager, WithClientAssertion, WithLogger,
// WithMetrics
func NewRedirectFlowAuthenticator(c *Config, f *TrustConfigurationFactory, roles *RoleChain, opt ...Option) (*RedirectFlowAuthenticator, error) {
	const op = "NewRedirectFlowAuthenticator"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthenticatorOpts(opt...)
	a := &RedirectFlowAuthenticator{
		config:    c,
		factory:   f,
		roles:     roles,
		csrf:      opts.withCSRFTokenManager,
		assertion: opts.withClientAssertion,
		client:    client,
		logger:    opts.withLogger.Named("redirect"),
		metrics:   opts.withMetrics,
	}
	if f != nil {
		a.discovery = f.discovery
	}
	return a, nil
}

// Config returns the authenticator's config.
func (a *RedirectFlowAuthenticator) Config() *Config { return a.config }

// Supports reports whether r is a callback to handle: Discovery is
// configured, the path is the callback path and the query carries "state",
// "scope" and either "code" or "error".
func (a *RedirectFlowAuthenticator) Supports(r *http.Request) bool {
	if a.discovery == nil || r == nil || r.URL == nil {
		return false
	}
	if r.URL.Path != a.config.CallbackPath {
		return false
	}
	q := r.URL.Query()
	if q.Get("state") == "" || q.Get("scope") == "" {
		return false
	}
	return q.Get("code") != "" || q.Get("error") != ""
}

// Run drives the request through Eligible, Exchanging and Validating to
// Authenticated or Failed.
func (a *RedirectFlowAuthenticator) Run(ctx context.Context, r *http.Request) *Attempt {
	at := &Attempt{Phase: PhaseIneligible}
	if !a.Supports(r) {
		return at
	}
	at.Phase = PhaseEligible

	at.Phase = PhaseExchanging
	passport, err := a.Authenticate(ctx, r)
	if err != nil {
		return a.fail(at, err)
	}
	at.TargetPath = passport.Attributes[AttributeTargetPath]

	at.Phase = PhaseValidating
	identity, err := a.VerifyCredentials(ctx, passport)
	if err != nil {
		return a.fail(at, err)
	}

	at.Phase = PhaseAuthenticated
	at.Identity = identity
	a.metrics.observeAuthentication(FlowRedirect, nil)
	a.logger.Debug("authenticated", "username", identity.Username, "roles", identity.Roles)
	return at
}

func (a *RedirectFlowAuthenticator) fail(at *Attempt, err error) *Attempt {
	at.FailedIn = at.Phase
	at.Phase = PhaseFailed
	at.Err = authFailure(err)
	a.metrics.observeAuthentication(FlowRedirect, at.Err)
	switch ErrorKind(at.Err) {
	case KindConfiguration:
		a.logger.Error("authentication failed", "phase", at.FailedIn, "error", at.Err)
	default:
		a.logger.Warn("authentication failed", "phase", at.FailedIn, "kind", ErrorKind(at.Err), "error", at.Err)
	}
	return at
}

// Authenticate handles the callback: it short-circuits on a provider error,
// checks the state, exchanges the code and parses the id_token.  The returned
// Passport is not trusted until VerifyCredentials succeeds.
func (a *RedirectFlowAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Passport, error) {
	const op = "RedirectFlowAuthenticator.Authenticate"
	if a.discovery == nil {
		return nil, authFailure(fmt.Errorf("%s: discovery is not configured: %w", op, ErrConfiguration))
	}
	if r == nil || r.URL == nil {
		return nil, authFailure(fmt.Errorf("%s: request is nil: %w: %w", op, ErrProtocol, ErrNilParameter))
	}
	q := r.URL.Query()
	if code := q.Get("error"); code != "" {
		return nil, authFailure(fmt.Errorf("%s: %w", op, &ProviderError{Code: code, Description: q.Get("error_description")}))
	}

	state, err := ParseState(q.Get("state"))
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w: %w", op, ErrProtocol, err))
	}
	if a.csrf != nil && !a.csrf.IsTokenValid(ctx, a.config.ProviderKey, state.Token()) {
		return nil, authFailure(fmt.Errorf("%s: csrf token is not valid: %w: %w", op, ErrProtocol, ErrInvalidState))
	}
	if a.csrf != nil && state.Nonce() == "" {
		return nil, authFailure(fmt.Errorf("%s: state has no nonce: %w: %w", op, ErrProtocol, ErrInvalidState))
	}
	attributes := map[string]string{}
	if tp := state.Get(a.config.TargetPathParameter); tp != "" {
		attributes[AttributeTargetPath] = tp
	}

	code := q.Get("code")
	if code == "" {
		return nil, authFailure(fmt.Errorf("%s: code is missing: %w", op, ErrProtocol))
	}
	tokenEndpoint := a.discovery.GetString(ctx, MetadataTokenEndpoint, "")
	if tokenEndpoint == "" {
		return nil, authFailure(fmt.Errorf("%s: provider has no token endpoint: %w", op, ErrConfiguration))
	}

	oauth2Token, idToken, err := a.exchange(ctx, tokenEndpoint, code, a.RedirectURI(r))
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	token, err := ParseIdentityToken(idToken, WithAccessToken(AccessToken(oauth2Token.AccessToken)))
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	username, err := token.Username(a.config.UsernameClaim)
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	return &Passport{
		Zone:        a.config.ProviderKey,
		Username:    username,
		Token:       token,
		AccessToken: token.AccessToken(),
		Attributes:  attributes,
		Nonce:       state.Nonce(),
	}, nil
}

// VerifyCredentials builds a fresh TrustConfiguration, asserts it against
// the passport's token and derives the identity's roles.
func (a *RedirectFlowAuthenticator) VerifyCredentials(ctx context.Context, p *Passport) (*AuthenticatedIdentity, error) {
	const op = "RedirectFlowAuthenticator.VerifyCredentials"
	if a.factory == nil {
		return nil, authFailure(fmt.Errorf("%s: discovery is not configured: %w", op, ErrConfiguration))
	}
	if p == nil || p.Token == nil {
		return nil, authFailure(fmt.Errorf("%s: passport is empty: %w: %w", op, ErrTokenValidation, ErrNilParameter))
	}
	tc, err := a.factory.Build(ctx)
	if err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	if err := tc.Assert(ctx, p.Token); err != nil {
		return nil, authFailure(fmt.Errorf("%s: %w", op, err))
	}
	if p.Nonce != "" {
		if err := (Nonce{Value: p.Nonce}).Assert(ctx, p.Token); err != nil {
			return nil, authFailure(fmt.Errorf("%s: %w: %w", op, ErrTokenValidation, err))
		}
	}
	rc := RoleContext{Zone: p.Zone, Username: p.Username, Token: p.Token}
	return &AuthenticatedIdentity{
		Zone:        p.Zone,
		Username:    p.Username,
		Roles:       a.roles.Roles(ctx, rc, a.config.DefaultRoles),
		Token:       p.Token,
		AccessToken: p.AccessToken,
		Attributes:  copyAttributes(p.Attributes),
	}, nil
}

// RedirectURI returns the redirect URI used in the code exchange: the
// request's scheme, host and path, rewritten to https with ForceSSL.
func (a *RedirectFlowAuthenticator) RedirectURI(r *http.Request) string {
	return a.config.externalURL(r, r.URL.Path)
}

// exchange redeems the authorization code at the token endpoint within the
// configured timeout.  Transport failures wrap ErrNetwork and error replies
// from the provider wrap ErrProtocol.
func (a *RedirectFlowAuthenticator) exchange(ctx context.Context, endpoint, code, redirectURI string) (*oauth2.Token, string, error) {
	const op = "RedirectFlowAuthenticator.exchange"
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	oauth2Config := oauth2.Config{
		ClientID:    a.config.ClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  endpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	var params []oauth2.AuthCodeOption
	if a.assertion != nil {
		assertion, err := a.assertion.Sign(a.config.ClientID, endpoint, a.config.Now())
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, err)
		}
		params = append(params,
			oauth2.SetAuthURLParam("client_assertion_type", ClientAssertionType),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		)
	} else {
		oauth2Config.ClientSecret = string(a.config.ClientSecret)
	}

	oauth2Token, err := oauth2Config.Exchange(HttpClientContext(ctx, a.client), code, params...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		var urlErr *url.Error
		switch {
		case errors.As(err, &retrieveErr):
			return nil, "", fmt.Errorf("%s: token endpoint returned %d (error=%q): %w", op, retrieveErr.Response.StatusCode, retrieveErr.ErrorCode, ErrProtocol)
		case errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
			return nil, "", fmt.Errorf("%s: token endpoint unreachable: %w: %w", op, ErrNetwork, err)
		default:
			return nil, "", fmt.Errorf("%s: unusable token response: %w: %w", op, ErrProtocol, err)
		}
	}
	idToken, _ := oauth2Token.Extra("id_token").(string)
	if idToken == "" {
		return nil, "", fmt.Errorf("%s: %w: %w", op, ErrTokenValidation, ErrMissingIdToken)
	}
	return oauth2Token, idToken, nil
}

// authenticatorOptions is the set of available options for
// RedirectFlowAuthenticator
type authenticatorOptions struct {
	withCSRFTokenManager CSRFTokenManager
	withClientAssertion  *ClientAssertion
	withLogger           hclog.Logger
	withMetrics          *Metrics
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{withLogger: hclog.NewNullLogger()}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
