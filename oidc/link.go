// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/cap-openid/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

const (
	// DefaultResponseType is the only response type the redirect flow
	// completes.
	DefaultResponseType = "code"

	// ScopeOpenID is requested when nothing else can be.
	ScopeOpenID = "openid"
)

// AuthorizationLinkBuilder builds the provider's authorization URL that
// starts the redirect flow.
type AuthorizationLinkBuilder struct {
	config    *Config
	discovery *Discovery
	csrf      CSRFTokenManager
	logger    hclog.Logger
}

// NewAuthorizationLinkBuilder creates a builder.  Without a CSRF token
// manager a MemoryCSRFTokenManager is used; share the same manager with the
// RedirectFlowAuthenticator so callbacks are checked against it.
//
// Supported options: WithCSRFTokenManager, WithLogger
func NewAuthorizationLinkBuilder(c *Config, d *Discovery, opt ...Option) (*AuthorizationLinkBuilder, error) {
	const op = "NewAuthorizationLinkBuilder"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getLinkBuilderOpts(opt...)
	csrf := opts.withCSRFTokenManager
	if csrf == nil {
		csrf = NewMemoryCSRFTokenManager(DefaultCSRFTokenTTL)
	}
	return &AuthorizationLinkBuilder{
		config:    c,
		discovery: d,
		csrf:      csrf,
		logger:    opts.withLogger.Named("link"),
	}, nil
}

// Config returns the builder's config.
func (b *AuthorizationLinkBuilder) Config() *Config { return b.config }

// CSRFTokenManager returns the manager issuing state tokens.
func (b *AuthorizationLinkBuilder) CSRFTokenManager() CSRFTokenManager { return b.csrf }

// Supports reports whether a link can be built, which requires a configured
// Discovery.
func (b *AuthorizationLinkBuilder) Supports(_ *http.Request) bool {
	return b.discovery != nil
}

// Build returns the authorization URL.  The state binds a fresh CSRF token,
// the extraState entries (such as the target path) and the fresh nonce sent
// with the request, which the id_token must then carry.  r is optional and only supplies the default login hint from
// its "email" query parameter.
//
// It fails with ErrConfiguration when Discovery isn't configured, the
// provider doesn't advertise the response type, or it publishes no
// authorization endpoint.
//
// Supported options: WithResponseType, WithLoginHint, WithUILocales
func (b *AuthorizationLinkBuilder) Build(ctx context.Context, r *http.Request, redirectURI string, extraState map[string]string, opt ...Option) (string, error) {
	const op = "AuthorizationLinkBuilder.Build"
	if b.discovery == nil {
		return "", fmt.Errorf("%s: discovery is not configured: %w", op, ErrConfiguration)
	}
	if redirectURI == "" {
		return "", fmt.Errorf("%s: redirect URI is empty: %w", op, ErrInvalidParameter)
	}
	opts := getLinkOpts(opt...)
	if opts.withLoginHint == "" && r != nil {
		opts.withLoginHint = r.URL.Query().Get("email")
	}

	supported := b.discovery.GetStrings(ctx, MetadataResponseTypesSupported)
	if !strutils.StrListContains(supported, opts.withResponseType) {
		b.logger.Error("provider does not support response type", "response_type", opts.withResponseType, "supported", supported)
		return "", fmt.Errorf("%s: response type %q is not supported by the provider: %w", op, opts.withResponseType, ErrConfiguration)
	}
	authURL, err := b.discovery.RequireString(ctx, MetadataAuthorizationEndpoint)
	if err != nil {
		b.logger.Error("authorization endpoint unavailable", "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := b.csrf.Token(ctx, b.config.ProviderKey)
	if err != nil {
		return "", fmt.Errorf("%s: unable to issue csrf token: %w", op, err)
	}
	state, err := NewState(token, extraState)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	state.setNonce(nonce)

	oauth2Config := oauth2.Config{
		ClientID:     b.config.ClientID,
		ClientSecret: string(b.config.ClientSecret),
		Endpoint:     oauth2.Endpoint{AuthURL: authURL},
		RedirectURL:  redirectURI,
		Scopes:       b.Scopes(ctx),
	}
	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", opts.withResponseType),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if b.config.HostedDomain != "" {
		params = append(params, oauth2.SetAuthURLParam("hd", b.config.HostedDomain))
	}
	if opts.withLoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.withLoginHint))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		params = append(params, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oauth2Config.AuthCodeURL(state.Encode(), params...), nil
}

// Scopes returns the scopes to request: the configured allow-list limited to
// the scopes the provider advertises.  With no allow-list every advertised
// scope is requested; a provider advertising nothing gets the allow-list
// unchanged, and "openid" is requested when both are empty.
func (b *AuthorizationLinkBuilder) Scopes(ctx context.Context) []string {
	var advertised []string
	if b.discovery != nil {
		advertised = b.discovery.GetStrings(ctx, MetadataScopesSupported)
	}
	var scopes []string
	switch {
	case len(b.config.Scopes) == 0:
		scopes = advertised
	case len(advertised) == 0:
		scopes = b.config.Scopes
	default:
		scopes = strutils.Intersect(b.config.Scopes, advertised)
	}
	if len(scopes) == 0 {
		return []string{ScopeOpenID}
	}
	return strutils.RemoveDuplicatesStable(scopes, false)
}

// linkBuilderOptions is the set of available options for
// AuthorizationLinkBuilder
type linkBuilderOptions struct {
	withCSRFTokenManager CSRFTokenManager
	withLogger           hclog.Logger
}

func linkBuilderDefaults() linkBuilderOptions {
	return linkBuilderOptions{withLogger: hclog.NewNullLogger()}
}

func getLinkBuilderOpts(opt ...Option) linkBuilderOptions {
	opts := linkBuilderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// linkOptions is the set of available options for
// AuthorizationLinkBuilder.Build
type linkOptions struct {
	withResponseType string
	withLoginHint    string
	withUILocales    []language.Tag
}

func linkDefaults() linkOptions {
	return linkOptions{withResponseType: DefaultResponseType}
}

func getLinkOpts(opt ...Option) linkOptions {
	opts := linkDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithResponseType provides an optional response type for the authorization
// URL.  Defaults to "code".
func WithResponseType(rt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*linkOptions); ok && rt != "" {
			o.withResponseType = rt
		}
	}
}

// WithLoginHint provides an optional login hint for the authorization URL.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*linkOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's
// login pages.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*linkOptions); ok {
			o.withUILocales = locales
		}
	}
}
