// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/cap-openid/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/cap-openid/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultUsernameClaim is the id_token claim used as the username.
	DefaultUsernameClaim = "email"

	// DefaultCallbackPath is the path the provider redirects back to.
	DefaultCallbackPath = "/callback"

	// DefaultRoute is where users are sent after the redirect flow when no
	// target path was recorded.
	DefaultRoute = "/"

	// DefaultTargetPathParameter is the state entry (and query parameter)
	// carrying the post-login return path.
	DefaultTargetPathParameter = "_target_path"

	// DefaultProviderKey is the zone key that bearer credentials are matched
	// against.
	DefaultProviderKey = "openid"

	// DefaultCacheTTL is how long provider metadata and keys are cached.
	DefaultCacheTTL = time.Hour

	// DefaultTimeout is the timeout for every outbound request to the
	// provider.
	DefaultTimeout = sdkHttp.DefaultTimeout
)

// DefaultRoles are granted to every authenticated identity unless
// overridden with WithDefaultRoles.
var DefaultRoles = []string{"ROLE_USER"}

// SignaturePolicy decides what happens when the provider's metadata doesn't
// allow an asymmetric signature check of its id_tokens.
type SignaturePolicy string

const (
	// SignaturePolicyStrict fails the attempt with ErrConfiguration.
	SignaturePolicyStrict SignaturePolicy = "strict"

	// SignaturePolicyPermissive degrades to claims-only trust and logs a
	// warning.  Only use it with providers you reach over a trusted channel.
	SignaturePolicyPermissive SignaturePolicy = "permissive"
)

// Valid reports whether p is a known policy.
func (p SignaturePolicy) Valid() bool {
	switch p {
	case SignaturePolicyStrict, SignaturePolicyPermissive:
		return true
	default:
		return false
	}
}

// Config represents the relying party configuration for one provider.
type Config struct {
	// DiscoveryURL is the provider's well-known openid-configuration URL.
	DiscoveryURL string

	// ClientID is the relying party id.  When set, id_tokens must be
	// permitted for it.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// HostedDomain optionally restricts logins to a single hosted domain (the
	// "hd" claim) and is sent as a hint on the authorization URL.
	HostedDomain string

	// Scopes is the allow-list of scopes to request.  The requested scopes are
	// the ones the provider also advertises.
	Scopes []string

	// UsernameClaim is the id_token claim holding the username.
	UsernameClaim string

	// DefaultRoles are granted to every authenticated identity.
	DefaultRoles []string

	// VerifyUserInfo adds a live user-info check to every trust
	// configuration.
	VerifyUserInfo bool

	// ForceSSL rewrites an http redirect URI to https before the code
	// exchange.
	ForceSSL bool

	// SignaturePolicy applies when the provider can't be verified with an
	// asymmetric signature.
	SignaturePolicy SignaturePolicy

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// CallbackPath is the redirect flow's callback path.
	CallbackPath string

	// DefaultRoute is where users go after the redirect flow.
	DefaultRoute string

	// TargetPathParameter names the post-login return path entry.
	TargetPathParameter string

	// ProviderKey is the zone key of this provider.
	ProviderKey string

	// Timeout applies to every outbound request to the provider.
	Timeout time.Duration

	// CacheTTL is how long provider metadata and keys are cached.
	CacheTTL time.Duration

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithHostedDomain, WithScopes, WithUsernameClaim,
// WithDefaultRoles, WithVerifyUserInfo, WithForceSSL, WithSignaturePolicy,
// WithProviderCA, WithCallbackPath, WithDefaultRoute,
// WithTargetPathParameter, WithProviderKey, WithTimeout, WithCacheTTL, WithNow
func NewConfig(discoveryURL string, clientID string, clientSecret ClientSecret, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		DiscoveryURL:        discoveryURL,
		ClientID:            clientID,
		ClientSecret:        clientSecret,
		HostedDomain:        opts.withHostedDomain,
		Scopes:              opts.withScopes,
		UsernameClaim:       opts.withUsernameClaim,
		DefaultRoles:        opts.withDefaultRoles,
		VerifyUserInfo:      opts.withVerifyUserInfo,
		ForceSSL:            opts.withForceSSL,
		SignaturePolicy:     opts.withSignaturePolicy,
		ProviderCA:          opts.withProviderCA,
		CallbackPath:        opts.withCallbackPath,
		DefaultRoute:        opts.withDefaultRoute,
		TargetPathParameter: opts.withTargetPathParameter,
		ProviderKey:         opts.withProviderKey,
		Timeout:             opts.withTimeout,
		CacheTTL:            opts.withCacheTTL,
		NowFunc:             opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the discovery URL is not empty, but it doesn't verify the discovery URL is
// reachable via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.DiscoveryURL == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.DiscoveryURL)
	if err != nil {
		return fmt.Errorf("%s: discovery URL %s is invalid: %w", op, c.DiscoveryURL, ErrInvalidParameter)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s: discovery URL %s schema is not http or https: %w", op, c.DiscoveryURL, ErrInvalidParameter)
	}
	if strings.TrimSpace(c.UsernameClaim) == "" {
		return fmt.Errorf("%s: username claim is empty: %w", op, ErrInvalidParameter)
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("%s: callback path %q must start with /: %w", op, c.CallbackPath, ErrInvalidParameter)
	}
	if c.DefaultRoute == "" {
		return fmt.Errorf("%s: default route is empty: %w", op, ErrInvalidParameter)
	}
	if c.TargetPathParameter == "" {
		return fmt.Errorf("%s: target path parameter is empty: %w", op, ErrInvalidParameter)
	}
	if c.ProviderKey == "" {
		return fmt.Errorf("%s: provider key is empty: %w", op, ErrInvalidParameter)
	}
	if !c.SignaturePolicy.Valid() {
		return fmt.Errorf("%s: unknown signature policy %q: %w", op, c.SignaturePolicy, ErrInvalidParameter)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive: %w", op, ErrInvalidParameter)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%s: cache TTL must be positive: %w", op, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		if _, err := c.HttpClient(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// HttpClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// Now will return the current time which can be overridden by the NowFunc.
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// CallbackURL returns the redirect URI for the callback path on r's host.
func (c *Config) CallbackURL(r *http.Request) string {
	return c.externalURL(r, c.CallbackPath)
}

// externalURL returns the URL of path on r's host.  With ForceSSL an http URL
// is rewritten to https, since the service may sit behind a TLS terminating
// proxy.
func (c *Config) externalURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := (&url.URL{Scheme: scheme, Host: r.Host, Path: path}).String()
	if c.ForceSSL && strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.OidcClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withHostedDomain        string
	withScopes              []string
	withUsernameClaim       string
	withDefaultRoles        []string
	withVerifyUserInfo      bool
	withForceSSL            bool
	withSignaturePolicy     SignaturePolicy
	withProviderCA          string
	withCallbackPath        string
	withDefaultRoute        string
	withTargetPathParameter string
	withProviderKey         string
	withTimeout             time.Duration
	withCacheTTL            time.Duration
	withNowFunc             func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withUsernameClaim:       DefaultUsernameClaim,
		withDefaultRoles:        append([]string(nil), DefaultRoles...),
		withForceSSL:            true,
		withSignaturePolicy:     SignaturePolicyStrict,
		withCallbackPath:        DefaultCallbackPath,
		withDefaultRoute:        DefaultRoute,
		withTargetPathParameter: DefaultTargetPathParameter,
		withProviderKey:         DefaultProviderKey,
		withTimeout:             DefaultTimeout,
		withCacheTTL:            DefaultCacheTTL,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHostedDomain provides an optional hosted domain restriction for the
// provider's config.
func WithHostedDomain(domain string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHostedDomain = domain
		}
	}
}

// WithScopes provides an optional scope allow-list for the provider's config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = strutils.RemoveDuplicatesStable(scopes, false)
		}
	}
}

// WithUsernameClaim provides an optional username claim for the provider's
// config.
func WithUsernameClaim(claim string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUsernameClaim = claim
		}
	}
}

// WithDefaultRoles provides optional default roles for the provider's config.
// Calling it with no roles grants no default roles.
func WithDefaultRoles(roles ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDefaultRoles = strutils.RemoveDuplicatesStable(roles, false)
		}
	}
}

// WithVerifyUserInfo enables the live user-info check.
func WithVerifyUserInfo(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withVerifyUserInfo = enabled
		}
	}
}

// WithForceSSL controls the https rewrite of the redirect URI.
func WithForceSSL(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withForceSSL = enabled
		}
	}
}

// WithSignaturePolicy provides an optional signature policy for the
// provider's config.
func WithSignaturePolicy(p SignaturePolicy) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSignaturePolicy = p
		}
	}
}

// WithCallbackPath provides an optional callback path for the provider's
// config.
func WithCallbackPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCallbackPath = path
		}
	}
}

// WithDefaultRoute provides an optional default route for the provider's
// config.
func WithDefaultRoute(route string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDefaultRoute = route
		}
	}
}

// WithTargetPathParameter provides an optional name for the post-login return
// path entry.
func WithTargetPathParameter(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTargetPathParameter = name
		}
	}
}

// WithProviderKey provides an optional zone key for the provider's config.
func WithProviderKey(key string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderKey = key
		}
	}
}
