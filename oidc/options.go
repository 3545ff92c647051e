// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: Discovery,
// TrustConfigurationFactory, AuthorizationLinkBuilder,
// RedirectFlowAuthenticator, BearerTokenAuthenticationProvider and RoleChain.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *discoveryOptions:
			v.withLogger = l
		case *factoryOptions:
			v.withLogger = l
		case *linkBuilderOptions:
			v.withLogger = l
		case *authenticatorOptions:
			v.withLogger = l
		case *bearerOptions:
			v.withLogger = l
		case *roleChainOptions:
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional prometheus metrics for: Discovery,
// RedirectFlowAuthenticator and BearerTokenAuthenticationProvider.
func WithMetrics(m *Metrics) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discoveryOptions:
			v.withMetrics = m
		case *authenticatorOptions:
			v.withMetrics = m
		case *bearerOptions:
			v.withMetrics = m
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is for: Config, TrustConfigurationFactory and
// BearerTokenAuthenticationProvider.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withNowFunc = now
		case *factoryOptions:
			v.withNowFunc = now
		case *bearerOptions:
			v.withNowFunc = now
		}
	}
}

// WithProviderCA provides an optional CA cert to use when sending requests to
// the provider for: Config and Discovery.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withProviderCA = cert
		case *discoveryOptions:
			v.withProviderCA = cert
		}
	}
}

// WithTimeout provides an optional timeout for outbound requests to the
// provider for: Config and Discovery.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withTimeout = d
		case *discoveryOptions:
			v.withTimeout = d
		}
	}
}

// WithCacheTTL provides an optional lifetime for cached provider metadata and
// keys for: Config and Discovery.
func WithCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withCacheTTL = d
		case *discoveryOptions:
			v.withCacheTTL = d
		}
	}
}

// WithCSRFTokenManager provides an optional CSRF token manager for:
// AuthorizationLinkBuilder and RedirectFlowAuthenticator.  The authenticator
// only checks the state's CSRF token when it's given a manager.
func WithCSRFTokenManager(m CSRFTokenManager) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *linkBuilderOptions:
			v.withCSRFTokenManager = m
		case *authenticatorOptions:
			v.withCSRFTokenManager = m
		}
	}
}
