// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package middleware provides net/http middleware that authenticates requests
// with a BearerTokenAuthenticationProvider.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/cap-openid/oidc"
	"github.com/hashicorp/cap-openid/oidc/callback"
	"github.com/hashicorp/go-hclog"
)

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the identity.
func WithIdentity(ctx context.Context, identity *oidc.AuthenticatedIdentity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity the middleware authenticated.
func IdentityFromContext(ctx context.Context) (*oidc.AuthenticatedIdentity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*oidc.AuthenticatedIdentity)
	return identity, ok && identity != nil
}

// Bearer returns middleware requiring an "Authorization: Bearer" id_token.
// The token is re-validated by p on every request and the identity is put on
// the request's context.  Missing, stale or invalid credentials get a 401
// with a WWW-Authenticate challenge; an identity lacking a required role gets
// a 403.
//
// Supported options: WithRequiredRoles, WithLogger
func Bearer(p *oidc.BearerTokenAuthenticationProvider, opt ...oidc.Option) (func(http.Handler) http.Handler, error) {
	const op = "middleware.Bearer"
	if p == nil {
		return nil, fmt.Errorf("%s: bearer provider is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	realm := p.Config().ProviderKey
	logger := opts.withLogger.Named("bearer-middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			raw, ok := bearerToken(req)
			if !ok {
				challenge(w, realm, "", "")
				return
			}
			cred, err := p.Credential(raw)
			if err != nil {
				logger.Debug("unreadable bearer token", "error", err)
				challenge(w, realm, "invalid_token", oidc.MsgToken)
				return
			}
			identity, err := p.Authenticate(req.Context(), cred)
			if err != nil {
				kind := oidc.ErrorKind(err)
				switch kind {
				case oidc.KindConfiguration, oidc.KindNetwork:
					logger.Error("bearer authentication unavailable", "error", err)
					http.Error(w, oidc.PublicMessage(err), http.StatusServiceUnavailable)
				default:
					logger.Debug("bearer authentication failed", "kind", kind, "error", err)
					challenge(w, realm, "invalid_token", oidc.PublicMessage(err))
				}
				return
			}
			if !hasRoles(identity, opts.withRequiredRoles) {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, realm))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), identity)))
		})
	}, nil
}

// Session returns middleware that puts the identity of the browser's session
// on the request's context after checking it hasn't expired.  Requests
// without an identity pass through anonymously; a stale identity is removed
// from the session first.
//
// Supported options: WithLogger
func Session(p *oidc.BearerTokenAuthenticationProvider, sessions callback.SessionStore, opt ...oidc.Option) (func(http.Handler) http.Handler, error) {
	const op = "middleware.Session"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: bearer provider is nil: %w", op, oidc.ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger.Named("session-middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			s, err := sessions.Load(ctx, req)
			if err != nil {
				http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
				return
			}
			if s.Identity == nil {
				next.ServeHTTP(w, req)
				return
			}
			identity, err := p.Refresh(s.Identity)
			if err != nil {
				logger.Debug("dropping session identity", "username", s.Identity.Username, "error", err)
				if errors.Is(err, oidc.ErrStaleCredential) {
					s.Error = oidc.PublicMessage(err)
				}
				s.Identity = nil
				if err := sessions.Save(ctx, w, s); err != nil {
					http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req.WithContext(WithIdentity(ctx, identity)))
		})
	}, nil
}

func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func challenge(w http.ResponseWriter, realm, code, description string) {
	v := fmt.Sprintf("Bearer realm=%q", realm)
	if code != "" {
		v += fmt.Sprintf(", error=%q", code)
	}
	if description != "" {
		v += fmt.Sprintf(", error_description=%q", description)
	}
	w.Header().Set("WWW-Authenticate", v)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func hasRoles(identity *oidc.AuthenticatedIdentity, required []string) bool {
	for _, r := range required {
		if !identity.HasRole(r) {
			return false
		}
	}
	return true
}

// options is the set of available options for the middleware
type options struct {
	withRequiredRoles []string
	withLogger        hclog.Logger
}

func getDefaults() options {
	return options{withLogger: hclog.NewNullLogger()}
}

func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithRequiredRoles provides roles every authenticated identity must hold.
func WithRequiredRoles(roles ...string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRequiredRoles = roles
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}
