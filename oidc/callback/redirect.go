// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-openid/oidc"
)

// RedirectFlow creates an oidc redirect flow callback handler.  It runs the
// authenticator over the callback request; requests the authenticator
// doesn't support get a 400.
//
// An authenticated attempt replaces the browser's session with a new one
// holding the identity before the SuccessResponseFunc is called.  A failed
// attempt is handed to the ErrorResponseFunc.  Nil response funcs default to
// SuccessRedirect and FailureRedirect.
func RedirectFlow(a *oidc.RedirectFlowAuthenticator, sessions SessionStore, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.RedirectFlow"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, oidc.ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if sFn == nil {
		sFn = SuccessRedirect(a.Config(), sessions)
	}
	if eFn == nil {
		eFn = FailureRedirect(a.Config(), sessions)
	}

	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		at := a.Run(ctx, req)
		if at.Phase == oidc.PhaseIneligible {
			http.Error(w, oidc.MsgProtocol, http.StatusBadRequest)
			return
		}

		s, err := sessions.Load(ctx, req)
		if err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		if at.Phase != oidc.PhaseAuthenticated {
			eFn(at, s, w, req)
			return
		}

		// a fresh session id on login so an id planted before it is useless
		if err := sessions.Delete(ctx, w, s); err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		authenticated := &Session{Identity: at.Identity, TargetPaths: s.TargetPaths}
		if err := sessions.Save(ctx, w, authenticated); err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		sFn(at, authenticated, w, req)
	}, nil
}

// Login creates a handler that redirects the browser to the provider's
// authorization endpoint.  A local target path given in the request's target
// path parameter is carried through the state and also recorded in the
// session for the zone.  When no link can be built the browser-safe message
// is stored in the session and the browser is sent to the default route.
//
// The opt are passed to oidc.AuthorizationLinkBuilder.Build.
func Login(b *oidc.AuthorizationLinkBuilder, sessions SessionStore, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.Login"
	switch {
	case b == nil:
		return nil, fmt.Errorf("%s: link builder is nil: %w", op, oidc.ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, oidc.ErrInvalidParameter)
	}
	c := b.Config()

	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		s, err := sessions.Load(ctx, req)
		if err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}

		var extraState map[string]string
		if target := req.URL.Query().Get(c.TargetPathParameter); IsLocalPath(target) {
			extraState = map[string]string{c.TargetPathParameter: target}
			s.SetTargetPath(c.ProviderKey, target)
		}

		link, err := b.Build(ctx, req, c.CallbackURL(req), extraState, opt...)
		if err != nil {
			s.Error = oidc.PublicMessage(err)
			if err := sessions.Save(ctx, w, s); err != nil {
				http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
				return
			}
			http.Redirect(w, req, c.DefaultRoute, http.StatusFound)
			return
		}
		s.Error = ""
		if err := sessions.Save(ctx, w, s); err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, link, http.StatusFound)
	}, nil
}
