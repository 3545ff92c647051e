// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/cap-openid/oidc"
)

// SuccessResponseFunc is used by RedirectFlow to create a http response when
// the attempt is authenticated.
//
// The session already carries the attempt's identity and has been saved.
// The function should use the http.ResponseWriter to send back whatever
// content (headers, html, JSON, etc) it wishes to the client that originated
// the oidc flow.
type SuccessResponseFunc func(at *oidc.Attempt, s *Session, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by RedirectFlow to create a http response when
// the attempt failed.  at.Err wraps oidc.ErrAuthenticationFailed and the
// error's kind; oidc.PublicMessage maps it to a browser-safe message.
type ErrorResponseFunc func(at *oidc.Attempt, s *Session, w http.ResponseWriter, req *http.Request)

// SuccessRedirect returns a SuccessResponseFunc redirecting to the first of:
// the target path carried by the state, the target path recorded in the
// session for the zone, and the config's default route.  Target paths that
// aren't local are ignored.
func SuccessRedirect(c *oidc.Config, sessions SessionStore) SuccessResponseFunc {
	return func(at *oidc.Attempt, s *Session, w http.ResponseWriter, req *http.Request) {
		target := c.DefaultRoute
		switch {
		case IsLocalPath(at.TargetPath):
			target = at.TargetPath
		case IsLocalPath(s.TargetPath(c.ProviderKey)):
			target = s.TargetPath(c.ProviderKey)
		}
		if s.TargetPath(c.ProviderKey) != "" {
			s.SetTargetPath(c.ProviderKey, "")
			_ = sessions.Save(req.Context(), w, s)
		}
		http.Redirect(w, req, target, http.StatusFound)
	}
}

// FailureRedirect returns an ErrorResponseFunc that stores the attempt's
// browser-safe message in the session and redirects to the config's default
// route.
func FailureRedirect(c *oidc.Config, sessions SessionStore) ErrorResponseFunc {
	return func(at *oidc.Attempt, s *Session, w http.ResponseWriter, req *http.Request) {
		s.Error = oidc.PublicMessage(at.Err)
		if err := sessions.Save(req.Context(), w, s); err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, c.DefaultRoute, http.StatusFound)
	}
}

// IsLocalPath reports whether p is an absolute path on this host, which is
// the only kind of post-login target that's followed.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}
