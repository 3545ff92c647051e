// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/cap-openid/oidc"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultSessionCookie is the name of the cookie carrying the session id.
	DefaultSessionCookie = "cap_openid_session"

	// DefaultSessionTTL is how long an idle session is kept.
	DefaultSessionTTL = 30 * time.Minute
)

// Session is the per-browser state kept between the login, the callback and
// later requests.
type Session struct {
	// ID is assigned by the SessionStore on the first Save.
	ID string

	// Identity is set once the redirect flow authenticated the browser.
	Identity *oidc.AuthenticatedIdentity

	// TargetPaths are the post-login return paths recorded at login, by
	// zone.
	TargetPaths map[string]string

	// Error is the browser-safe message of the last failed attempt.
	Error string
}

// TargetPath returns the return path recorded for zone.
func (s *Session) TargetPath(zone string) string {
	if s == nil {
		return ""
	}
	return s.TargetPaths[zone]
}

// SetTargetPath records the return path for zone.  An empty path clears it.
func (s *Session) SetTargetPath(zone, path string) {
	if path == "" {
		delete(s.TargetPaths, zone)
		return
	}
	if s.TargetPaths == nil {
		s.TargetPaths = map[string]string{}
	}
	s.TargetPaths[zone] = path
}

func (s *Session) clone() *Session {
	c := &Session{ID: s.ID, Identity: s.Identity, Error: s.Error}
	if s.TargetPaths != nil {
		c.TargetPaths = make(map[string]string, len(s.TargetPaths))
		for k, v := range s.TargetPaths {
			c.TargetPaths[k] = v
		}
	}
	return c
}

// SessionStore loads and saves sessions.  Implementations must be
// concurrently safe, since the store will likely be used within a concurrent
// http.Handler.
type SessionStore interface {
	// Load returns the request's session, or a new empty session when it
	// has none.
	Load(ctx context.Context, req *http.Request) (*Session, error)

	// Save stores the session and binds it to the browser.  A session
	// without an ID is given a new one.
	Save(ctx context.Context, w http.ResponseWriter, s *Session) error

	// Delete removes the session.
	Delete(ctx context.Context, w http.ResponseWriter, s *Session) error
}

// MemorySessionStore keeps sessions in process memory, keyed by a cookie.
type MemorySessionStore struct {
	sessions *cache.Cache
	cookie   string
	secure   bool
	ttl      time.Duration
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a store whose sessions expire ttl after their
// last Save.  Expired sessions are evicted every ttl.  A non-positive ttl uses
// DefaultSessionTTL.
//
// Supported options: WithCookieName, WithSecureCookie
func NewMemorySessionStore(ttl time.Duration, opt ...oidc.Option) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	opts := getSessionOpts(opt...)
	return &MemorySessionStore{
		sessions: cache.New(ttl, ttl),
		cookie:   opts.withCookieName,
		secure:   opts.withSecureCookie,
		ttl:      ttl,
	}
}

// Load implements SessionStore.  The returned session is a copy.
func (m *MemorySessionStore) Load(_ context.Context, req *http.Request) (*Session, error) {
	const op = "MemorySessionStore.Load"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, oidc.ErrNilParameter)
	}
	c, err := req.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return &Session{}, nil
	}
	v, ok := m.sessions.Get(c.Value)
	if !ok {
		return &Session{}, nil
	}
	return v.(*Session).clone(), nil
}

// Save implements SessionStore.
func (m *MemorySessionStore) Save(_ context.Context, w http.ResponseWriter, s *Session) error {
	const op = "MemorySessionStore.Save"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	if s.ID == "" {
		id, err := oidc.NewID(oidc.WithPrefix("s"))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.ID = id
	}
	m.sessions.SetDefault(s.ID, s.clone())
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Delete implements SessionStore.
func (m *MemorySessionStore) Delete(_ context.Context, w http.ResponseWriter, s *Session) error {
	if s == nil || s.ID == "" {
		return nil
	}
	m.sessions.Delete(s.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// sessionOptions is the set of available options for MemorySessionStore
type sessionOptions struct {
	withCookieName   string
	withSecureCookie bool
}

func sessionDefaults() sessionOptions {
	return sessionOptions{withCookieName: DefaultSessionCookie}
}

func getSessionOpts(opt ...oidc.Option) sessionOptions {
	opts := sessionDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(name string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withSecureCookie = secure
		}
	}
}
