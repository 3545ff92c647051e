// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hashicorp/cap-openid/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testApp = "https://app.example.com"

type testFlow struct {
	tp       *oidc.TestProvider
	sessions *MemorySessionStore
	login    http.HandlerFunc
	callback http.HandlerFunc
}

func newTestFlow(t *testing.T, setup func(*oidc.TestProvider)) *testFlow {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	if setup != nil {
		setup(tp)
	}
	tp.SetClientCreds("test-client", "test-secret")
	tp.SetAllowedRedirectURIs([]string{testApp + oidc.DefaultCallbackPath})

	c, err := oidc.NewConfig(tp.DiscoveryURL(), "test-client", "test-secret", oidc.WithProviderCA(tp.CACert()))
	require.NoError(err)
	d, err := oidc.NewDiscoveryFromConfig(c, nil)
	require.NoError(err)
	f, err := oidc.NewTrustConfigurationFactory(c, d)
	require.NoError(err)
	b, err := oidc.NewAuthorizationLinkBuilder(c, d)
	require.NoError(err)
	a, err := oidc.NewRedirectFlowAuthenticator(c, f, nil, oidc.WithCSRFTokenManager(b.CSRFTokenManager()))
	require.NoError(err)

	sessions := NewMemorySessionStore(0)
	login, err := Login(b, sessions)
	require.NoError(err)
	callback, err := RedirectFlow(a, sessions, nil, nil)
	require.NoError(err)
	return &testFlow{tp: tp, sessions: sessions, login: login, callback: callback}
}

// start runs the login handler and follows the provider's authorization
// endpoint, returning the callback request carrying the session cookie.
func (f *testFlow) start(t *testing.T, target string) *http.Request {
	t.Helper()
	require := require.New(t)
	loginURL := testApp + "/login"
	if target != "" {
		loginURL += "?" + url.Values{oidc.DefaultTargetPathParameter: {target}}.Encode()
	}
	w := httptest.NewRecorder()
	f.login(w, httptest.NewRequest(http.MethodGet, loginURL, nil))
	require.Equal(http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(cookies)

	client := f.tp.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(w.Header().Get("Location"))
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, resp.Header.Get("Location"), nil)
	req.AddCookie(cookies[len(cookies)-1])
	return req
}

// session loads the session bound by the last cookie w set.
func (f *testFlow) session(t *testing.T, w *httptest.ResponseRecorder) *Session {
	t.Helper()
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	req := httptest.NewRequest(http.MethodGet, testApp+"/", nil)
	req.AddCookie(cookies[len(cookies)-1])
	s, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	return s
}

func TestRedirectFlow(t *testing.T) {
	t.Parallel()
	_, err := RedirectFlow(nil, NewMemorySessionStore(0), nil, nil)
	assert.ErrorIs(t, err, oidc.ErrInvalidParameter)

	t.Run("target-path-round-trip", func(t *testing.T) {
		assert := assert.New(t)
		f := newTestFlow(t, nil)
		req := f.start(t, "/reports?month=june")
		w := httptest.NewRecorder()
		f.callback(w, req)

		assert.Equal(http.StatusFound, w.Code)
		assert.Equal("/reports?month=june", w.Header().Get("Location"))
		s := f.session(t, w)
		require.NotNil(t, s.Identity)
		assert.Equal(oidc.TestProviderUsername, s.Identity.Username)
		assert.Equal([]string{"ROLE_USER"}, s.Identity.Roles)
		assert.Empty(s.TargetPath(oidc.DefaultProviderKey))

		old, err := req.Cookie(DefaultSessionCookie)
		require.NoError(t, err)
		assert.NotEqual(old.Value, s.ID, "session id is renewed on login")
	})
	t.Run("default-route", func(t *testing.T) {
		f := newTestFlow(t, nil)
		w := httptest.NewRecorder()
		f.callback(w, f.start(t, ""))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, oidc.DefaultRoute, w.Header().Get("Location"))
	})
	t.Run("open-redirect-refused", func(t *testing.T) {
		f := newTestFlow(t, nil)
		w := httptest.NewRecorder()
		f.callback(w, f.start(t, "//evil.example.com/"))
		assert.Equal(t, oidc.DefaultRoute, w.Header().Get("Location"))
	})
	t.Run("provider-error", func(t *testing.T) {
		assert := assert.New(t)
		f := newTestFlow(t, func(tp *oidc.TestProvider) { tp.SetExpectedAuthCode("") })
		w := httptest.NewRecorder()
		f.callback(w, f.start(t, "/reports"))

		assert.Equal(http.StatusFound, w.Code)
		assert.Equal(oidc.DefaultRoute, w.Header().Get("Location"))
		s := f.session(t, w)
		assert.Nil(s.Identity)
		assert.Equal("User cancelled", s.Error)
		assert.Equal(0, f.tp.Hits("/token"))
	})
	t.Run("invalid-token", func(t *testing.T) {
		f := newTestFlow(t, func(tp *oidc.TestProvider) { tp.SetCustomClaims(map[string]interface{}{"iss": "https://mallory.example.com"}) })
		w := httptest.NewRecorder()
		f.callback(w, f.start(t, ""))
		assert.Equal(t, oidc.DefaultRoute, w.Header().Get("Location"))
		assert.Equal(t, oidc.MsgToken, f.session(t, w).Error)
	})
	t.Run("ineligible", func(t *testing.T) {
		f := newTestFlow(t, nil)
		w := httptest.NewRecorder()
		f.callback(w, httptest.NewRequest(http.MethodGet, testApp+"/callback?code=c", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("custom-response-funcs", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f := newTestFlow(t, nil)
		c, err := oidc.NewConfig(f.tp.DiscoveryURL(), "test-client", "test-secret", oidc.WithProviderCA(f.tp.CACert()))
		require.NoError(err)
		a, err := oidc.NewRedirectFlowAuthenticator(c, nil, nil)
		require.NoError(err)
		var got *oidc.Attempt
		h, err := RedirectFlow(a, f.sessions, nil, func(at *oidc.Attempt, _ *Session, w http.ResponseWriter, _ *http.Request) {
			got = at
			w.WriteHeader(http.StatusUnauthorized)
		})
		require.NoError(err)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, testApp+"/callback?state=s&scope=openid&code=c", nil))
		// an unconfigured authenticator supports nothing
		assert.Equal(http.StatusBadRequest, w.Code)
		assert.Nil(got)
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()
	_, err := Login(nil, NewMemorySessionStore(0))
	assert.ErrorIs(t, err, oidc.ErrInvalidParameter)

	t.Run("records-target-path", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f := newTestFlow(t, nil)
		w := httptest.NewRecorder()
		f.login(w, httptest.NewRequest(http.MethodGet, testApp+"/login?_target_path=%2Freports", nil))
		require.Equal(http.StatusFound, w.Code)

		link, err := url.Parse(w.Header().Get("Location"))
		require.NoError(err)
		assert.Equal(testApp+oidc.DefaultCallbackPath, link.Query().Get("redirect_uri"))
		state, err := oidc.ParseState(link.Query().Get("state"))
		require.NoError(err)
		assert.Equal("/reports", state.Get(oidc.DefaultTargetPathParameter))
		assert.Equal("/reports", f.session(t, w).TargetPath(oidc.DefaultProviderKey))
	})
	t.Run("ignores-foreign-target", func(t *testing.T) {
		f := newTestFlow(t, nil)
		w := httptest.NewRecorder()
		f.login(w, httptest.NewRequest(http.MethodGet, testApp+"/login?_target_path=https%3A%2F%2Fevil.example.com", nil))
		require.Equal(t, http.StatusFound, w.Code)
		link, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		state, err := oidc.ParseState(link.Query().Get("state"))
		require.NoError(t, err)
		assert.Empty(t, state.Get(oidc.DefaultTargetPathParameter))
		assert.Empty(t, f.session(t, w).TargetPath(oidc.DefaultProviderKey))
	})
	t.Run("provider-unavailable", func(t *testing.T) {
		f := newTestFlow(t, func(tp *oidc.TestProvider) { tp.SetDiscoveryFailure(true) })
		w := httptest.NewRecorder()
		f.login(w, httptest.NewRequest(http.MethodGet, testApp+"/login", nil))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, oidc.DefaultRoute, w.Header().Get("Location"))
		assert.Equal(t, oidc.MsgConfiguration, f.session(t, w).Error)
	})
}

func TestIsLocalPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/reports?month=june", true},
		{"", false},
		{"reports", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com/", false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, IsLocalPath(tt.path), "path %q", tt.path)
	}
}
