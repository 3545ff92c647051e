// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-openid/jwt"
	"github.com/hashicorp/cap-openid/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/cap-openid/sdk/http"
	"github.com/stretchr/testify/require"
)

const (
	// TestProviderKeyID is the "kid" of the TestProvider's signing key.
	TestProviderKeyID = "test-provider-key"

	// TestProviderUsername is the "email" claim of the TestProvider's tokens.
	TestProviderUsername = "alice@example.com"
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier.  It serves discovery, key set,
// authorization, token and user-info endpoints over TLS.  Most of this is
// from Consul's oauthtest package with a few changes so it could become part
// of this package's public testing API.  A big thanks to the original
// contributors to Consul's oauthtest package.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	publicKey  crypto.PublicKey
	privateKey crypto.PrivateKey

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	assertionKey        interface{}
	expectedAuthCode    string
	authNonce           string
	allowedRedirectURIs []string
	subject             string
	customClaims        map[string]interface{}
	expiry              time.Duration
	omitIDToken         bool
	omitAccessToken     bool
	disableUserInfo     bool
	disableJWKS         bool
	failDiscovery       bool
	userInfoSubject     string
	supportedAlgs       []string
	responseTypes       []string
	scopes              []string
	tokenDelay          time.Duration
	hits                map[string]int
}

// StartTestProvider creates a disposable TestProvider that is stopped when
// the test finishes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		expectedAuthCode: "test-code",
		subject:          "alice-sub",
		expiry:           5 * time.Minute,
		supportedAlgs:    []string{string(jwt.RS256)},
		responseTypes:    []string{"code", "id_token"},
		scopes:           []string{"openid", "email", "profile"},
		hits:             map[string]int{},
	}
	p.publicKey, p.privateKey = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// DiscoveryURL returns the provider's well-known openid-configuration URL.
func (p *TestProvider) DiscoveryURL() string {
	return p.Addr() + "/.well-known/openid-configuration"
}

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client that trusts the provider's TLS certificate.
func (p *TestProvider) HTTPClient() *http.Client {
	client, err := sdkHttp.NewClient(p.caCert, 0)
	if err != nil {
		panic(err)
	}
	return client
}

// SigningKeys returns the test provider's keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (crypto.PublicKey, crypto.PrivateKey) {
	return p.publicKey, p.privateKey
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  The token endpoint checks them when they're set.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetClientAssertionKey configures the key the token endpoint verifies client
// assertions with: the client's public key for private_key_jwt or its secret
// as []byte for client_secret_jwt.
func (p *TestProvider) SetClientAssertionKey(key interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionKey = key
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.  Defaults to "test-code".
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the redirect URIs the token
// endpoint accepts.  When none are configured any redirect URI is accepted.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the "sub" of issued tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims lets you set claims to return in the JWT issued by the OIDC
// workflow.  A nil value removes a default claim.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetExpiry configures how long issued tokens are valid.  A negative value
// issues expired tokens.
func (p *TestProvider) SetExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiry = d
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitAccessTokens makes the /token endpoint reply without an access_token.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableJWKS omits jwks_uri from the discovery config and makes /certs
// return 404.
func (p *TestProvider) DisableJWKS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableJWKS = true
}

// SetDiscoveryFailure makes the discovery endpoint return 500.
func (p *TestProvider) SetDiscoveryFailure(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDiscovery = fail
}

// SetUserInfoSubject configures the "sub" returned by /userinfo.  Defaults to
// the token subject.
func (p *TestProvider) SetUserInfoSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoSubject = sub
}

// SetSupportedAlgs configures the advertised id_token signing algorithms.
func (p *TestProvider) SetSupportedAlgs(algs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supportedAlgs = algs
}

// SetResponseTypes configures the advertised response types.
func (p *TestProvider) SetResponseTypes(types ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseTypes = types
}

// SetScopes configures the advertised scopes.
func (p *TestProvider) SetScopes(scopes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes = scopes
}

// SetTokenDelay delays every /token reply.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// Hits returns how many requests path received.
func (p *TestProvider) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// IssueIDToken returns an id_token signed with the provider's key, as the
// token endpoint would issue it, with additional claims merged in.
func (p *TestProvider) IssueIDToken(t *testing.T, additional map[string]interface{}) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.issueIDToken(additional)
	require.NoError(t, err)
	return raw
}

// issueIDToken must be called with p.mu held.
func (p *TestProvider) issueIDToken(additional map[string]interface{}) (string, error) {
	claims := map[string]interface{}{"sub": p.subject}
	if p.authNonce != "" {
		claims["nonce"] = p.authNonce
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}
	for k, v := range additional {
		claims[k] = v
	}
	return signJWT(p.privateKey, jwt.RS256, testDefaultClaims(p.Addr(), p.clientID, p.expiry, claims), TestProviderKeyID)
}

// clientAuthenticated checks the request's client secret or client assertion.
// It must be called with p.mu held.
func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	if req.FormValue("client_assertion_type") != ClientAssertionType {
		return p.assertionKey == nil && req.FormValue("client_secret") == p.clientSecret
	}
	if p.assertionKey == nil || req.FormValue("client_secret") != "" {
		return false
	}
	tk, err := josejwt.ParseSigned(req.FormValue("client_assertion"), jwt.ParseAlgorithms())
	if err != nil {
		return false
	}
	var claims josejwt.Claims
	if err := tk.Claims(p.assertionKey, &claims); err != nil {
		return false
	}
	return claims.ValidateWithLeeway(josejwt.Expected{
		Issuer:      p.clientID,
		Subject:     p.clientID,
		AnyAudience: josejwt.Audience{p.Addr() + "/token"},
		Time:        time.Now(),
	}, 0) == nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&scope=" + url.QueryEscape(qv.Get("scope")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	p.hits[req.URL.Path]++
	delay := p.tokenDelay
	p.mu.Unlock()
	if req.URL.Path == "/token" && delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.failDiscovery {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		reply := struct {
			Issuer           string   `json:"issuer"`
			AuthEndpoint     string   `json:"authorization_endpoint"`
			TokenEndpoint    string   `json:"token_endpoint"`
			JWKSURI          string   `json:"jwks_uri,omitempty"`
			UserinfoEndpoint string   `json:"userinfo_endpoint,omitempty"`
			Scopes           []string `json:"scopes_supported,omitempty"`
			ResponseTypes    []string `json:"response_types_supported"`
			SigningAlgs      []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
			Scopes:           p.scopes,
			ResponseTypes:    p.responseTypes,
			SigningAlgs:      p.supportedAlgs,
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableJWKS {
			reply.JWKSURI = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if !strutils.StrListContains(p.responseTypes, qv.Get("response_type")) {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "User cancelled")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		p.authNonce = qv.Get("nonce")

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&scope=" + url.QueryEscape(qv.Get("scope")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.disableJWKS {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = p.writeJSON(w, &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{
					Key:       p.publicKey,
					KeyID:     TestProviderKeyID,
					Algorithm: string(jwt.RS256),
					Use:       "sig",
				},
			},
		})

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch {
		case req.FormValue("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case len(p.allowedRedirectURIs) > 0 && !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.clientID != "" && (req.FormValue("client_id") != p.clientID || !p.clientAuthenticated(req)):
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		}

		idToken, err := p.issueIDToken(nil)
		if err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		reply := struct {
			AccessToken string `json:"access_token,omitempty"`
			IDToken     string `json:"id_token,omitempty"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int64  `json:"expires_in"`
		}{
			AccessToken: "at-" + p.subject,
			IDToken:     idToken,
			TokenType:   "Bearer",
			ExpiresIn:   int64(p.expiry.Seconds()),
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		if p.omitAccessToken {
			reply.AccessToken = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sub := p.userInfoSubject
		if sub == "" {
			sub = p.subject
		}
		_ = p.writeJSON(w, map[string]interface{}{
			"sub":   sub,
			"email": TestProviderUsername,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
