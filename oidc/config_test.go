// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestClientSecret_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedClientSecret
		secret := ClientSecret("bob's phone number")
		assert.Equalf(want, secret.String(), "ClientSecret.String() = %v, want %v", secret.String(), want)
		assert.Equal(want, fmt.Sprintf("%v", secret))
	})
}

func TestClientSecret_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedClientSecret)
		secret := ClientSecret("bob's phone number")
		got, err := secret.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "ClientSecret.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestNewConfig(t *testing.T) {
	t.Parallel()
	testCaPem := TestGenerateCA(t, []string{"localhost"})
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	const discoveryURL = "https://accounts.example.com/.well-known/openid-configuration"

	tests := []struct {
		name      string
		url       string
		opt       []Option
		check     func(*assert.Assertions, *Config)
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "defaults",
			url:  discoveryURL,
			check: func(assert *assert.Assertions, c *Config) {
				assert.Equal(DefaultUsernameClaim, c.UsernameClaim)
				assert.Equal([]string{"ROLE_USER"}, c.DefaultRoles)
				assert.True(c.ForceSSL)
				assert.False(c.VerifyUserInfo)
				assert.Equal(SignaturePolicyStrict, c.SignaturePolicy)
				assert.Equal("/callback", c.CallbackPath)
				assert.Equal("/", c.DefaultRoute)
				assert.Equal("_target_path", c.TargetPathParameter)
				assert.Equal("openid", c.ProviderKey)
				assert.Equal(2*time.Second, c.Timeout)
				assert.Equal(time.Hour, c.CacheTTL)
				assert.Empty(c.Scopes)
				assert.Empty(c.HostedDomain)
			},
		},
		{
			name: "valid-with-all-valid-opts",
			url:  discoveryURL,
			opt: []Option{
				WithHostedDomain("example.com"),
				WithScopes("openid", "email", "email", "profile"),
				WithUsernameClaim("preferred_username"),
				WithDefaultRoles("ROLE_USER", "ROLE_STAFF"),
				WithVerifyUserInfo(true),
				WithForceSSL(false),
				WithSignaturePolicy(SignaturePolicyPermissive),
				WithProviderCA(testCaPem),
				WithCallbackPath("/login/check-openid"),
				WithDefaultRoute("/home"),
				WithTargetPathParameter("return_to"),
				WithProviderKey("main"),
				WithTimeout(5 * time.Second),
				WithCacheTTL(10 * time.Minute),
				WithNow(testNow),
			},
			check: func(assert *assert.Assertions, c *Config) {
				assert.Equal("example.com", c.HostedDomain)
				assert.Equal([]string{"openid", "email", "profile"}, c.Scopes)
				assert.Equal("preferred_username", c.UsernameClaim)
				assert.Equal([]string{"ROLE_USER", "ROLE_STAFF"}, c.DefaultRoles)
				assert.True(c.VerifyUserInfo)
				assert.False(c.ForceSSL)
				assert.Equal(SignaturePolicyPermissive, c.SignaturePolicy)
				assert.Equal(testCaPem, c.ProviderCA)
				assert.Equal("/login/check-openid", c.CallbackPath)
				assert.Equal("/home", c.DefaultRoute)
				assert.Equal("return_to", c.TargetPathParameter)
				assert.Equal("main", c.ProviderKey)
				assert.Equal(5*time.Second, c.Timeout)
				assert.Equal(10*time.Minute, c.CacheTTL)
				assert.True(c.Now().Before(time.Now()))
			},
		},
		{
			name: "no-default-roles",
			url:  discoveryURL,
			opt:  []Option{WithDefaultRoles()},
			check: func(assert *assert.Assertions, c *Config) {
				assert.Empty(c.DefaultRoles)
			},
		},
		{
			name:      "empty-discovery-url",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-scheme",
			url:       "ftp://example.com/.well-known/openid-configuration",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "empty-username-claim",
			url:       discoveryURL,
			opt:       []Option{WithUsernameClaim(" ")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "relative-callback-path",
			url:       discoveryURL,
			opt:       []Option{WithCallbackPath("callback")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "unknown-policy",
			url:       discoveryURL,
			opt:       []Option{WithSignaturePolicy("lenient")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "zero-timeout",
			url:       discoveryURL,
			opt:       []Option{WithTimeout(0)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "zero-cache-ttl",
			url:       discoveryURL,
			opt:       []Option{WithCacheTTL(0)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-ca",
			url:       discoveryURL,
			opt:       []Option{WithProviderCA("bad cert")},
			wantErr:   true,
			wantIsErr: ErrInvalidCACert,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.url, "client-id", "client-secret", tt.opt...)
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.ErrorIs(err, tt.wantIsErr)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.url, got.DiscoveryURL)
			assert.Equal("client-id", got.ClientID)
			assert.Equal(ClientSecret("client-secret"), got.ClientSecret)
			if tt.check != nil {
				tt.check(assert, got)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	var c *Config
	require.ErrorIs(t, c.Validate(), ErrNilParameter)
}

func TestConfig_HttpClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := NewConfig("https://example.com/.well-known/openid-configuration", "id", "secret", WithTimeout(3*time.Second))
	require.NoError(err)

	client, err := c.HttpClient()
	require.NoError(err)
	assert.Equal(3*time.Second, client.Timeout)

	ctx := HttpClientContext(context.Background(), client)
	assert.Equal(client, ctx.Value(oauth2.HTTPClient))

	c.ProviderCA = "bad cert"
	_, err = c.HttpClient()
	assert.ErrorIs(err, ErrInvalidCACert)
}
