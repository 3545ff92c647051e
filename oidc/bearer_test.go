// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/cap-openid/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otherCredential struct{}

func (otherCredential) Zone() string { return DefaultProviderKey }

func testBearerProvider(t *testing.T, tp *TestProvider, opt ...Option) (*BearerTokenAuthenticationProvider, *Metrics) {
	t.Helper()
	require := require.New(t)
	c := testConfig(t, tp)
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(err)
	roles := NewRoleChain([]RoleStrategy{ClaimRoleStrategy{Claim: "groups", Prefix: "ROLE_"}})
	p, err := NewBearerTokenAuthenticationProvider(c, testFactory(t, c), roles, append([]Option{WithMetrics(m)}, opt...)...)
	require.NoError(err)
	return p, m
}

func TestNewBearerTokenAuthenticationProvider(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	c := testConfig(t, tp)
	_, err := NewBearerTokenAuthenticationProvider(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewBearerTokenAuthenticationProvider(c, nil, nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestBearerTokenAuthenticationProvider_Authenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p, m := testBearerProvider(t, tp)
		cred, err := p.Credential(tp.IssueIDToken(t, map[string]interface{}{"groups": []string{"ops"}}))
		require.NoError(err)
		assert.True(p.Supports(cred))
		assert.Equal(TestProviderUsername, cred.Username())

		identity, err := p.Authenticate(ctx, cred)
		require.NoError(err)
		assert.Equal(DefaultProviderKey, identity.Zone)
		assert.Equal(TestProviderUsername, identity.Username)
		assert.Equal([]string{"ROLE_USER", "ROLE_ops"}, identity.Roles)
		assert.Equal(1.0, testutil.ToFloat64(m.authentications.WithLabelValues(FlowBearer, "success")))
		assert.Equal(0, tp.Hits("/token"))
	})
	t.Run("stale", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p, m := testBearerProvider(t, tp, WithNow(func() time.Time { return time.Now().Add(time.Hour) }))
		cred, err := p.Credential(tp.IssueIDToken(t, nil))
		require.NoError(err)
		before := tp.Hits("/.well-known/openid-configuration")

		_, err = p.Authenticate(ctx, cred)
		assert.ErrorIs(err, ErrStaleCredential)
		assert.ErrorIs(err, ErrAuthenticationFailed)
		assert.Equal(MsgStale, PublicMessage(err))
		assert.Equal(before, tp.Hits("/.well-known/openid-configuration"), "stale credentials are rejected before discovery")
		assert.Equal(1.0, testutil.ToFloat64(m.authentications.WithLabelValues(FlowBearer, KindStale)))
	})
	t.Run("forged", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p, _ := testBearerProvider(t, tp)
		_, otherKey := TestGenerateKeys(t)
		forged := TestSignJWT(t, otherKey, jwt.RS256, testDefaultClaims(tp.Addr(), testClientID, time.Minute, nil), TestProviderKeyID)
		cred, err := p.Credential(forged)
		require.NoError(err)
		_, err = p.Authenticate(ctx, cred)
		assert.ErrorIs(err, ErrInvalidSignature)
		assert.ErrorIs(err, ErrTokenValidation)
	})
	t.Run("wrong-audience", func(t *testing.T) {
		tp := StartTestProvider(t)
		p, _ := testBearerProvider(t, tp)
		cred, err := p.Credential(tp.IssueIDToken(t, map[string]interface{}{"aud": []string{"someone-else"}}))
		require.NoError(t, err)
		_, err = p.Authenticate(ctx, cred)
		assert.ErrorIs(t, err, ErrTokenValidation)
	})
	t.Run("unsupported", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p, _ := testBearerProvider(t, tp)
		otherZone, err := NewAccountTokenFromBearer(tp.IssueIDToken(t, nil), "github", DefaultUsernameClaim)
		require.NoError(t, err)
		for _, cred := range []Credential{otherZone, otherCredential{}, nil, (*AccountToken)(nil)} {
			assert.False(p.Supports(cred))
			_, err := p.Authenticate(ctx, cred)
			assert.ErrorIs(err, ErrUnsupportedCredential)
		}
	})
	t.Run("discovery-unavailable", func(t *testing.T) {
		tp := StartTestProvider(t)
		p, _ := testBearerProvider(t, tp)
		cred, err := p.Credential(tp.IssueIDToken(t, nil))
		require.NoError(t, err)
		tp.SetDiscoveryFailure(true)
		_, err = p.Authenticate(ctx, cred)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestNewAccountTokenFromBearer(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	raw := tp.IssueIDToken(t, nil)

	_, err := NewAccountTokenFromBearer(raw, "", DefaultUsernameClaim)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewAccountTokenFromBearer("not-a-jwt", DefaultProviderKey, DefaultUsernameClaim)
	assert.ErrorIs(t, err, ErrTokenValidation)
	_, err = NewAccountTokenFromBearer(raw, DefaultProviderKey, "preferred_username")
	assert.ErrorIs(t, err, ErrInvalidUsernameClaim)

	tk, err := NewAccountTokenFromBearer(raw, DefaultProviderKey, DefaultUsernameClaim)
	require.NoError(t, err)
	assert.Equal(t, DefaultProviderKey, tk.Zone())
	assert.Equal(t, raw, string(tk.Token().Raw()))
}

func TestBearerTokenAuthenticationProvider_Refresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	p, _ := testBearerProvider(t, tp)
	cred, err := p.Credential(tp.IssueIDToken(t, nil))
	require.NoError(err)
	identity, err := p.Authenticate(context.Background(), cred)
	require.NoError(err)

	refreshed, err := p.Refresh(identity)
	require.NoError(err)
	assert.Same(identity, refreshed)

	// the account token of an identity round-trips through the provider
	again, err := NewAccountToken(identity)
	require.NoError(err)
	_, err = p.Authenticate(context.Background(), again)
	assert.NoError(err)

	stale, _ := testBearerProvider(t, tp, WithNow(func() time.Time { return time.Now().Add(time.Hour) }))
	_, err = stale.Refresh(identity)
	assert.ErrorIs(err, ErrStaleCredential)

	_, err = p.Refresh(&AuthenticatedIdentity{Zone: "github", Token: identity.Token})
	assert.ErrorIs(err, ErrUnsupportedCredential)
	_, err = p.Refresh(nil)
	assert.ErrorIs(err, ErrStaleCredential)
	_, err = NewAccountToken(nil)
	assert.ErrorIs(err, ErrNilParameter)
}
