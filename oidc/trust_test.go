// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/cap-openid/jwt"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
)

// testConfig returns a Config for the provider, which is told about the
// client credentials.
func testConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	tp.SetClientCreds(testClientID, testClientSecret)
	c, err := NewConfig(tp.DiscoveryURL(), testClientID, testClientSecret, append([]Option{WithProviderCA(tp.CACert())}, opt...)...)
	require.NoError(t, err)
	return c
}

func testFactory(t *testing.T, c *Config, opt ...Option) *TrustConfigurationFactory {
	t.Helper()
	d, err := NewDiscoveryFromConfig(c, nil, opt...)
	require.NoError(t, err)
	f, err := NewTrustConfigurationFactory(c, d)
	require.NoError(t, err)
	return f
}

func TestNewTrustConfigurationFactory(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	c := testConfig(t, tp)
	d, err := NewDiscoveryFromConfig(c, nil)
	require.NoError(t, err)

	_, err = NewTrustConfigurationFactory(nil, d)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewTrustConfigurationFactory(c, nil)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewTrustConfigurationFactory(&Config{}, d)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestTrustConfigurationFactory_Build(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("constraints", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := testConfig(t, tp, WithHostedDomain("example.com"), WithVerifyUserInfo(true))
		tc, err := testFactory(t, c).Build(ctx)
		require.NoError(err)
		assert.Equal(SignerAsymmetric, tc.Signer)
		assert.Equal([]string{TestProviderKeyID}, tc.Keys.KeyIDs())
		assert.Equal([]jwt.Alg{jwt.RS256}, tc.Algorithms)
		assert.Equal([]string{
			"Signer(asymmetric)",
			"LooseValidAt(leeway=1m0s)",
			"PermittedFor(test-client)",
			"HostedDomain(example.com)",
			"IssuedBy(" + tp.Addr() + ")",
			"UserInfoEndpoint(" + tp.Addr() + "/userinfo)",
		}, tc.Describe())
	})
	t.Run("minimal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.DisableUserInfo()
		c := testConfig(t, tp, WithVerifyUserInfo(true))
		c.ClientID = ""
		tc, err := testFactory(t, c).Build(ctx)
		require.NoError(err)
		assert.Equal([]string{
			"Signer(asymmetric)",
			"LooseValidAt(leeway=1m0s)",
			"IssuedBy(" + tp.Addr() + ")",
		}, tc.Describe())
	})
	t.Run("idempotent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		f := testFactory(t, testConfig(t, tp, WithHostedDomain("example.com")))
		first, err := f.Build(ctx)
		require.NoError(err)
		second, err := f.Build(ctx)
		require.NoError(err)
		assert.NotSame(first, second)
		assert.Equal(first.Describe(), second.Describe())
		assert.Equal(first.Keys, second.Keys)
	})
	t.Run("discovery-unavailable", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetDiscoveryFailure(true)
		_, err := testFactory(t, testConfig(t, tp)).Build(ctx)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestTrustConfigurationFactory_signer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name       string
		setup      func(*TestProvider)
		policy     SignaturePolicy
		discovery  []Option
		wantSigner SignerKind
		wantErr    error
	}{
		{
			name:       "keys-and-alg",
			policy:     SignaturePolicyStrict,
			wantSigner: SignerAsymmetric,
		},
		{
			name:    "strict-empty-key-set-with-rs256",
			setup:   func(tp *TestProvider) { tp.DisableJWKS() },
			policy:  SignaturePolicyStrict,
			wantErr: ErrConfiguration,
		},
		{
			name:    "strict-no-supported-alg",
			setup:   func(tp *TestProvider) { tp.SetSupportedAlgs("HS256") },
			policy:  SignaturePolicyStrict,
			wantErr: ErrConfiguration,
		},
		{
			name:       "permissive-empty-key-set-with-rs256",
			setup:      func(tp *TestProvider) { tp.DisableJWKS() },
			policy:     SignaturePolicyPermissive,
			wantSigner: SignerNone,
		},
		{
			name:       "permissive-no-supported-alg",
			setup:      func(tp *TestProvider) { tp.SetSupportedAlgs("HS256") },
			policy:     SignaturePolicyPermissive,
			wantSigner: SignerNone,
		},
		{
			name:       "verification-disabled",
			policy:     SignaturePolicyStrict,
			discovery:  []Option{WithoutSignatureVerification()},
			wantSigner: SignerNone,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			if tt.setup != nil {
				tt.setup(tp)
			}
			f := testFactory(t, testConfig(t, tp, WithSignaturePolicy(tt.policy)), tt.discovery...)
			tc, err := f.Build(ctx)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantSigner, tc.Signer)
		})
	}
}

func TestTrustConfiguration_Assert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	f := testFactory(t, testConfig(t, tp))
	tc, err := f.Build(ctx)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		tk, err := ParseIdentityToken(tp.IssueIDToken(t, nil))
		require.NoError(t, err)
		assert.NoError(t, tc.Assert(ctx, tk))
	})
	t.Run("forged-signature", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, otherKey := TestGenerateKeys(t)
		claims := testDefaultClaims(tp.Addr(), testClientID, time.Minute, nil)
		forged := TestSignJWT(t, otherKey, jwt.RS256, claims, TestProviderKeyID)
		tk, err := ParseIdentityToken(forged)
		require.NoError(err)
		err = tc.Assert(ctx, tk)
		assert.ErrorIs(err, ErrTokenValidation)
		assert.ErrorIs(err, ErrInvalidSignature)
	})
	t.Run("every-violation-reported", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := ParseIdentityToken(tp.IssueIDToken(t, map[string]interface{}{
			"iss": "https://mallory.example.com",
			"aud": []string{"mallory"},
		}))
		require.NoError(err)
		err = tc.Assert(ctx, tk)
		require.ErrorIs(err, ErrTokenValidation)
		var merr *multierror.Error
		require.ErrorAs(err, &merr)
		assert.Len(merr.Errors, 2)
	})
	t.Run("nil-token", func(t *testing.T) {
		assert.ErrorIs(t, tc.Assert(ctx, nil), ErrTokenValidation)
	})
	t.Run("empty-key-set-never-verifies", func(t *testing.T) {
		forgedTC := &TrustConfiguration{Signer: SignerAsymmetric, Algorithms: []jwt.Alg{jwt.RS256}}
		tk, err := ParseIdentityToken(tp.IssueIDToken(t, nil))
		require.NoError(t, err)
		assert.ErrorIs(t, forgedTC.Assert(ctx, tk), ErrConfiguration)
	})
}

func TestSignerKind_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("none", SignerNone.String())
	assert.Equal("asymmetric", SignerAsymmetric.String())
	assert.Equal("SignerKind(7)", SignerKind(7).String())
}
