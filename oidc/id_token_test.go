// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/cap-openid/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedIdToken
		tk := IdToken("super secret token")
		assert.Equalf(want, tk.String(), "IdToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestIdToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedIdToken)
		tk := IdToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "IdToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestAccessToken_redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk := AccessToken("super secret token")
	assert.Equal(RedactedAccessToken, tk.String())
	got, err := json.Marshal(struct{ Token AccessToken }{tk})
	require.NoError(err)
	assert.JSONEq(fmt.Sprintf(`{"Token":"%s"}`, RedactedAccessToken), string(got))
}

func TestParseIdentityToken(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	now := time.Now()
	claims := map[string]interface{}{
		"iss":    "https://example.com/",
		"sub":    "alice-sub",
		"aud":    "www.example.com",
		"exp":    now.Add(time.Minute).Unix(),
		"nbf":    now.Add(-time.Minute).Unix(),
		"email":  "alice@example.com",
		"count":  3,
		"blank":  "",
		"groups": []string{"admins", "staff"},
	}
	raw := TestSignJWT(t, priv, jwt.RS256, claims, "kid-1")

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := ParseIdentityToken(raw, WithAccessToken("at"))
		require.NoError(err)
		assert.Equal(IdToken(raw), tk.Raw())
		assert.Equal(AccessToken("at"), tk.AccessToken())
		assert.Equal("kid-1", tk.KeyID())
		assert.Equal("RS256", tk.Algorithm())
		assert.Equal("https://example.com/", tk.Issuer())
		assert.Equal("alice-sub", tk.Subject())
		assert.Equal([]string{"www.example.com"}, tk.Audience())
		assert.Equal(now.Add(time.Minute).Unix(), tk.Expiry().Unix())
		assert.Equal(now.Add(-time.Minute).Unix(), tk.NotBefore().Unix())
		assert.False(tk.Expired(now))
		assert.True(tk.Expired(now.Add(time.Hour)))

		email, ok := tk.StringClaim("email")
		assert.True(ok)
		assert.Equal("alice@example.com", email)
		_, ok = tk.StringClaim("blank")
		assert.False(ok)

		all := tk.Claims()
		all["email"] = "mallory@example.com"
		email, _ = tk.StringClaim("email")
		assert.Equal("alice@example.com", email, "Claims returns a copy")
	})
	t.Run("username", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk, err := ParseIdentityToken(raw)
		require.NoError(err)

		got, err := tk.Username("email")
		require.NoError(err)
		assert.Equal("alice@example.com", got)

		for _, claim := range []string{"missing", "count", "blank", "groups"} {
			_, err := tk.Username(claim)
			assert.ErrorIs(err, ErrInvalidUsernameClaim, claim)
			assert.ErrorIs(err, ErrTokenValidation, claim)
		}
	})
	t.Run("no-exp-is-expired", func(t *testing.T) {
		tk, err := ParseIdentityToken(TestSignJWT(t, priv, jwt.RS256, map[string]interface{}{"sub": "x"}, ""))
		require.NoError(t, err)
		assert.True(t, tk.Expired(now))
		assert.True(t, tk.Expiry().IsZero())
		assert.True(t, tk.NotBefore().IsZero())
	})
	t.Run("errors", func(t *testing.T) {
		_, err := ParseIdentityToken("")
		assert.ErrorIs(t, err, ErrMissingIdToken)
		_, err = ParseIdentityToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrTokenValidation)
	})
}
