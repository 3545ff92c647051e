// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/cap-openid/oidc/internal/strutils"
)

// Attribute keys set on a Passport and carried to the identity.
const (
	// AttributeTargetPath is the post-login return path found in the state.
	AttributeTargetPath = "target_path"
)

// Passport is the unverified result of a redirect callback: the exchanged
// token and who it claims to be.  VerifyCredentials turns it into an
// AuthenticatedIdentity.
type Passport struct {
	Zone        string
	Username    string
	Token       *IdentityToken
	AccessToken AccessToken
	Attributes  map[string]string

	// Nonce is the nonce bound into the state; the token must carry it.
	Nonce string
}

// AuthenticatedIdentity is the result of a successful authentication.  Its
// expiry is the token's own "exp" and is checked on every use.
type AuthenticatedIdentity struct {
	Zone        string
	Username    string
	Roles       []string
	Token       *IdentityToken
	AccessToken AccessToken
	Attributes  map[string]string
}

// HasRole reports whether the identity was granted role.
func (i *AuthenticatedIdentity) HasRole(role string) bool {
	return strutils.StrListContains(i.Roles, role)
}

// Expired reports whether the identity's token has expired at now.
func (i *AuthenticatedIdentity) Expired(now time.Time) bool {
	return i.Token == nil || i.Token.Expired(now)
}

// BearerCredential returns the raw id_token, which is what
// BearerTokenAuthenticationProvider re-validates on later requests.
func (i *AuthenticatedIdentity) BearerCredential() string {
	if i.Token == nil {
		return ""
	}
	return string(i.Token.Raw())
}

func copyAttributes(a map[string]string) map[string]string {
	if a == nil {
		return nil
	}
	c := make(map[string]string, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
