// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"github.com/hashicorp/cap-openid/jwt"
)

// SigningKeySet is a provider's public signing keys in published order.
type SigningKeySet []jwt.SigningKey

// First returns the first published key, which verifies tokens that don't
// name a key.
func (s SigningKeySet) First() (jwt.SigningKey, bool) {
	if len(s) == 0 {
		return jwt.SigningKey{}, false
	}
	return s[0], true
}

// KeyIDs returns the ids of the keys in the set.
func (s SigningKeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s))
	for _, k := range s {
		ids = append(ids, k.KeyID)
	}
	return ids
}

// KeySet returns a jwt.KeySet verifying signatures made with algs by any key
// of the set.
func (s SigningKeySet) KeySet(algs ...jwt.Alg) (*jwt.StaticKeySet, error) {
	return jwt.NewStaticKeySet(s, jwt.WithAllowedAlgs(algs...))
}
