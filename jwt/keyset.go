// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"fmt"

	"github.com/go-jose/go-jose/v4/jwt"
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {

	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

type staticKey struct {
	id  string
	key crypto.PublicKey
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	keys []staticKey
	algs []Alg
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet that verifies JWT signatures using
// PEM-encoded public keys.  The given keys must be of PEM-encoded x509
// certificate or PKIX public key forms.  Supported options: WithAllowedAlgs
func NewStaticKeySet(keys []SigningKey, opt ...Option) (*StaticKeySet, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("public keys must not be empty: %w", ErrNoKeys)
	}
	opts := getKeySetOpts(opt...)
	if err := SupportedSigningAlgorithm(opts.withAllowedAlgs...); err != nil {
		return nil, err
	}
	parsed := make([]staticKey, 0, len(keys))
	for _, k := range keys {
		key, err := ParsePublicKeyPEM([]byte(k.PEM))
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, staticKey{id: k.KeyID, key: key})
	}

	return &StaticKeySet{
		keys: parsed,
		algs: opts.withAllowedAlgs,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature and returns
// the claims in its payload. The given JWT must be of the JWS compact
// serialization form and signed with one of the allowed algorithms.
//
// The key whose id matches the token's "kid" header is used; a token without
// a matching kid is verified with the first key of the set.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	parsedJWT, err := jwt.ParseSigned(token, joseAlgs(ks.algs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrInvalidSignature)
	}

	key := ks.keys[0].key
	if len(parsedJWT.Headers) > 0 && parsedJWT.Headers[0].KeyID != "" {
		for _, k := range ks.keys {
			if k.id == parsedJWT.Headers[0].KeyID {
				key = k.key
				break
			}
		}
	}

	allClaims := map[string]interface{}{}
	if err := parsedJWT.Claims(key, &allClaims); err != nil {
		return nil, fmt.Errorf("no known key successfully validated the token signature: %w", ErrInvalidSignature)
	}

	return allClaims, nil
}
