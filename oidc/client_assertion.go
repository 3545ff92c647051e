// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-openid/jwt"
	"github.com/hashicorp/go-uuid"
)

// ClientAssertionType is the client_assertion_type of a JWT client
// assertion.  See: https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// clientAssertionLifetime is how long a signed assertion is valid.
const clientAssertionLifetime = 5 * time.Minute

// minSecretLen is the shortest client secret accepted per HMAC algorithm.
var minSecretLen = map[jose.SignatureAlgorithm]int{
	jose.HS256: 32,
	jose.HS384: 48,
	jose.HS512: 64,
}

// ClientAssertion authenticates the client at the token endpoint with a
// signed JWT (private_key_jwt, or client_secret_jwt) instead of sending the
// client secret.  A new assertion is signed for every code exchange with the
// token endpoint as its audience.
type ClientAssertion struct {
	signer jose.Signer
	genID  func() (string, error)
}

// NewPrivateKeyAssertion creates a private_key_jwt assertion signer.  The
// key must be an RSA, ECDSA or Ed25519 private key matching alg.  keyID is
// optional and sent as the "kid" header.
func NewPrivateKeyAssertion(key crypto.PrivateKey, alg jwt.Alg, keyID string) (*ClientAssertion, error) {
	const op = "NewPrivateKeyAssertion"
	if key == nil {
		return nil, fmt.Errorf("%s: private key is nil: %w", op, ErrNilParameter)
	}
	if err := jwt.SupportedSigningAlgorithm(alg); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	var matches bool
	switch k := key.(type) {
	case *rsa.PrivateKey:
		matches = strings.HasPrefix(string(alg), "RS") || strings.HasPrefix(string(alg), "PS")
		if matches {
			if err := k.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
			}
		}
	case *ecdsa.PrivateKey:
		matches = strings.HasPrefix(string(alg), "ES")
	case ed25519.PrivateKey:
		matches = alg == jwt.EdDSA
	}
	if !matches {
		return nil, fmt.Errorf("%s: %T can't sign %s: %w", op, key, alg, ErrInvalidParameter)
	}
	return newClientAssertion(op, jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, keyID)
}

// NewSecretAssertion creates a client_secret_jwt assertion signer using one
// of HS256, HS384 or HS512.  The secret must be at least as long as the
// algorithm's hash: 32, 48 or 64 bytes.
func NewSecretAssertion(secret ClientSecret, alg string) (*ClientAssertion, error) {
	const op = "NewSecretAssertion"
	a := jose.SignatureAlgorithm(alg)
	minLen, ok := minSecretLen[a]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported algorithm %q for client secret: %w", op, alg, ErrInvalidParameter)
	}
	if len(secret) < minLen {
		return nil, fmt.Errorf("%s: %s secret must be at least %d bytes: %w", op, alg, minLen, ErrInvalidParameter)
	}
	return newClientAssertion(op, jose.SigningKey{Algorithm: a, Key: []byte(secret)}, "")
}

func newClientAssertion(op string, key jose.SigningKey, keyID string) (*ClientAssertion, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyID != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), keyID)
	}
	signer, err := jose.NewSigner(key, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create signer: %w: %w", op, ErrInvalidParameter, err)
	}
	return &ClientAssertion{signer: signer, genID: uuid.GenerateUUID}, nil
}

// Sign returns an assertion for clientID addressed to the token endpoint.
func (a *ClientAssertion) Sign(clientID, tokenEndpoint string, now time.Time) (string, error) {
	const op = "ClientAssertion.Sign"
	switch {
	case clientID == "":
		return "", fmt.Errorf("%s: client id is empty: %w", op, ErrConfiguration)
	case tokenEndpoint == "":
		return "", fmt.Errorf("%s: token endpoint is empty: %w", op, ErrConfiguration)
	}
	id, err := a.genID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate token id: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	now = now.UTC()
	claims := josejwt.Claims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  josejwt.Audience{tokenEndpoint},
		Expiry:    josejwt.NewNumericDate(now.Add(clientAssertionLifetime)),
		NotBefore: josejwt.NewNumericDate(now.Add(-time.Second)),
		IssuedAt:  josejwt.NewNumericDate(now),
		ID:        id,
	}
	raw, err := josejwt.Signed(a.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign assertion: %w", op, err)
	}
	return raw, nil
}

// WithClientAssertion provides an optional ClientAssertion for the
// RedirectFlowAuthenticator's code exchange, which then no longer sends the
// client secret.
func WithClientAssertion(a *ClientAssertion) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withClientAssertion = a
		}
	}
}
