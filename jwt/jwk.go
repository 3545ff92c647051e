// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey is a provider's public signing key normalized to PEM.
type SigningKey struct {
	// KeyID is the JWK "kid", which may be empty.
	KeyID string `json:"kid,omitempty"`

	// Algorithm is the JWK "alg", which may be empty.
	Algorithm string `json:"alg,omitempty"`

	// PEM is the PKIX "PUBLIC KEY" encoding of the key.
	PEM string `json:"pem"`
}

// ConvertJWKS converts a JSON Web Key Set document into PEM-encoded signing
// keys, in the order they are published.  Keys that are private, symmetric,
// intended for encryption or not understood are skipped rather than failing
// the whole set.
func ConvertJWKS(data []byte) ([]SigningKey, error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to decode key set: %w", ErrInvalidKeySet)
	}
	keys := make([]SigningKey, 0, len(raw.Keys))
	for _, r := range raw.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(r); err != nil {
			continue
		}
		if !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		p, err := EncodePublicKeyPEM(k.Key)
		if err != nil {
			continue
		}
		keys = append(keys, SigningKey{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			PEM:       p,
		})
	}
	return keys, nil
}

// EncodePublicKeyPEM encodes an RSA, ECDSA or Ed25519 public key as a PKIX
// "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return "", fmt.Errorf("unsupported public key type %T: %w", pub, ErrInvalidPublicKey)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("unable to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs.  The PEM may hold either a PKIX public key or an x509 certificate.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, fmt.Errorf("%s: %w", err, ErrInvalidPublicKey)
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, fmt.Errorf("data does not contain any valid RSA, ECDSA or Ed25519 public keys: %w", ErrInvalidPublicKey)
}
