// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNoKeys           = errors.New("no signing keys")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidKeySet    = errors.New("invalid json web key set")
)
