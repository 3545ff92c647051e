// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// randomBytes is the amount of entropy in every generated id.
const randomBytes = 20

// EncodedLen is the length of an id generated without a prefix.
var EncodedLen = base64.RawURLEncoding.EncodedLen(randomBytes)

// New generates a url-safe random ID with an optional prefix.  IDs are
// suitable for use as oidc nonces and anti-forgery tokens.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(randomBytes)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
