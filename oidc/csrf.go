// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCSRFTokenTTL is how long an issued CSRF token stays valid.
const DefaultCSRFTokenTTL = 10 * time.Minute

// CSRFTokenManager issues and checks the anti-forgery tokens bound into the
// redirect flow's state.
type CSRFTokenManager interface {
	// Token issues a new token for the given token id.
	Token(ctx context.Context, tokenID string) (string, error)

	// IsTokenValid reports whether value was issued for tokenID and is still
	// valid.
	IsTokenValid(ctx context.Context, tokenID, value string) bool
}

// MemoryCSRFTokenManager keeps issued tokens in process memory.  Each token
// is valid once.
type MemoryCSRFTokenManager struct {
	tokens *cache.Cache
}

var _ CSRFTokenManager = (*MemoryCSRFTokenManager)(nil)

// NewMemoryCSRFTokenManager creates a manager whose tokens expire after ttl.
// Expired tokens are evicted every ttl, so abandoned logins don't
// accumulate.
func NewMemoryCSRFTokenManager(ttl time.Duration) *MemoryCSRFTokenManager {
	if ttl <= 0 {
		ttl = DefaultCSRFTokenTTL
	}
	return &MemoryCSRFTokenManager{tokens: cache.New(ttl, ttl)}
}

// Token implements CSRFTokenManager.
func (m *MemoryCSRFTokenManager) Token(_ context.Context, tokenID string) (string, error) {
	const op = "MemoryCSRFTokenManager.Token"
	v, err := NewID(WithPrefix("csrf"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	m.tokens.SetDefault(csrfKey(tokenID, v), v)
	return v, nil
}

// IsTokenValid implements CSRFTokenManager.  A valid token is consumed.
func (m *MemoryCSRFTokenManager) IsTokenValid(_ context.Context, tokenID, value string) bool {
	if value == "" {
		return false
	}
	key := csrfKey(tokenID, value)
	stored, ok := m.tokens.Get(key)
	if !ok {
		return false
	}
	m.tokens.Delete(key)
	s, _ := stored.(string)
	return subtle.ConstantTimeCompare([]byte(s), []byte(value)) == 1
}

func csrfKey(tokenID, value string) string {
	return tokenID + "|" + value
}
