// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed = errors.New("id generation failed")
	ErrNotFound          = errors.New("not found")

	// ErrConfiguration means the relying party or the provider's metadata
	// can't support the attempt: discovery is missing or unusable, a required
	// endpoint isn't published, or no trusted signer could be selected.
	ErrConfiguration        = errors.New("configuration error")
	ErrDiscoveryUnavailable = errors.New("provider metadata unavailable")

	// ErrProtocol means the callback broke the redirect flow's contract:
	// the state is missing or forged, or the provider reported an error.
	ErrProtocol      = errors.New("protocol error")
	ErrProviderError = errors.New("provider error")
	ErrInvalidState  = errors.New("invalid state")

	// ErrNetwork means the provider could not be reached or timed out.
	ErrNetwork = errors.New("network error")

	// ErrTokenValidation means the identity token was missing, malformed or
	// violated at least one trust constraint.
	ErrTokenValidation      = errors.New("token validation failed")
	ErrMissingIdToken       = errors.New("id_token is missing")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidUsernameClaim = errors.New("invalid username claim")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrUserInfoFailed       = errors.New("user info failed")

	// ErrStaleCredential means a previously issued credential has passed its
	// own expiry and the user must sign in again.
	ErrStaleCredential       = errors.New("credential is stale")
	ErrUnsupportedCredential = errors.New("unsupported credential")

	// ErrAuthenticationFailed wraps every failure that leaves the
	// authenticator or the bearer provider.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// ProviderError is the error a provider reports on the redirect callback,
// for example when the user declines consent.
type ProviderError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider returned %q", e.Code)
	}
	return fmt.Sprintf("provider returned %q: %s", e.Code, e.Description)
}

// Unwrap allows errors.Is to match both ErrProviderError and ErrProtocol.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderError, ErrProtocol}
}

// Messages returned by PublicMessage.
const (
	MsgConfiguration = "Sign in is currently unavailable."
	MsgProtocol      = "The sign in request was invalid. Please try again."
	MsgNetwork       = "The identity provider could not be reached. Please try again."
	MsgToken         = "Your identity could not be verified."
	MsgStale         = "Your session has expired. Please sign in again."
	MsgFailed        = "Authentication failed."
)

// PublicMessage maps err to a message that is safe to show in a browser.  A
// provider's error_description is passed through; every other error becomes
// a generic message for its kind so provider internals never leak.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Description != "" {
		return pe.Description
	}
	switch ErrorKind(err) {
	case KindConfiguration:
		return MsgConfiguration
	case KindProtocol:
		return MsgProtocol
	case KindNetwork:
		return MsgNetwork
	case KindTokenValidation:
		return MsgToken
	case KindStale:
		return MsgStale
	default:
		return MsgFailed
	}
}

// Error kinds returned by ErrorKind.  They are also used as metric label
// values.
const (
	KindNone            = "none"
	KindConfiguration   = "configuration"
	KindProtocol        = "protocol"
	KindNetwork         = "network"
	KindTokenValidation = "token_validation"
	KindStale           = "stale_credential"
	KindOther           = "other"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStaleCredential):
		return KindStale
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrDiscoveryUnavailable):
		return KindConfiguration
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrTokenValidation):
		return KindTokenValidation
	default:
		return KindOther
	}
}

// authFailure wraps err so it matches both ErrAuthenticationFailed and the
// error kind it already carries.
func authFailure(err error) error {
	if err == nil || errors.Is(err, ErrAuthenticationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
}
