// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/cap-openid/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// SignerKind is how an identity token's signature is checked.
type SignerKind int

const (
	// SignerNone performs no signature check; trust rests on the
	// constraints alone.
	SignerNone SignerKind = iota

	// SignerAsymmetric verifies the signature with the provider's published
	// public keys.
	SignerAsymmetric
)

// String returns the signer kind's name.
func (k SignerKind) String() string {
	switch k {
	case SignerNone:
		return "none"
	case SignerAsymmetric:
		return "asymmetric"
	default:
		return fmt.Sprintf("SignerKind(%d)", int(k))
	}
}

// TrustConfiguration is the signer and the ordered constraints for one
// authentication attempt.  It's built fresh for every attempt.
type TrustConfiguration struct {
	Signer      SignerKind
	Keys        SigningKeySet
	Algorithms  []jwt.Alg
	Constraints []Constraint
}

// Describe returns the signer followed by every constraint's description, in
// order.
func (tc *TrustConfiguration) Describe() []string {
	d := make([]string, 0, len(tc.Constraints)+1)
	d = append(d, fmt.Sprintf("Signer(%s)", tc.Signer))
	for _, c := range tc.Constraints {
		d = append(d, c.String())
	}
	return d
}

// Assert verifies the token's signature when the signer is asymmetric and
// then asserts every constraint.  All violations are reported together
// wrapped in ErrTokenValidation.
func (tc *TrustConfiguration) Assert(ctx context.Context, t *IdentityToken) error {
	const op = "TrustConfiguration.Assert"
	if t == nil {
		return fmt.Errorf("%s: identity token is nil: %w: %w", op, ErrTokenValidation, ErrNilParameter)
	}
	switch tc.Signer {
	case SignerAsymmetric:
		ks, err := tc.Keys.KeySet(tc.Algorithms...)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
		}
		if _, err := ks.VerifySignature(ctx, string(t.Raw())); err != nil {
			return fmt.Errorf("%s: %w: %w: %w", op, ErrTokenValidation, ErrInvalidSignature, err)
		}
	case SignerNone:
	default:
		return fmt.Errorf("%s: unknown signer %s: %w", op, tc.Signer, ErrConfiguration)
	}

	var violations *multierror.Error
	for _, c := range tc.Constraints {
		if err := c.Assert(ctx, t); err != nil {
			violations = multierror.Append(violations, err)
		}
	}
	if err := violations.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTokenValidation, err)
	}
	return nil
}

// TrustConfigurationFactory builds a TrustConfiguration per attempt from the
// Config and the live Discovery state.
type TrustConfigurationFactory struct {
	config    *Config
	discovery *Discovery
	client    *http.Client
	logger    hclog.Logger
	now       func() time.Time
}

// NewTrustConfigurationFactory creates a factory.
//
// Supported options: WithLogger, WithNow
func NewTrustConfigurationFactory(c *Config, d *Discovery, opt ...Option) (*TrustConfigurationFactory, error) {
	const op = "NewTrustConfigurationFactory"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%s: discovery is nil: %w", op, ErrNilParameter)
	}
	opts := getFactoryOpts(opt...)
	now := opts.withNowFunc
	if now == nil {
		now = c.Now
	}
	return &TrustConfigurationFactory{
		config:    c,
		discovery: d,
		client:    d.HTTPClient(),
		logger:    opts.withLogger.Named("trust"),
		now:       now,
	}, nil
}

// Build assembles the constraints and selects the signer.  It fails with
// ErrConfiguration when the provider's issuer is unavailable, or when no
// asymmetric signer can be selected under SignaturePolicyStrict.
func (f *TrustConfigurationFactory) Build(ctx context.Context) (*TrustConfiguration, error) {
	const op = "TrustConfigurationFactory.Build"
	constraints := []Constraint{
		LooseValidAt{Now: f.now, Leeway: DefaultLeeway},
	}
	if f.config.ClientID != "" {
		constraints = append(constraints, PermittedFor{Audience: f.config.ClientID})
	}
	if f.config.HostedDomain != "" {
		constraints = append(constraints, HostedDomain{Domain: f.config.HostedDomain})
	}
	issuer, err := f.discovery.RequireString(ctx, MetadataIssuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	constraints = append(constraints, IssuedBy{Issuer: issuer})
	if f.config.VerifyUserInfo {
		if endpoint := f.discovery.GetString(ctx, MetadataUserInfoEndpoint, ""); endpoint != "" {
			constraints = append(constraints, UserInfoEndpoint{Endpoint: endpoint, Client: f.client})
		}
	}

	signer, keys, algs, err := f.selectSigner(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TrustConfiguration{
		Signer:      signer,
		Keys:        keys,
		Algorithms:  algs,
		Constraints: constraints,
	}, nil
}

// selectSigner chooses the signer from the capability tuple (keysAvailable,
// algorithmSupported) and the signature policy.
func (f *TrustConfigurationFactory) selectSigner(ctx context.Context) (SignerKind, SigningKeySet, []jwt.Alg, error) {
	const op = "TrustConfigurationFactory.selectSigner"
	algs := f.discovery.SupportedAlgs(ctx)
	keys, err := f.discovery.SigningKeys(ctx)
	if err != nil {
		f.logger.Warn("signing keys unavailable", "error", err)
		keys = nil
	}
	keysAvailable, algorithmSupported := len(keys) > 0, len(algs) > 0

	switch {
	case keysAvailable && algorithmSupported:
		return SignerAsymmetric, keys, algs, nil
	case f.discovery.VerificationDisabled():
		f.logger.Warn("signature verification is disabled, trusting id_token claims only")
		return SignerNone, nil, nil, nil
	case f.config.SignaturePolicy == SignaturePolicyPermissive:
		f.logger.Warn("provider can't be verified with an asymmetric signature, trusting id_token claims only",
			"keys_available", keysAvailable, "algorithm_supported", algorithmSupported)
		return SignerNone, nil, nil, nil
	default:
		return SignerNone, nil, nil, fmt.Errorf("%s: no asymmetric signer (keys available: %t, algorithm supported: %t): %w",
			op, keysAvailable, algorithmSupported, ErrConfiguration)
	}
}

// factoryOptions is the set of available options for TrustConfigurationFactory
type factoryOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

func factoryDefaults() factoryOptions {
	return factoryOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getFactoryOpts(opt ...Option) factoryOptions {
	opts := factoryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
