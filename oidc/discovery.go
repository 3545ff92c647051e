// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/cap-openid/jwt"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Well-known provider metadata keys.
const (
	MetadataIssuer                 = "issuer"
	MetadataAuthorizationEndpoint  = "authorization_endpoint"
	MetadataTokenEndpoint          = "token_endpoint"
	MetadataUserInfoEndpoint       = "userinfo_endpoint"
	MetadataJWKSURI                = "jwks_uri"
	MetadataScopesSupported        = "scopes_supported"
	MetadataResponseTypesSupported = "response_types_supported"
	MetadataSigningAlgsSupported   = "id_token_signing_alg_values_supported"
)

const (
	metadataCachePrefix = "oidc_discovery-"
	keySetCachePrefix   = "oidc_jwks-"

	// maxDocumentSize limits provider metadata and key set documents.
	maxDocumentSize = 1 << 20
)

// Discovery fetches, caches and answers questions about a provider's
// metadata document and signing keys.  Nothing is fetched until a lookup
// needs it.  Discovery is safe for concurrent use.
type Discovery struct {
	url             string
	cache           Cache
	client          *http.Client
	ttl             time.Duration
	verifySignature bool
	logger          hclog.Logger
	metrics         *Metrics

	group singleflight.Group
}

// NewDiscovery creates a Discovery for the provider's well-known
// openid-configuration URL.  A nil cache uses a MemoryCache.
//
// Supported options: WithProviderCA, WithTimeout, WithCacheTTL, WithLogger,
// WithMetrics, WithoutSignatureVerification
func NewDiscovery(discoveryURL string, cache Cache, opt ...Option) (*Discovery, error) {
	const op = "NewDiscovery"
	if discoveryURL == "" {
		return nil, fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDiscoveryOpts(opt...)
	c := &Config{ProviderCA: opts.withProviderCA, Timeout: opts.withTimeout}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cache == nil {
		cache = NewMemoryCache(opts.withCacheTTL)
	}
	return &Discovery{
		url:             discoveryURL,
		cache:           cache,
		client:          client,
		ttl:             opts.withCacheTTL,
		verifySignature: !opts.withoutSignatureVerification,
		logger:          opts.withLogger.Named("discovery"),
		metrics:         opts.withMetrics,
	}, nil
}

// NewDiscoveryFromConfig creates a Discovery using the URL, CA, timeout and
// cache lifetime of c.
func NewDiscoveryFromConfig(c *Config, cache Cache, opt ...Option) (*Discovery, error) {
	const op = "NewDiscoveryFromConfig"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := append([]Option{
		WithProviderCA(c.ProviderCA),
		WithTimeout(c.Timeout),
		WithCacheTTL(c.CacheTTL),
	}, opt...)
	return NewDiscovery(c.DiscoveryURL, cache, opts...)
}

// URL returns the discovery URL.
func (d *Discovery) URL() string { return d.url }

// HTTPClient returns the client used for provider requests.
func (d *Discovery) HTTPClient() *http.Client { return d.client }

// VerificationDisabled reports whether signature verification was disabled
// with WithoutSignatureVerification.
func (d *Discovery) VerificationDisabled() bool { return !d.verifySignature }

// Get returns the metadata value for key, or def when the key is absent or
// the metadata can't be fetched.  It never fails.
func (d *Discovery) Get(ctx context.Context, key string, def interface{}) interface{} {
	md, err := d.metadata(ctx)
	if err != nil {
		d.logger.Debug("metadata unavailable, using default", "key", key, "error", err)
		return def
	}
	v, ok := md[key]
	if !ok || v == nil {
		return def
	}
	return v
}

// GetString returns the string metadata value for key, or def when it's
// absent or not a string.
func (d *Discovery) GetString(ctx context.Context, key, def string) string {
	s, ok := d.Get(ctx, key, def).(string)
	if !ok {
		return def
	}
	return s
}

// GetStrings returns the string list metadata value for key.  Non-string
// members are ignored.
func (d *Discovery) GetStrings(ctx context.Context, key string) []string {
	list, ok := d.Get(ctx, key, nil).([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// Require returns the metadata value for key.  It fails closed with
// ErrConfiguration when the metadata is unavailable or the key is missing or
// empty.
func (d *Discovery) Require(ctx context.Context, key string) (interface{}, error) {
	const op = "Discovery.Require"
	md, err := d.metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	v, ok := md[key]
	if !ok || v == nil || v == "" {
		return nil, fmt.Errorf("%s: provider metadata has no %q: %w", op, key, ErrConfiguration)
	}
	return v, nil
}

// RequireString is Require for string values.
func (d *Discovery) RequireString(ctx context.Context, key string) (string, error) {
	const op = "Discovery.RequireString"
	v, err := d.Require(ctx, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: provider metadata %q is a %T, not a string: %w", op, key, v, ErrConfiguration)
	}
	return s, nil
}

// SupportedAlgs returns the advertised id_token signing algorithms that can
// be verified, in the provider's order.
func (d *Discovery) SupportedAlgs(ctx context.Context) []jwt.Alg {
	return jwt.SupportedAlgs(d.GetStrings(ctx, MetadataSigningAlgsSupported)...)
}

// CanVerifySignature reports whether the provider's signing keys are
// available.
func (d *Discovery) CanVerifySignature(ctx context.Context) bool {
	keys, err := d.SigningKeys(ctx)
	return err == nil && len(keys) > 0
}

// SigningKeys returns the provider's public signing keys.  The set is empty
// when verification is disabled, or when the provider advertises no
// supported asymmetric algorithm or no jwks_uri.  It is never a reason to
// skip verification on its own.
func (d *Discovery) SigningKeys(ctx context.Context) (SigningKeySet, error) {
	const op = "Discovery.SigningKeys"
	if !d.verifySignature {
		return SigningKeySet{}, nil
	}
	if _, err := d.metadata(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(d.SupportedAlgs(ctx)) == 0 {
		return SigningKeySet{}, nil
	}
	jwksURI := d.GetString(ctx, MetadataJWKSURI, "")
	if jwksURI == "" {
		return SigningKeySet{}, nil
	}

	cacheKey := keySetCachePrefix + d.url
	if raw, ok := d.cached(ctx, cacheKey); ok {
		var keys SigningKeySet
		if err := json.Unmarshal(raw, &keys); err == nil {
			return keys, nil
		}
		d.logger.Warn("ignoring unreadable cached key set", "key", cacheKey)
	}

	v, err, _ := d.group.Do(cacheKey, func() (interface{}, error) {
		// shared by every waiting caller, so one caller going away must not
		// abort it; the client timeout still bounds it.
		ctx := context.WithoutCancel(ctx)
		body, err := d.fetch(ctx, DocumentKeySet, jwksURI)
		if err != nil {
			return nil, err
		}
		converted, err := jwt.ConvertJWKS(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryUnavailable, err)
		}
		keys := SigningKeySet(converted)
		raw, err := json.Marshal(keys)
		if err != nil {
			return nil, err
		}
		d.store(ctx, cacheKey, raw)
		return keys, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v.(SigningKeySet), nil
}

// metadata returns the provider metadata from the cache, fetching it on a
// miss.  Concurrent misses share one fetch.
func (d *Discovery) metadata(ctx context.Context) (map[string]interface{}, error) {
	const op = "Discovery.metadata"
	cacheKey := metadataCachePrefix + d.url
	if raw, ok := d.cached(ctx, cacheKey); ok {
		if md, err := decodeMetadata(raw); err == nil {
			return md, nil
		}
		d.logger.Warn("ignoring unreadable cached metadata", "key", cacheKey)
	}

	v, err, _ := d.group.Do(cacheKey, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		body, err := d.fetch(ctx, DocumentMetadata, d.url)
		if err != nil {
			return nil, err
		}
		md, err := decodeMetadata(body)
		if err != nil {
			return nil, err
		}
		d.store(ctx, cacheKey, body)
		return md, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v.(map[string]interface{}), nil
}

func (d *Discovery) cached(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	return raw, ok
}

func (d *Discovery) store(ctx context.Context, key string, raw []byte) {
	if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
		d.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// fetch GETs a provider document.  Every failure wraps
// ErrDiscoveryUnavailable.
func (d *Discovery) fetch(ctx context.Context, document, url string) (body []byte, err error) {
	const op = "Discovery.fetch"
	defer func() { d.metrics.observeFetch(document, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscoveryUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w: %w", op, ErrDiscoveryUnavailable, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s returned %s: %w", op, url, resp.Status, ErrDiscoveryUnavailable)
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w: %w", op, ErrDiscoveryUnavailable, ErrNetwork, err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%s: %s is larger than %d bytes: %w", op, url, maxDocumentSize, ErrDiscoveryUnavailable)
	}
	d.logger.Debug("fetched provider document", "document", document, "url", url)
	return body, nil
}

func decodeMetadata(raw []byte) (map[string]interface{}, error) {
	const op = "decodeMetadata"
	var md map[string]interface{}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%s: metadata is not a JSON object: %w", op, ErrDiscoveryUnavailable)
	}
	if md == nil {
		return nil, fmt.Errorf("%s: metadata is empty: %w", op, ErrDiscoveryUnavailable)
	}
	return md, nil
}

// discoveryOptions is the set of available options for Discovery
type discoveryOptions struct {
	withProviderCA               string
	withTimeout                  time.Duration
	withCacheTTL                 time.Duration
	withLogger                   hclog.Logger
	withMetrics                  *Metrics
	withoutSignatureVerification bool
}

// discoveryDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func discoveryDefaults() discoveryOptions {
	return discoveryOptions{
		withTimeout:  DefaultTimeout,
		withCacheTTL: DefaultCacheTTL,
		withLogger:   hclog.NewNullLogger(),
	}
}

// getDiscoveryOpts gets the defaults and applies the opt overrides passed in.
func getDiscoveryOpts(opt ...Option) discoveryOptions {
	opts := discoveryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithoutSignatureVerification makes Discovery report an empty signing key
// set.  Trust configurations then never verify id_token signatures, so only
// use it when tokens arrive over a channel you already trust.
func WithoutSignatureVerification() Option {
	return func(o interface{}) {
		if o, ok := o.(*discoveryOptions); ok {
			o.withoutSignatureVerification = true
		}
	}
}
