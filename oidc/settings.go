// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Settings is the relying party's externally stored configuration, read from
// the environment.  Scopes and DefaultRoles are space or comma separated.
type Settings struct {
	DiscoveryURL    string `env:"OPENID_DISCOVERY,required"`
	ClientID        string `env:"OAUTH_CLIENT_ID"`
	ClientSecret    string `env:"OAUTH_CLIENT_SECRET"`
	HostedDomain    string `env:"OPENID_HD"`
	Scopes          string `env:"OPENID_SCOPES"`
	UsernameClaim   string `env:"OPENID_USERNAME_CLAIM,default=email"`
	DefaultRoles    string `env:"OPENID_DEFAULT_ROLES,default=ROLE_USER"`
	VerifyUserInfo  bool   `env:"OPENID_VERIFY_USER_INFO,default=false"`
	ForceSSL        bool   `env:"OPENID_FORCE_SSL,default=true"`
	SignaturePolicy string `env:"OPENID_SIGNATURE_POLICY,default=strict"`
	ProviderCA      string `env:"OPENID_PROVIDER_CA"`
}

// LoadSettings decodes Settings from the environment.
func LoadSettings() (*Settings, error) {
	const op = "LoadSettings"
	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	return &s, nil
}

// Config converts the settings into a validated Config.  The opt are applied
// after the settings, so they take precedence.
func (s *Settings) Config(opt ...Option) (*Config, error) {
	const op = "Settings.Config"
	if s == nil {
		return nil, fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	settingsOpts := []Option{
		WithHostedDomain(s.HostedDomain),
		WithScopes(splitList(s.Scopes)...),
		WithDefaultRoles(splitList(s.DefaultRoles)...),
		WithVerifyUserInfo(s.VerifyUserInfo),
		WithForceSSL(s.ForceSSL),
		WithProviderCA(s.ProviderCA),
	}
	if s.UsernameClaim != "" {
		settingsOpts = append(settingsOpts, WithUsernameClaim(s.UsernameClaim))
	}
	if s.SignaturePolicy != "" {
		settingsOpts = append(settingsOpts, WithSignaturePolicy(SignaturePolicy(strings.ToLower(s.SignaturePolicy))))
	}
	c, err := NewConfig(s.DiscoveryURL, s.ClientID, ClientSecret(s.ClientSecret), append(settingsOpts, opt...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}
