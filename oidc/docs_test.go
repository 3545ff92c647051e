// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-openid/oidc"
)

func Example() {
	ctx := context.Background()

	// Create a new Config
	c, err := oidc.NewConfig(
		"https://your-issuer.com/.well-known/openid-configuration",
		"your_client_id",
		"your_client_secret",
		oidc.WithHostedDomain("your-domain.com"),
	)
	if err != nil {
		// handle error
	}

	// Discovery fetches the provider's metadata and keys on demand
	d, err := oidc.NewDiscoveryFromConfig(c, nil)
	if err != nil {
		// handle error
	}
	f, err := oidc.NewTrustConfigurationFactory(c, d)
	if err != nil {
		// handle error
	}
	roles := oidc.NewRoleChain([]oidc.RoleStrategy{
		oidc.ClaimRoleStrategy{Claim: "groups", Prefix: "ROLE_"},
	})

	// Build an authorization URL carrying a return path in its state
	b, err := oidc.NewAuthorizationLinkBuilder(c, d)
	if err != nil {
		// handle error
	}
	authURL, err := b.Build(ctx, nil, "https://your-app.com/callback", map[string]string{
		c.TargetPathParameter: "/reports",
	})
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", authURL)

	// Complete the flow when the provider redirects back
	a, err := oidc.NewRedirectFlowAuthenticator(c, f, roles, oidc.WithCSRFTokenManager(b.CSRFTokenManager()))
	if err != nil {
		// handle error
	}
	callbackHandler := func(w http.ResponseWriter, r *http.Request) {
		at := a.Run(r.Context(), r)
		switch at.Phase {
		case oidc.PhaseAuthenticated:
			fmt.Fprintf(w, "hello %s, your roles are %v", at.Identity.Username, at.Identity.Roles)
		case oidc.PhaseFailed:
			http.Error(w, oidc.PublicMessage(at.Err), http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}
	http.HandleFunc(c.CallbackPath, callbackHandler)
}

func ExampleBearerTokenAuthenticationProvider() {
	ctx := context.Background()
	c, err := oidc.NewConfig("https://your-issuer.com/.well-known/openid-configuration", "your_client_id", "your_client_secret")
	if err != nil {
		// handle error
	}
	d, err := oidc.NewDiscoveryFromConfig(c, nil)
	if err != nil {
		// handle error
	}
	f, err := oidc.NewTrustConfigurationFactory(c, d)
	if err != nil {
		// handle error
	}
	p, err := oidc.NewBearerTokenAuthenticationProvider(c, f, nil)
	if err != nil {
		// handle error
	}

	// re-validate an id_token presented as "Authorization: Bearer <id_token>"
	cred, err := p.Credential("<id_token>")
	if err != nil {
		// handle error
	}
	identity, err := p.Authenticate(ctx, cred)
	if err != nil {
		fmt.Println(oidc.PublicMessage(err))
		return
	}
	fmt.Println(identity.Username)
}

func ExampleSettings() {
	// OPENID_DISCOVERY, OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET, etc
	s, err := oidc.LoadSettings()
	if err != nil {
		// handle error
	}
	c, err := s.Config()
	if err != nil {
		// handle error
	}
	fmt.Println(c.DiscoveryURL)
}
