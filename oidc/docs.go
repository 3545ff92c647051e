// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for authenticating users of an OIDC provider with the
authorization code flow and for re-validating the id_tokens it issues.

Primary types provided by the package

* Config: the provider's settings (discovery URL, client id/secret, hosted
domain, scopes, username claim, default roles, signature policy, etc).  It can
be loaded from the environment with LoadSettings.

* Discovery: the provider's metadata document and signing keys, fetched from
the discovery URL on demand and kept in a Cache (in memory or redis).

* TrustConfigurationFactory: builds a TrustConfiguration per attempt, which is
the signer (asymmetric, or none) and the ordered constraints an id_token must
satisfy: LooseValidAt, PermittedFor, HostedDomain, IssuedBy and optionally
UserInfoEndpoint.

* AuthorizationLinkBuilder: builds the provider's authorization URL with a
state that binds a CSRF token, the request's nonce and extra entries such as
a return path.

* RedirectFlowAuthenticator: completes the flow on the provider's callback,
driving Eligible, Exchanging and Validating to Authenticated or Failed.

* BearerTokenAuthenticationProvider: re-validates an id_token presented as a
bearer credential on later requests.

* RoleChain: derives an identity's roles from a chain of RoleStrategy.

The oidc.callback package

The callback package provides http.HandlerFunc adapters for the login redirect
and the provider's callback, keeping per-browser state in a SessionStore.

The oidc.middleware package

The middleware package authenticates "Authorization: Bearer" requests and
browser sessions, putting the identity on the request's context.
*/
package oidc
