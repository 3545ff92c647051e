// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// cap-openid provides a collection of related packages for signing users in
// with an OpenID Connect provider: provider discovery, id_token trust
// configuration, the authorization code redirect flow and bearer re-validation
// (oidc), JWT signature verification (jwt) and the HTTP adapters built on them
// (oidc/callback, oidc/middleware).
//
// See README.md
package cap
