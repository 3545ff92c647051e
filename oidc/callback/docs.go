// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides http.HandlerFunc adapters for the OIDC
redirect flow: a Login handler that sends the browser to the provider's
authorization endpoint and a RedirectFlow handler that completes the flow on
the provider's callback.  Both keep per-browser state in a SessionStore.
*/
package callback
