// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capsession keeps the OIDC session of an application current across every
// execution context (tab, window or process) it runs in: it discovers the
// provider, logs the user in with the authorization code flow and PKCE,
// silently refreshes tokens, and publishes whether the user is authenticated.
//
// See the oidc, session, storage and callback packages.
package capsession
