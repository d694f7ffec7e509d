// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for keeping an OIDC client's tokens current using the
authorization code flow with PKCE.

# Primary types provided by the package

* Config: the relying party's configuration for one provider (client id,
optional secret, redirect URLs, scopes, supported signing algorithms, etc)

* Discoverer: fetches and caches the provider's discovery document and
verifies id_tokens with the provider's keys.

* TokenSet and TokenStore: the tokens held for the user, persisted in a
storage.Storage shared by every execution context of the application.

* LoginInitiator and LoginCompleter: start an interactive login by sending the
user agent to the provider, then complete it from the provider's redirect.

* SilentRefresher: acquires a new TokenSet without user interaction and
classifies failures as either requiring interaction or transient.

* Alg: represents asymmetric signing algorithms

The capsession/session package wires these together and publishes the
resulting session state.

# Testing

TestProvider is an OIDC provider running in an httptest TLS server which
supports discovery, the authorization code flow with PKCE and refresh
grants.
*/
package oidc
