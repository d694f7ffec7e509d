// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrIdGeneratorFailed    = errors.New("id generation failed")
	ErrResponseStateInvalid = errors.New("oidc response state")
	ErrMissingIdToken       = errors.New("id_token is missing")
	ErrMissingExpiry        = errors.New("access_token expiry is missing")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrNotFound             = errors.New("not found")
	ErrNotDiscovered        = errors.New("provider not discovered")
	ErrNoNavigator          = errors.New("no navigator")

	// ErrDiscovery is a network or parse failure while fetching the
	// provider's metadata.
	ErrDiscovery = errors.New("discovery failed")

	// ErrTokenExchange is a malformed or rejected code or refresh exchange.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrInteractionRequired means no token can be issued without the user
	// re-authenticating with the provider. It is an expected outcome, not a
	// failure.
	ErrInteractionRequired = errors.New("interaction required")

	// ErrTransientRefresh is a silent refresh failure that isn't resolved by
	// asking the user to log in.
	ErrTransientRefresh = errors.New("silent refresh failed")
)

// ProviderError represents an oauth2 error response returned by the provider,
// either as redirect parameters or as a token endpoint response body. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider error %q", e.Code)
	}
	return fmt.Sprintf("provider error %q: %s", e.Code, e.Description)
}
