// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// tokenSetFrom builds a TokenSet from a token endpoint response. The id_token
// is verified when present; it is required unless prev is given, in which case
// prev's id_token, claims and refresh_token are carried over when the response
// omits them. A response without expires_in or id_token keeps prev's expiry,
// as long as prev hasn't expired.
func (d *Discoverer) tokenSetFrom(ctx context.Context, t *oauth2.Token, nonce string, prev *TokenSet, sessionState string) (*TokenSet, error) {
	const op = "Discoverer.tokenSetFrom"
	if t == nil || t.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is missing: %w", op, ErrTokenExchange)
	}
	ts := &TokenSet{
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		TokenType:    t.TokenType,
		SessionState: sessionState,
		Expiry:       t.Expiry,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}

	raw, _ := t.Extra("id_token").(string)
	switch {
	case raw != "":
		v, err := d.VerifyIdToken(ctx, IdToken(raw), nonce)
		if err != nil {
			return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
		}
		ts.IdToken = v.Raw
		ts.Claims = v.Claims
		if ts.Expiry.IsZero() {
			// no expires_in: the access token lives as long as the id_token
			ts.Expiry = v.Expiry
		}
	case prev != nil:
		ts.IdToken = prev.IdToken
		ts.Claims = prev.Claims
		if ts.Expiry.IsZero() {
			if !prev.ValidAt(d.now()) {
				return nil, fmt.Errorf("%s: response has neither expires_in nor id_token: %w", op, ErrMissingExpiry)
			}
			ts.Expiry = prev.Expiry
		}
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	if prev != nil && ts.RefreshToken == "" {
		ts.RefreshToken = prev.RefreshToken
	}
	ts.Expiry = ts.Expiry.Round(0).UTC()
	return ts, nil
}

// providerErrorFrom extracts the provider's error response from err, if any.
func providerErrorFrom(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return &ProviderError{
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Uri:         re.ErrorURI,
		}, true
	}
	return nil, false
}
