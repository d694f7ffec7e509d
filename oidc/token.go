// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// TokenSet is the set of tokens held for the user. A TokenSet is never
// modified once created: acquiring or refreshing tokens produces a new one.
type TokenSet struct {
	AccessToken  AccessToken  `json:"access_token"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	IdToken      IdToken      `json:"id_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	Scope        string       `json:"scope,omitempty"`

	// SessionState is the provider's session_state, kept only when session
	// checks are enabled.
	SessionState string `json:"session_state,omitempty"`

	// Claims are the verified identity claims of the IdToken.
	Claims map[string]interface{} `json:"claims,omitempty"`

	// Expiry is when the AccessToken expires.
	Expiry time.Time `json:"expiry"`
}

// ValidAt returns true if the TokenSet has an access token that expires
// strictly after now. An access token expiring at exactly now is expired.
func (t *TokenSet) ValidAt(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.After(now)
}

// storedTokenSet is the persisted form of a TokenSet. Unlike TokenSet's JSON
// it doesn't redact anything.
type storedTokenSet struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	IdToken      string                 `json:"id_token,omitempty"`
	TokenType    string                 `json:"token_type,omitempty"`
	Scope        string                 `json:"scope,omitempty"`
	SessionState string                 `json:"session_state,omitempty"`
	Claims       map[string]interface{} `json:"claims,omitempty"`
	Expiry       time.Time              `json:"expiry"`
}

func encodeTokenSet(t *TokenSet) (string, error) {
	const op = "encodeTokenSet"
	b, err := json.Marshal(storedTokenSet{
		AccessToken:  string(t.AccessToken),
		RefreshToken: string(t.RefreshToken),
		IdToken:      string(t.IdToken),
		TokenType:    t.TokenType,
		Scope:        t.Scope,
		SessionState: t.SessionState,
		Claims:       t.Claims,
		Expiry:       t.Expiry,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(b), nil
}

func decodeTokenSet(raw string) (*TokenSet, error) {
	const op = "decodeTokenSet"
	var s storedTokenSet
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TokenSet{
		AccessToken:  AccessToken(s.AccessToken),
		RefreshToken: RefreshToken(s.RefreshToken),
		IdToken:      IdToken(s.IdToken),
		TokenType:    s.TokenType,
		Scope:        s.Scope,
		SessionState: s.SessionState,
		Claims:       s.Claims,
		Expiry:       s.Expiry,
	}, nil
}
