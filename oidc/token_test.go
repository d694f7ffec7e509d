// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_Redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token fmt.Stringer
		want  string
	}{
		{name: "access", token: AccessToken("super secret"), want: RedactedAccessToken},
		{name: "refresh", token: RefreshToken("super secret"), want: RedactedRefreshToken},
		{name: "id", token: IdToken("super secret"), want: RedactedIdToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.token.String())
			got, err := json.Marshal(tt.token)
			require.NoError(err)
			assert.Equal(fmt.Sprintf(`"%s"`, tt.want), string(got))
		})
	}
}

func TestTokenSet_ValidAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name  string
		token *TokenSet
		want  bool
	}{
		{name: "nil", token: nil, want: false},
		{name: "no-access-token", token: &TokenSet{Expiry: now.Add(time.Hour)}, want: false},
		{name: "future", token: &TokenSet{AccessToken: "at", Expiry: now.Add(time.Second)}, want: true},
		{name: "equal-is-expired", token: &TokenSet{AccessToken: "at", Expiry: now}, want: false},
		{name: "past", token: &TokenSet{AccessToken: "at", Expiry: now.Add(-time.Second)}, want: false},
		{name: "zero-expiry", token: &TokenSet{AccessToken: "at"}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.token.ValidAt(now))
		})
	}
}

func TestTokenSet_MarshalJSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ts := &TokenSet{
		AccessToken:  "raw-access",
		RefreshToken: "raw-refresh",
		IdToken:      "raw-id",
		Expiry:       time.Now().Add(time.Hour),
	}
	b, err := json.Marshal(ts)
	require.NoError(err)
	assert.NotContains(string(b), "raw-access")
	assert.NotContains(string(b), "raw-refresh")
	assert.NotContains(string(b), "raw-id")
}

func Test_encodeTokenSet(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	want := &TokenSet{
		AccessToken:  "raw-access",
		RefreshToken: "raw-refresh",
		IdToken:      "raw-id",
		TokenType:    "Bearer",
		SessionState: "ss",
		Claims:       map[string]interface{}{"sub": "alice"},
		Expiry:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := encodeTokenSet(want)
	require.NoError(err)
	assert.Contains(raw, "raw-access")

	got, err := decodeTokenSet(raw)
	require.NoError(err)
	assert.Equal(want, got)

	_, err = decodeTokenSet("{not json")
	assert.Error(err)
}
