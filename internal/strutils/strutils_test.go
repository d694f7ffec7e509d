// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrutil_ListContains(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	haystack := []string{
		"interaction_required",
		"login_required",
		"consent_required",
	}
	require.False(StrListContains(haystack, "server_error"))
	require.True(StrListContains(haystack, "login_required"))
}

func TestStrUtil_RemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		scopes          []string
		caseInsensitive bool
		want            []string
	}{
		{name: "empty", scopes: []string{}, want: []string{}},
		{name: "empty-case-insensitive", scopes: []string{}, caseInsensitive: true, want: []string{}},
		{name: "openid-repeated", scopes: []string{"openid", "email", "openid"}, want: []string{"openid", "email"}},
		{name: "case-kept", scopes: []string{"OpenID", "email", "openid"}, want: []string{"OpenID", "email", "openid"}},
		{name: "case-folded", scopes: []string{"OpenID", "email", "openid"}, caseInsensitive: true, want: []string{"OpenID", "email"}},
		{name: "blank-dropped", scopes: []string{" ", "profile", "email", "profile"}, want: []string{"profile", "email"}},
		{name: "trimmed-folded", scopes: []string{"Email ", " email", " email ", "phone"}, caseInsensitive: true, want: []string{"Email ", "phone"}},
		{name: "trimmed", scopes: []string{"Email ", " email", " email ", "phone"}, want: []string{"Email ", " email", "phone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveDuplicatesStable(tt.scopes, tt.caseInsensitive))
		})
	}
}

func TestStrUtil_SplitScopes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal([]string{"openid", "profile", "email", "offline_access"}, SplitScopes("openid profile,email  offline_access openid"))
	assert.Empty(SplitScopes(" , "))
}
