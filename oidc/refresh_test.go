// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestRequiresInteraction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want bool
	}{
		{code: "interaction_required", want: true},
		{code: "login_required", want: true},
		{code: "account_selection_required", want: true},
		{code: "consent_required", want: true},
		{code: "invalid_grant", want: false},
		{code: "server_error", want: false},
		{code: "", want: false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, RequiresInteraction(tt.code), "RequiresInteraction(%q)", tt.code)
	}
}

func TestClassifyRefreshError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantKind   RefreshOutcomeKind
		wantReason string
	}{
		{
			name:       "retrieve-login-required",
			err:        fmt.Errorf("wrapped: %w", &oauth2.RetrieveError{ErrorCode: "login_required"}),
			wantKind:   OutcomeInteractionRequired,
			wantReason: "login_required",
		},
		{
			name:       "provider-consent-required",
			err:        &ProviderError{Code: "consent_required"},
			wantKind:   OutcomeInteractionRequired,
			wantReason: "consent_required",
		},
		{
			name:       "retrieve-server-error",
			err:        &oauth2.RetrieveError{ErrorCode: "server_error"},
			wantKind:   OutcomeTransientFailure,
			wantReason: "server_error",
		},
		{
			name:     "network",
			err:      errors.New("connection refused"),
			wantKind: OutcomeTransientFailure,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			got := ClassifyRefreshError(tt.err)
			assert.Equal(tt.wantKind, got.Kind)
			assert.Equal(tt.wantReason, got.Reason)
			if tt.wantKind == OutcomeInteractionRequired {
				assert.NoError(got.Err)
				return
			}
			assert.ErrorIs(got.Err, ErrTransientRefresh)
			assert.ErrorIs(got.Err, tt.err)
		})
	}
}

func TestSilentRefresher_Attempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not-configured", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil)
		assert.False(e.refresher.Configured())

		got := e.refresher.Attempt(ctx)
		assert.Equal(OutcomeSuccess, got.Kind)
		assert.Nil(got.Token)
		assert.NoError(got.Err)
		assert.Zero(tp.DiscoveryRequests())
		assert.Zero(tp.TokenRequests())
		current, err := e.store.Current(ctx)
		require.NoError(err)
		assert.Nil(current)
	})
	t.Run("no-refresh-token", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		assert.True(e.refresher.Configured())

		got := e.refresher.Attempt(ctx)
		assert.Equal(OutcomeInteractionRequired, got.Kind)
		assert.Equal("login_required", got.Reason)
		assert.NoError(got.Err)
		assert.Zero(tp.TokenRequests())
	})
	t.Run("login-required", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")
		tp.SetRefreshError("login_required")

		got := e.refresher.Attempt(ctx)
		assert.Equal(OutcomeInteractionRequired, got.Kind)
		assert.Equal("login_required", got.Reason)
		assert.NoError(got.Err)

		current, err := e.store.Current(ctx)
		require.NoError(err)
		assert.Equal(before.Token, current)
	})
	t.Run("server-error", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")
		tp.SetRefreshError("server_error")

		got := e.refresher.Attempt(ctx)
		assert.Equal(OutcomeTransientFailure, got.Kind)
		assert.Equal("server_error", got.Reason)
		assert.ErrorIs(got.Err, ErrTransientRefresh)
		var re *oauth2.RetrieveError
		assert.True(errors.As(got.Err, &re))

		current, err := e.store.Current(ctx)
		require.NoError(err)
		assert.Equal(before.Token, current)
	})
	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")

		got := e.refresher.Attempt(ctx)
		require.Equal(OutcomeSuccess, got.Kind)
		require.NotNil(got.Token)
		assert.NotEqual(before.Token.AccessToken, got.Token.AccessToken)
		assert.NotEqual(before.Token.IdToken, got.Token.IdToken)
		assert.Equal(before.Token.RefreshToken, got.Token.RefreshToken)

		current, err := e.store.Current(ctx)
		require.NoError(err)
		assert.Equal(got.Token, current)
		assert.True(e.store.HasValidAccessToken(ctx))
	})
	t.Run("success-without-id-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")
		tp.OmitRefreshIdTokens()
		tp.SetRefreshToken("")

		got := e.refresher.Attempt(ctx)
		require.Equal(OutcomeSuccess, got.Kind)
		assert.Equal(before.Token.IdToken, got.Token.IdToken)
		assert.Equal(before.Token.Claims, got.Token.Claims)
		assert.Equal(before.Token.RefreshToken, got.Token.RefreshToken)
	})
	t.Run("no-expiry-keeps-previous", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")
		tp.OmitRefreshIdTokens()
		tp.SetExpiresIn(0)

		got := e.refresher.Attempt(ctx)
		require.Equal(OutcomeSuccess, got.Kind)
		assert.NotEqual(before.Token.AccessToken, got.Token.AccessToken)
		assert.Equal(before.Token.Expiry, got.Token.Expiry)
		assert.True(e.store.HasValidAccessToken(ctx))
	})
	t.Run("no-expiry-previous-expired", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		e := newTestEnv(t, tp, nil, WithSilentRefreshRedirectUrl(testSilentRefreshUrl))
		_, before := e.login(t, "/")
		expired := *before.Token
		expired.Expiry = time.Now().Add(-time.Minute).UTC().Round(0)
		require.NoError(e.store.Replace(ctx, &expired))
		tp.OmitRefreshIdTokens()
		tp.SetExpiresIn(0)

		got := e.refresher.Attempt(ctx)
		assert.Equal(OutcomeTransientFailure, got.Kind)
		assert.ErrorIs(got.Err, ErrTransientRefresh)
		assert.ErrorIs(got.Err, ErrMissingExpiry)

		current, err := e.store.Current(ctx)
		require.NoError(err)
		assert.Equal(&expired, current)
	})
}

func TestRefreshOutcomeKind_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("success", OutcomeSuccess.String())
	assert.Equal("interaction required", OutcomeInteractionRequired.String())
	assert.Equal("transient failure", OutcomeTransientFailure.String())
	assert.Equal("RefreshOutcomeKind(9)", RefreshOutcomeKind(9).String())
}
