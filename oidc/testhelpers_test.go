// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"testing"

	"github.com/hashicorp/capsession/storage"
	"github.com/stretchr/testify/require"
)

const (
	testRedirectUrl      = "https://app.example.com/callback"
	testSilentRefreshUrl = "https://app.example.com/silent-refresh.html"
)

func testProviderConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{WithProviderCA(tp.CACert()), WithSupportedSigningAlgs(ES256)}, opt...)
	c, err := NewConfig(tp.Addr(), tp.ClientID(), testRedirectUrl, opts...)
	require.NoError(t, err)
	return c
}

// testEnv is one execution context's set of components.
type testEnv struct {
	tp         *TestProvider
	config     *Config
	storage    *storage.Memory
	discoverer *Discoverer
	store      *TokenStore
	refresher  *SilentRefresher
	initiator  *LoginInitiator
	completer  *LoginCompleter
}

func newTestEnv(t *testing.T, tp *TestProvider, shared *storage.Shared, opt ...Option) *testEnv {
	t.Helper()
	require := require.New(t)
	if shared == nil {
		shared = storage.NewShared()
	}
	e := &testEnv{
		tp:      tp,
		config:  testProviderConfig(t, tp, opt...),
		storage: shared.Open(),
	}
	t.Cleanup(func() { _ = e.storage.Close() })

	var err error
	e.discoverer, err = NewDiscoverer(e.config, opt...)
	require.NoError(err)
	e.store, err = NewTokenStore(e.storage, opt...)
	require.NoError(err)
	e.refresher, err = NewSilentRefresher(e.discoverer, e.store, opt...)
	require.NoError(err)
	e.initiator, err = NewLoginInitiator(e.discoverer, e.storage, opt...)
	require.NoError(err)
	e.completer, err = NewLoginCompleter(e.discoverer, e.store, e.storage, opt...)
	require.NoError(err)
	return e
}

// login runs a whole interactive login against the test provider and returns
// the provider's redirect location along with the result.
func (e *testEnv) login(t *testing.T, target string) (string, *LoginResult) {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()
	authURL, err := e.initiator.AuthURL(ctx, target)
	require.NoError(err)
	location, err := e.tp.Authorize(authURL)
	require.NoError(err)
	result, err := e.completer.CompleteLogin(ctx, location)
	require.NoError(err)
	require.NotNil(result)
	return location, result
}
