// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/capsession/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenStore(t *testing.T) {
	t.Parallel()
	_, err := NewTokenStore(nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestTokenStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	testNow := func() time.Time { return now }

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s, err := NewTokenStore(storage.NewShared().Open(), WithNow(testNow))
		require.NoError(err)
		got, err := s.Current(ctx)
		require.NoError(err)
		assert.Nil(got)
		assert.False(s.HasValidAccessToken(ctx))
	})
	t.Run("replace-and-clear", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s, err := NewTokenStore(storage.NewShared().Open(), WithNow(testNow))
		require.NoError(err)
		var changes atomic.Int32
		s.OnChange(func(context.Context) { changes.Add(1) })
		s.OnChange(nil)

		assert.ErrorIs(s.Replace(ctx, nil), ErrNilParameter)

		want := &TokenSet{AccessToken: "at", RefreshToken: "rt", IdToken: "it", Expiry: now.Add(time.Minute)}
		require.NoError(s.Replace(ctx, want))
		got, err := s.Current(ctx)
		require.NoError(err)
		assert.Equal(want, got)
		assert.True(s.HasValidAccessToken(ctx))
		assert.Equal(int32(1), changes.Load())

		require.NoError(s.Clear(ctx))
		got, err = s.Current(ctx)
		require.NoError(err)
		assert.Nil(got)
		assert.False(s.HasValidAccessToken(ctx))
		assert.Equal(int32(2), changes.Load())
	})
	t.Run("expiry-boundary", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s, err := NewTokenStore(storage.NewShared().Open(), WithNow(testNow))
		require.NoError(err)

		require.NoError(s.Replace(ctx, &TokenSet{AccessToken: "at", Expiry: now}))
		assert.False(s.HasValidAccessToken(ctx))

		require.NoError(s.Replace(ctx, &TokenSet{AccessToken: "at", Expiry: now.Add(time.Nanosecond)}))
		_, valid, err := s.Load(ctx)
		require.NoError(err)
		assert.True(valid)
	})
	t.Run("shared-between-contexts", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		shared := storage.NewShared()
		a, err := NewTokenStore(shared.Open(), WithNow(testNow))
		require.NoError(err)
		b, err := NewTokenStore(shared.Open(), WithNow(testNow))
		require.NoError(err)

		require.NoError(a.Replace(ctx, &TokenSet{AccessToken: "at", Expiry: now.Add(time.Minute)}))
		assert.True(b.HasValidAccessToken(ctx))
		require.NoError(b.Clear(ctx))
		assert.False(a.HasValidAccessToken(ctx))
	})
	t.Run("unreadable", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		m := storage.NewShared().Open()
		s, err := NewTokenStore(m, WithNow(testNow))
		require.NoError(err)

		require.NoError(m.Set(ctx, TokenKey, "{corrupt"))
		_, err = s.Current(ctx)
		assert.Error(err)
		assert.False(s.HasValidAccessToken(ctx))

		require.NoError(m.Close())
		_, err = s.Current(ctx)
		assert.ErrorIs(err, storage.ErrClosed)
		assert.False(s.HasValidAccessToken(ctx))
		assert.ErrorIs(s.Replace(ctx, &TokenSet{AccessToken: "at"}), storage.ErrClosed)
	})
}
