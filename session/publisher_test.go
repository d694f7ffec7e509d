// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testWait = 5 * time.Second

func next(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a value")
	}
	return false
}

func assertQuiet(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func assertClosed(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.False(t, ok, "unexpected value %v", v)
	case <-time.After(testWait):
		t.Fatal("subscription not closed")
	}
}

func validToken(d time.Duration) *oidc.TokenSet {
	return &oidc.TokenSet{AccessToken: "at", Expiry: time.Now().Add(d).UTC().Round(0)}
}

func newTestPublisher(t *testing.T, s storage.Storage) (*Publisher, *oidc.TokenStore) {
	t.Helper()
	require := require.New(t)
	tokens, err := oidc.NewTokenStore(s)
	require.NoError(err)
	p, err := NewPublisher(context.Background(), tokens)
	require.NoError(err)
	t.Cleanup(p.Close)
	return p, tokens
}

func TestNewPublisher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("nil-tokens", func(t *testing.T) {
		_, err := NewPublisher(ctx, nil)
		assert.ErrorIs(t, err, oidc.ErrNilParameter)
	})
	t.Run("initial-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := storage.NewShared().Open()
		tokens, err := oidc.NewTokenStore(s)
		require.NoError(err)
		require.NoError(tokens.Replace(ctx, validToken(time.Hour)))

		p, err := NewPublisher(ctx, tokens)
		require.NoError(err)
		defer p.Close()
		assert.Equal(State{Authenticated: true}, p.State())
		assert.True(p.Authenticated())
		assert.False(p.InitialSequenceDone())
		assert.False(p.CanActivateProtectedRoutes())
	})
}

func TestPublisher_SubscribeAuthenticated(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, tokens := newTestPublisher(t, storage.NewShared().Open())

	ch := p.SubscribeAuthenticated(ctx)
	// every transition is delivered, even to a reader that isn't keeping up
	for i := 0; i < 3; i++ {
		require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
		p.Recompute(ctx)
		require.NoError(tokens.Clear(ctx))
		p.Recompute(ctx)
	}
	// recomputing without a change publishes nothing
	p.Recompute(ctx)

	want := []bool{false, true, false, true, false, true, false}
	for i, w := range want {
		assert.Equalf(w, next(t, ch), "value %d", i)
	}
	assertQuiet(t, ch)
}

func TestPublisher_InitialSequenceDone(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, tokens := newTestPublisher(t, storage.NewShared().Open())

	done := p.SubscribeInitialSequenceDone(ctx)
	canActivate := p.SubscribeCanActivateProtectedRoutes(ctx)
	assert.False(next(t, done))

	// authenticated before the sequence is done never activates routes
	require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
	p.Recompute(ctx)
	assert.True(p.Authenticated())
	assertQuiet(t, canActivate)

	p.MarkInitialSequenceDone(ctx)
	assert.True(next(t, done))
	assert.True(next(t, canActivate))
	assert.True(p.CanActivateProtectedRoutes())

	assertClosed(t, canActivate)

	p.MarkInitialSequenceDone(ctx)
	assertQuiet(t, done)

	late := p.SubscribeCanActivateProtectedRoutes(ctx)
	assert.True(next(t, late))
	assertClosed(t, late)

	// logging out never emits false
	require.NoError(tokens.Clear(ctx))
	p.Recompute(ctx)
	assert.False(p.CanActivateProtectedRoutes())
	waiting := p.SubscribeCanActivateProtectedRoutes(ctx)
	assertQuiet(t, waiting)

	require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
	p.Recompute(ctx)
	assert.True(next(t, waiting))
	assertClosed(t, waiting)
}

func TestPublisher_MarkInitialSequenceDone_Recomputes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	p, tokens := newTestPublisher(t, storage.NewShared().Open())

	// written without notifying the publisher
	require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
	assert.False(p.Authenticated())

	p.MarkInitialSequenceDone(ctx)
	assert.Equal(State{Authenticated: true, InitialSequenceDone: true}, p.State())
}

func TestPublisher_HandleStorageEvent(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	shared := storage.NewShared()
	p, _ := newTestPublisher(t, shared.Open())
	other, err := oidc.NewTokenStore(shared.Open())
	require.NoError(err)

	require.NoError(other.Replace(ctx, validToken(time.Hour)))
	p.HandleStorageEvent(ctx, storage.Event{Key: oidc.PendingLoginKey})
	assert.False(p.Authenticated(), "unrelated keys are ignored")

	p.HandleStorageEvent(ctx, storage.Event{Key: oidc.TokenKey})
	assert.True(p.Authenticated())

	require.NoError(shared.Open().Clear(ctx))
	p.HandleStorageEvent(ctx, storage.Event{})
	assert.False(p.Authenticated(), "a bulk clear is never ignored")
}

func TestPublisher_Watch(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	shared := storage.NewShared()
	handle := shared.Open()
	p, _ := newTestPublisher(t, handle)
	other, err := oidc.NewTokenStore(shared.Open())
	require.NoError(err)

	require.NoError(p.Watch(ctx, handle))
	ch := p.SubscribeAuthenticated(ctx)
	assert.False(next(t, ch))

	require.NoError(other.Replace(ctx, validToken(time.Hour)))
	assert.True(next(t, ch))
	require.NoError(other.Clear(ctx))
	assert.False(next(t, ch))

	cancel()
	p.watchers.Wait()

	require.NoError(handle.Close())
	assert.ErrorIs(p.Watch(context.Background(), handle), storage.ErrClosed)
}

func TestPublisher_Expiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, tokens := newTestPublisher(t, storage.NewShared().Open())

	ch := p.SubscribeAuthenticated(ctx)
	assert.False(next(t, ch))
	require.NoError(tokens.Replace(ctx, validToken(100*time.Millisecond)))
	p.Recompute(ctx)
	assert.True(next(t, ch))
	assert.False(next(t, ch), "expired tokens are noticed without any event")
}

func TestPublisher_StorageFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s := storage.NewShared().Open()
	p, tokens := newTestPublisher(t, s)
	require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
	p.Recompute(ctx)
	require.True(p.Authenticated())

	require.NoError(s.Close())
	p.Recompute(ctx)
	assert.False(p.Authenticated())
}

func TestPublisher_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s := storage.NewShared().Open()
	tokens, err := oidc.NewTokenStore(s)
	require.NoError(err)
	p, err := NewPublisher(ctx, tokens)
	require.NoError(err)

	authenticated := p.SubscribeAuthenticated(ctx)
	done := p.SubscribeInitialSequenceDone(ctx)
	require.NoError(tokens.Replace(ctx, validToken(time.Hour)))
	p.Recompute(ctx)

	p.Close()
	p.Close()
	p.Recompute(ctx)
	p.MarkInitialSequenceDone(ctx)

	// values published before Close are still delivered
	assert.False(next(t, authenticated))
	assert.True(next(t, authenticated))
	_, ok := <-authenticated
	assert.False(ok)
	assert.False(next(t, done))
	_, ok = <-done
	assert.False(ok)
	assert.False(p.InitialSequenceDone())

	_, ok = <-p.SubscribeCanActivateProtectedRoutes(ctx)
	assert.False(ok)
}
