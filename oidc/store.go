// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/capsession/storage"
	"github.com/hashicorp/go-hclog"
)

// TokenKey is the storage key holding the current TokenSet. Every execution
// context sharing a storage reads and writes this key.
const TokenKey = "access_token"

// TokenStore holds the current TokenSet in shared storage. Reads always go
// through the storage so writes made by other execution contexts are seen.
type TokenStore struct {
	storage storage.Storage
	logger  hclog.Logger
	now     func() time.Time

	mu        sync.Mutex
	listeners []func(context.Context)
}

// NewTokenStore creates a TokenStore over s.
// Supported options:
//
//	WithLogger
//	WithNow
func NewTokenStore(s storage.Storage, opt ...Option) (*TokenStore, error) {
	const op = "NewTokenStore"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &TokenStore{
		storage: s,
		logger:  opts.withLogger,
		now:     opts.withNow,
	}, nil
}

// OnChange registers fn to be called after every Replace or Clear made
// through this store.
func (s *TokenStore) OnChange(fn func(context.Context)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the current TokenSet, or nil when there is none.
func (s *TokenStore) Current(ctx context.Context) (*TokenSet, error) {
	const op = "TokenStore.Current"
	raw, ok, err := s.storage.Get(ctx, TokenKey)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token set: %w", op, err)
	}
	if !ok {
		return nil, nil
	}
	t, err := decodeTokenSet(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decode token set: %w", op, err)
	}
	return t, nil
}

// Load returns the current TokenSet and whether its access token is valid
// now.
func (s *TokenStore) Load(ctx context.Context) (*TokenSet, bool, error) {
	t, err := s.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	return t, t.ValidAt(s.now()), nil
}

// HasValidAccessToken returns true iff a TokenSet exists and its expiry is
// strictly after now. A TokenSet that can't be read is not valid.
func (s *TokenStore) HasValidAccessToken(ctx context.Context) bool {
	_, valid, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("unable to load token set", "error", err)
		return false
	}
	return valid
}

// Replace stores t as the current TokenSet with a single write.
func (s *TokenStore) Replace(ctx context.Context, t *TokenSet) error {
	const op = "TokenStore.Replace"
	if t == nil {
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	raw, err := encodeTokenSet(t)
	if err != nil {
		return fmt.Errorf("%s: unable to encode token set: %w", op, err)
	}
	if err := s.storage.Set(ctx, TokenKey, raw); err != nil {
		return fmt.Errorf("%s: unable to write token set: %w", op, err)
	}
	s.logger.Debug("token received", "expiry", t.Expiry)
	s.notify(ctx)
	return nil
}

// Clear removes the current TokenSet.
func (s *TokenStore) Clear(ctx context.Context) error {
	const op = "TokenStore.Clear"
	if err := s.storage.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("%s: unable to delete token set: %w", op, err)
	}
	s.notify(ctx)
	return nil
}

func (s *TokenStore) notify(ctx context.Context) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}
