// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/capsession/internal/broadcast"
	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/storage"
	"github.com/hashicorp/go-hclog"
)

// TokenLoader loads the current TokenSet and whether it's valid now.
type TokenLoader interface {
	Load(ctx context.Context) (*oidc.TokenSet, bool, error)
}

// State is a snapshot of the published session state.
type State struct {
	Authenticated       bool
	InitialSequenceDone bool
}

// CanActivateProtectedRoutes is true once the initial login sequence is done
// and the user is authenticated.
func (s State) CanActivateProtectedRoutes() bool {
	return s.InitialSequenceDone && s.Authenticated
}

// Publisher owns the session state of one execution context and publishes
// every change to it. authenticated is always derived from the TokenLoader,
// never cached across a recompute.
type Publisher struct {
	tokens TokenLoader
	logger hclog.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	expiry *time.Timer
	closed bool

	authenticated       *broadcast.Broadcaster[bool]
	initialSequenceDone *broadcast.Broadcaster[bool]
	canActivate         *broadcast.Broadcaster[bool]

	watchers sync.WaitGroup
}

// NewPublisher creates a Publisher and computes its initial state from
// tokens.
// Supported options:
//
//	WithLogger
//	WithNow
func NewPublisher(ctx context.Context, tokens TokenLoader, opt ...Option) (*Publisher, error) {
	const op = "session.NewPublisher"
	if tokens == nil {
		return nil, fmt.Errorf("%s: token loader is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	p := &Publisher{
		tokens:              tokens,
		logger:              opts.withLogger,
		now:                 opts.withNow,
		authenticated:       broadcast.New[bool](),
		initialSequenceDone: broadcast.New[bool](),
		canActivate:         broadcast.New[bool](),
	}
	p.Recompute(ctx)
	return p, nil
}

// State returns the current state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Authenticated returns whether the user currently has a valid access token.
func (p *Publisher) Authenticated() bool { return p.State().Authenticated }

// InitialSequenceDone returns whether the initial login sequence completed.
func (p *Publisher) InitialSequenceDone() bool { return p.State().InitialSequenceDone }

// CanActivateProtectedRoutes returns whether the sequence is done and the
// user is authenticated.
func (p *Publisher) CanActivateProtectedRoutes() bool {
	return p.State().CanActivateProtectedRoutes()
}

// SubscribeAuthenticated returns a channel receiving the current value of
// authenticated, then every transition in order. It's closed when ctx is done
// or the Publisher is closed.
func (p *Publisher) SubscribeAuthenticated(ctx context.Context) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated.Subscribe(ctx, p.state.Authenticated)
}

// SubscribeInitialSequenceDone returns a channel receiving the current value
// of initialSequenceDone, then its transition to true.
func (p *Publisher) SubscribeInitialSequenceDone(ctx context.Context) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialSequenceDone.Subscribe(ctx, p.state.InitialSequenceDone)
}

// SubscribeCanActivateProtectedRoutes returns a channel receiving true once,
// then closed. The value arrives immediately when the sequence is done and the
// user is authenticated, otherwise as soon as both hold. It never receives
// false.
func (p *Publisher) SubscribeCanActivateProtectedRoutes(ctx context.Context) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.CanActivateProtectedRoutes() {
		return p.canActivate.SubscribeOnce(ctx, true)
	}
	return p.canActivate.SubscribeOnce(ctx)
}

// Recompute derives authenticated from the current TokenSet and publishes it
// when it changed. While the token is valid, a recompute is scheduled for
// when it expires.
func (p *Publisher) Recompute(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.recompute(ctx)
}

func (p *Publisher) recompute(ctx context.Context) {
	ts, valid, err := p.tokens.Load(ctx)
	if err != nil {
		p.logger.Warn("unable to load token set", "error", err)
		valid = false
	}
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	if valid && ts != nil {
		if d := ts.Expiry.Sub(p.now()); d > 0 {
			p.expiry = time.AfterFunc(d, func() {
				p.logger.Debug("token expired")
				p.Recompute(context.Background())
			})
		}
	}
	p.update(State{Authenticated: valid, InitialSequenceDone: p.state.InitialSequenceDone})
}

// update must be called with p.mu held.
func (p *Publisher) update(next State) {
	prev := p.state
	p.state = next
	if prev.Authenticated != next.Authenticated {
		p.logger.Debug("authenticated changed", "authenticated", next.Authenticated)
		p.authenticated.Publish(next.Authenticated)
	}
	if prev.InitialSequenceDone != next.InitialSequenceDone {
		p.initialSequenceDone.Publish(next.InitialSequenceDone)
	}
	if !prev.CanActivateProtectedRoutes() && next.CanActivateProtectedRoutes() {
		p.canActivate.Publish(true)
	}
}

// MarkInitialSequenceDone recomputes authenticated, then marks the initial
// login sequence done. Only the first call changes anything.
func (p *Publisher) MarkInitialSequenceDone(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.recompute(ctx)
	if p.state.InitialSequenceDone {
		return
	}
	p.update(State{Authenticated: p.state.Authenticated, InitialSequenceDone: true})
}

// HandleStorageEvent recomputes authenticated when another execution context
// changed the token key or cleared the storage. Other keys are ignored.
func (p *Publisher) HandleStorageEvent(ctx context.Context, e storage.Event) {
	if !e.Cleared() && e.Key != oidc.TokenKey {
		return
	}
	p.logger.Debug("token changed in another context", "cleared", e.Cleared())
	p.Recompute(ctx)
}

// Watch handles the storage events of s until ctx is done or s is closed.
func (p *Publisher) Watch(ctx context.Context, s storage.Storage) error {
	const op = "Publisher.Watch"
	events, err := s.Watch(ctx)
	if err != nil {
		return fmt.Errorf("%s: unable to watch storage: %w", op, err)
	}
	p.watchers.Add(1)
	go func() {
		defer p.watchers.Done()
		for e := range events {
			p.HandleStorageEvent(ctx, e)
		}
	}()
	return nil
}

// Close stops publishing and closes every subscription. It doesn't stop
// Watch; cancel its ctx for that.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	p.authenticated.Close()
	p.initialSequenceDone.Close()
	p.canActivate.Close()
}
