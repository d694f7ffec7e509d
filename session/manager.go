// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Manager is the session of one execution context: it wires the oidc
// components to a storage handle and publishes the resulting state.
type Manager struct {
	storage   storage.Storage
	logger    hclog.Logger
	navigator oidc.Navigator

	discoverer *oidc.Discoverer
	tokens     *oidc.TokenStore
	refresher  *oidc.SilentRefresher
	initiator  *oidc.LoginInitiator
	completer  *oidc.LoginCompleter
	publisher  *Publisher
	sequencer  *Sequencer

	cancelWatch context.CancelFunc
}

// NewManager creates a Manager for the config over the storage handle s,
// which it owns from then on: Close closes s when it's an io.Closer. Changes
// made to s by other execution contexts are watched until Close.
// Supported options:
//
//	WithLogger
//	WithNow
//	WithNavigator
func NewManager(ctx context.Context, c *oidc.Config, s storage.Storage, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	oidcOpts := []oidc.Option{
		oidc.WithLogger(opts.withLogger.Named("oidc")),
		oidc.WithNow(opts.withNow),
		oidc.WithNavigator(opts.withNavigator),
	}

	m := &Manager{
		storage:   s,
		logger:    opts.withLogger,
		navigator: opts.withNavigator,
	}
	var err error
	if m.discoverer, err = oidc.NewDiscoverer(c, oidcOpts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.tokens, err = oidc.NewTokenStore(s, oidcOpts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.refresher, err = oidc.NewSilentRefresher(m.discoverer, m.tokens, oidcOpts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.initiator, err = oidc.NewLoginInitiator(m.discoverer, s, oidcOpts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.completer, err = oidc.NewLoginCompleter(m.discoverer, m.tokens, s, oidcOpts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.publisher, err = NewPublisher(ctx, m.tokens, WithLogger(opts.withLogger.Named("publisher")), WithNow(opts.withNow)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.tokens.OnChange(m.publisher.Recompute)

	if m.sequencer, err = NewSequencer(m.discoverer, m.completer, m.tokens, m.refresher, m.publisher, WithLogger(opts.withLogger.Named("sequencer"))); err != nil {
		m.publisher.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := m.publisher.Watch(watchCtx, s); err != nil {
		cancel()
		m.publisher.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.cancelWatch = cancel
	return m, nil
}

// RunInitialLoginSequence runs the initial login sequence for the current
// location, which may carry the provider's authorization response.
func (m *Manager) RunInitialLoginSequence(ctx context.Context, location string) (Result, error) {
	return m.sequencer.Run(ctx, location)
}

// CompleteLogin completes a login from the provider's redirect location.
func (m *Manager) CompleteLogin(ctx context.Context, location string) (*oidc.LoginResult, error) {
	return m.completer.CompleteLogin(ctx, location)
}

// Login sends the user agent to the provider's login page. targetURL defaults
// to "/".
func (m *Manager) Login(ctx context.Context, targetURL string) error {
	return m.initiator.BeginInteractiveLogin(ctx, targetURL)
}

// AuthURL returns the provider's login URL without navigating to it.
func (m *Manager) AuthURL(ctx context.Context, targetURL string) (string, error) {
	return m.initiator.AuthURL(ctx, targetURL)
}

// Logout clears the TokenSet, then sends the user agent to the provider's end
// session endpoint when it has one and a Navigator was configured.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "Manager.Logout"
	idToken := m.IdToken(ctx)
	if err := m.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	u, ok, err := m.initiator.LogoutURL(ctx, idToken)
	switch {
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	case !ok || m.navigator == nil:
		return nil
	}
	if err := m.initiator.Navigate(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LogoutURL returns the provider's end session URL for the current id_token,
// or "" when the provider has none.
func (m *Manager) LogoutURL(ctx context.Context) string {
	u, _, err := m.initiator.LogoutURL(ctx, m.IdToken(ctx))
	if err != nil {
		m.logger.Warn("unable to build logout url", "error", err)
		return ""
	}
	return u
}

// Refresh attempts a silent refresh.
func (m *Manager) Refresh(ctx context.Context) oidc.RefreshOutcome {
	outcome := m.refresher.Attempt(ctx)
	switch outcome.Kind {
	case oidc.OutcomeTransientFailure:
		m.logger.Error("silent refresh failed", "error", outcome.Err)
	case oidc.OutcomeInteractionRequired:
		m.logger.Warn("user interaction is required to log in", "reason", outcome.Reason)
	}
	return outcome
}

// HasValidToken returns whether there's a valid access token.
func (m *Manager) HasValidToken(ctx context.Context) bool {
	return m.tokens.HasValidAccessToken(ctx)
}

func (m *Manager) current(ctx context.Context) *oidc.TokenSet {
	ts, err := m.tokens.Current(ctx)
	if err != nil {
		m.logger.Warn("unable to read token set", "error", err)
		return nil
	}
	return ts
}

// AccessToken returns the current access token, or "" when there's none.
func (m *Manager) AccessToken(ctx context.Context) oidc.AccessToken {
	if ts := m.current(ctx); ts != nil {
		return ts.AccessToken
	}
	return ""
}

// RefreshToken returns the current refresh token, or "" when there's none.
func (m *Manager) RefreshToken(ctx context.Context) oidc.RefreshToken {
	if ts := m.current(ctx); ts != nil {
		return ts.RefreshToken
	}
	return ""
}

// IdToken returns the current id_token, or "" when there's none.
func (m *Manager) IdToken(ctx context.Context) oidc.IdToken {
	if ts := m.current(ctx); ts != nil {
		return ts.IdToken
	}
	return ""
}

// IdentityClaims returns the claims of the current id_token. It's never nil.
func (m *Manager) IdentityClaims(ctx context.Context) map[string]interface{} {
	if ts := m.current(ctx); ts != nil && ts.Claims != nil {
		return ts.Claims
	}
	return map[string]interface{}{}
}

// State returns the published session state.
func (m *Manager) State() State {
	return m.publisher.State()
}

// Publisher returns the session state publisher.
func (m *Manager) Publisher() *Publisher {
	return m.publisher
}

// Discoverer returns the provider's discovery client.
func (m *Manager) Discoverer() *oidc.Discoverer {
	return m.discoverer
}

// Close stops watching the storage and closes both the Publisher and the
// storage handle.
func (m *Manager) Close() error {
	const op = "Manager.Close"
	m.cancelWatch()
	m.publisher.watchers.Wait()
	m.publisher.Close()

	var result *multierror.Error
	if c, ok := m.storage.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to close storage: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
