// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capsession/storage"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// PendingLoginKey is the storage key holding the PendingLogin between
// BeginInteractiveLogin and CompleteLogin.
const PendingLoginKey = "pending_login"

// StateSeparator separates the nonce from the target URL in the state
// parameter.
const StateSeparator = ";"

// Navigator sends the user agent to a URL.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts an ordinary function to a Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

// Navigate calls f(ctx, url).
func (f NavigatorFunc) Navigate(ctx context.Context, url string) error {
	return f(ctx, url)
}

// PendingLogin is what's remembered about an authorization request until the
// provider redirects back.
type PendingLogin struct {
	Nonce       string    `json:"nonce"`
	Verifier    string    `json:"verifier"`
	TargetURL   string    `json:"target_url"`
	RedirectUrl string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// EncodeState returns the state parameter for nonce and target. An empty
// target means "/".
func EncodeState(nonce, target string) string {
	if target == "" {
		target = "/"
	}
	return nonce + StateSeparator + url.QueryEscape(target)
}

// DecodeState splits a state parameter into its nonce and target URL.
func DecodeState(state string) (nonce, target string, err error) {
	const op = "DecodeState"
	nonce, escaped, found := strings.Cut(state, StateSeparator)
	if !found {
		return nonce, "", nil
	}
	target, err = url.QueryUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("%s: unable to unescape target url: %w: %w", op, ErrResponseStateInvalid, err)
	}
	return nonce, target, nil
}

// LoginInitiator starts an authorization code flow with PKCE by sending the
// user agent to the provider.
type LoginInitiator struct {
	discoverer *Discoverer
	storage    storage.Storage
	logger     hclog.Logger
	now        func() time.Time
	navigator  Navigator
}

// NewLoginInitiator creates a LoginInitiator.
// Supported options:
//
//	WithLogger
//	WithNow
//	WithNavigator
func NewLoginInitiator(d *Discoverer, s storage.Storage, opt ...Option) (*LoginInitiator, error) {
	const op = "NewLoginInitiator"
	switch {
	case d == nil:
		return nil, fmt.Errorf("%s: discoverer is nil: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &LoginInitiator{
		discoverer: d,
		storage:    s,
		logger:     opts.withLogger,
		now:        opts.withNow,
		navigator:  opts.withNavigator,
	}, nil
}

// AuthURL returns the provider's authorization URL for a new login and
// persists its PendingLogin. The targetURL is carried in the state parameter.
func (l *LoginInitiator) AuthURL(ctx context.Context, targetURL string) (string, error) {
	const op = "LoginInitiator.AuthURL"
	if _, err := l.discoverer.Fetch(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	redirectUrl := l.discoverer.Config().RedirectUrl
	oauth2Config, err := l.discoverer.OAuth2Config(redirectUrl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := NewId("n")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	if targetURL == "" {
		targetURL = "/"
	}
	pending := PendingLogin{
		Nonce:       nonce,
		Verifier:    oauth2.GenerateVerifier(),
		TargetURL:   targetURL,
		RedirectUrl: redirectUrl,
		CreatedAt:   l.now(),
	}
	b, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode pending login: %w", op, err)
	}
	if err := l.storage.Set(ctx, PendingLoginKey, string(b)); err != nil {
		return "", fmt.Errorf("%s: unable to persist pending login: %w", op, err)
	}
	return oauth2Config.AuthCodeURL(
		EncodeState(pending.Nonce, pending.TargetURL),
		oauth2.S256ChallengeOption(pending.Verifier),
		oidc.Nonce(pending.Nonce),
	), nil
}

// BeginInteractiveLogin navigates the user agent to the provider's login
// page. Once the provider redirects back, CompleteLogin finishes the login
// and reports targetURL.
func (l *LoginInitiator) BeginInteractiveLogin(ctx context.Context, targetURL string) error {
	const op = "LoginInitiator.BeginInteractiveLogin"
	if l.navigator == nil {
		return fmt.Errorf("%s: %w", op, ErrNoNavigator)
	}
	authURL, err := l.AuthURL(ctx, targetURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.logger.Debug("starting interactive login", "target_url", targetURL)
	if err := l.navigator.Navigate(ctx, authURL); err != nil {
		return fmt.Errorf("%s: unable to navigate to provider: %w", op, err)
	}
	return nil
}

// LogoutURL returns the provider's end session URL with idToken as the hint.
// It returns false when the provider has no end_session_endpoint.
func (l *LoginInitiator) LogoutURL(ctx context.Context, idToken IdToken) (string, bool, error) {
	const op = "LoginInitiator.LogoutURL"
	doc, err := l.discoverer.Fetch(ctx)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if doc.EndSessionEndpoint == "" {
		return "", false, nil
	}
	u, err := url.Parse(doc.EndSessionEndpoint)
	if err != nil {
		return "", false, fmt.Errorf("%s: invalid end_session_endpoint: %w: %w", op, ErrInvalidParameter, err)
	}
	q := u.Query()
	if idToken != "" {
		q.Set("id_token_hint", string(idToken))
	}
	if pl := l.discoverer.Config().PostLogoutRedirectUrl; pl != "" {
		q.Set("post_logout_redirect_uri", pl)
	}
	u.RawQuery = q.Encode()
	return u.String(), true, nil
}

// Navigate hands u to the configured Navigator.
func (l *LoginInitiator) Navigate(ctx context.Context, u string) error {
	const op = "LoginInitiator.Navigate"
	if l.navigator == nil {
		return fmt.Errorf("%s: %w", op, ErrNoNavigator)
	}
	return l.navigator.Navigate(ctx, u)
}

// LoginResult is a completed login.
type LoginResult struct {
	Token *TokenSet

	// TargetURL is where the user was headed when the login began.
	TargetURL string
}

// ResponseParams returns the authorization response parameters of a
// redirect location: its fragment when the fragment carries a code, error or
// state, otherwise its query. The fragment is parsed in its encoded form.
// When a parameter list can't be parsed, the values that could be parsed are
// returned along with the error.
func ResponseParams(location string) (url.Values, error) {
	const op = "ResponseParams"
	base, fragment, _ := strings.Cut(location, "#")
	u, err := url.Parse(base)
	if err != nil {
		return url.Values{}, fmt.Errorf("%s: unable to parse location: %w: %w", op, ErrInvalidParameter, err)
	}
	var fragmentErr error
	if fragment != "" {
		params, err := url.ParseQuery(fragment)
		if isAuthorizationResponse(params) {
			if err != nil {
				return params, fmt.Errorf("%s: unable to parse fragment: %w: %w", op, ErrInvalidParameter, err)
			}
			return params, nil
		}
		if err != nil {
			fragmentErr = fmt.Errorf("%s: unable to parse fragment: %w: %w", op, ErrInvalidParameter, err)
		}
	}
	params, err := url.ParseQuery(u.RawQuery)
	switch {
	case err != nil:
		return params, fmt.Errorf("%s: unable to parse query: %w: %w", op, ErrInvalidParameter, err)
	case isAuthorizationResponse(params):
		return params, nil
	}
	return params, fragmentErr
}

// isAuthorizationResponse reports whether params carry any of the
// parameters of an authorization response.
func isAuthorizationResponse(params url.Values) bool {
	return params.Has("code") || params.Has("error") || params.Has("state")
}

// LoginCompleter finishes a login when the provider redirects back with an
// authorization code.
type LoginCompleter struct {
	discoverer *Discoverer
	store      *TokenStore
	storage    storage.Storage
	logger     hclog.Logger
}

// NewLoginCompleter creates a LoginCompleter.
// Supported options:
//
//	WithLogger
func NewLoginCompleter(d *Discoverer, ts *TokenStore, s storage.Storage, opt ...Option) (*LoginCompleter, error) {
	const op = "NewLoginCompleter"
	switch {
	case d == nil:
		return nil, fmt.Errorf("%s: discoverer is nil: %w", op, ErrNilParameter)
	case ts == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &LoginCompleter{
		discoverer: d,
		store:      ts,
		storage:    s,
		logger:     opts.withLogger,
	}, nil
}

// CompleteLogin completes the login whose authorization response is in
// location. A location without a code or error is not a login response and
// CompleteLogin returns nil, nil. That includes an application fragment that
// isn't a parameter list at all.
func (c *LoginCompleter) CompleteLogin(ctx context.Context, location string) (*LoginResult, error) {
	const op = "LoginCompleter.CompleteLogin"
	params, err := ResponseParams(location)
	if err != nil {
		if !isAuthorizationResponse(params) {
			c.logger.Debug("location is not an authorization response", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	code, errCode := params.Get("code"), params.Get("error")
	if code == "" && errCode == "" {
		return nil, nil
	}

	pending, err := c.consumePending(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if errCode != "" {
		pe := &ProviderError{
			Code:        errCode,
			Description: params.Get("error_description"),
			Uri:         params.Get("error_uri"),
		}
		if RequiresInteraction(errCode) {
			return nil, fmt.Errorf("%s: %w: %w: %w", op, ErrTokenExchange, ErrInteractionRequired, pe)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, pe)
	}

	if pending == nil {
		return nil, fmt.Errorf("%s: no pending login: %w: %w", op, ErrResponseStateInvalid, ErrNotFound)
	}
	nonce, target, err := DecodeState(params.Get("state"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if nonce != pending.Nonce {
		return nil, fmt.Errorf("%s: state does not match pending login: %w", op, ErrResponseStateInvalid)
	}
	if target == "" {
		target = pending.TargetURL
	}

	if _, err := c.discoverer.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config, err := c.discoverer.OAuth2Config(pending.RedirectUrl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Token, err := oauth2Config.Exchange(c.discoverer.ClientContext(ctx), code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		if pe, ok := providerErrorFrom(err); ok {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, pe)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, err)
	}

	var sessionState string
	if c.discoverer.Config().SessionChecksEnabled {
		sessionState = params.Get("session_state")
	}
	ts, err := c.discoverer.tokenSetFrom(ctx, oauth2Token, pending.Nonce, nil, sessionState)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, err)
	}
	if err := c.store.Replace(ctx, ts); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("login completed", "target_url", target)
	return &LoginResult{Token: ts, TargetURL: target}, nil
}

// consumePending reads and deletes the PendingLogin. It returns nil when
// there is none.
func (c *LoginCompleter) consumePending(ctx context.Context) (*PendingLogin, error) {
	const op = "LoginCompleter.consumePending"
	raw, ok, err := c.storage.Get(ctx, PendingLoginKey)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read pending login: %w", op, err)
	}
	if !ok {
		return nil, nil
	}
	if err := c.storage.Delete(ctx, PendingLoginKey); err != nil {
		return nil, fmt.Errorf("%s: unable to delete pending login: %w", op, err)
	}
	var p PendingLogin
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%s: unable to decode pending login: %w: %w", op, ErrResponseStateInvalid, err)
	}
	return &p, nil
}
