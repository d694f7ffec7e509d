// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/capsession/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// InteractionRequiredCodes are the provider error codes meaning the user must
// be shown the provider's UI before a token can be issued. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
var InteractionRequiredCodes = []string{
	"interaction_required",
	"login_required",
	"account_selection_required",
	"consent_required",
}

// RequiresInteraction returns true if the provider error code is one of the
// InteractionRequiredCodes.
func RequiresInteraction(code string) bool {
	return strutils.StrListContains(InteractionRequiredCodes, code)
}

// RefreshOutcomeKind tags a RefreshOutcome.
type RefreshOutcomeKind int

const (
	OutcomeSuccess RefreshOutcomeKind = iota
	OutcomeInteractionRequired
	OutcomeTransientFailure
)

func (k RefreshOutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInteractionRequired:
		return "interaction required"
	case OutcomeTransientFailure:
		return "transient failure"
	default:
		return fmt.Sprintf("RefreshOutcomeKind(%d)", int(k))
	}
}

// RefreshOutcome is the result of a silent refresh attempt.
//
//   - OutcomeSuccess: Token holds the new TokenSet, or nil when silent
//     refresh isn't configured and there was nothing to do.
//   - OutcomeInteractionRequired: Reason holds the provider's error code. Err
//     is nil; this isn't a failure.
//   - OutcomeTransientFailure: Err wraps ErrTransientRefresh. Reason holds the
//     provider's error code when there was one.
type RefreshOutcome struct {
	Kind   RefreshOutcomeKind
	Token  *TokenSet
	Reason string
	Err    error
}

// ClassifyRefreshError turns a failed refresh exchange into an outcome.
func ClassifyRefreshError(err error) RefreshOutcome {
	if pe, ok := providerErrorFrom(err); ok {
		if RequiresInteraction(pe.Code) {
			return RefreshOutcome{Kind: OutcomeInteractionRequired, Reason: pe.Code}
		}
		return RefreshOutcome{
			Kind:   OutcomeTransientFailure,
			Reason: pe.Code,
			Err:    fmt.Errorf("%w: %w", ErrTransientRefresh, err),
		}
	}
	return RefreshOutcome{
		Kind: OutcomeTransientFailure,
		Err:  fmt.Errorf("%w: %w", ErrTransientRefresh, err),
	}
}

// SilentRefresher obtains a new TokenSet without user interaction by
// exchanging the stored refresh token.
type SilentRefresher struct {
	discoverer *Discoverer
	store      *TokenStore
	logger     hclog.Logger
}

// NewSilentRefresher creates a SilentRefresher.
// Supported options:
//
//	WithLogger
func NewSilentRefresher(d *Discoverer, s *TokenStore, opt ...Option) (*SilentRefresher, error) {
	const op = "NewSilentRefresher"
	switch {
	case d == nil:
		return nil, fmt.Errorf("%s: discoverer is nil: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &SilentRefresher{
		discoverer: d,
		store:      s,
		logger:     opts.withLogger,
	}, nil
}

// Configured reports whether a silent refresh mechanism is configured.
func (r *SilentRefresher) Configured() bool {
	return r.discoverer.Config().SilentRefreshConfigured()
}

// Attempt tries to obtain a fresh TokenSet without user interaction. On
// success the TokenSet replaces the stored one.
func (r *SilentRefresher) Attempt(ctx context.Context) RefreshOutcome {
	const op = "SilentRefresher.Attempt"
	if !r.Configured() {
		return RefreshOutcome{Kind: OutcomeSuccess}
	}

	current, err := r.store.Current(ctx)
	if err != nil {
		return RefreshOutcome{Kind: OutcomeTransientFailure, Err: fmt.Errorf("%s: %w: %w", op, ErrTransientRefresh, err)}
	}
	if current == nil || current.RefreshToken == "" {
		// without a refresh token only the provider's login page can issue
		// new tokens
		return RefreshOutcome{Kind: OutcomeInteractionRequired, Reason: "login_required"}
	}

	if _, err := r.discoverer.Fetch(ctx); err != nil {
		return RefreshOutcome{Kind: OutcomeTransientFailure, Err: fmt.Errorf("%s: %w: %w", op, ErrTransientRefresh, err)}
	}
	oauth2Config, err := r.discoverer.OAuth2Config(r.discoverer.Config().RedirectUrl)
	if err != nil {
		return RefreshOutcome{Kind: OutcomeTransientFailure, Err: fmt.Errorf("%s: %w: %w", op, ErrTransientRefresh, err)}
	}

	clientCtx := r.discoverer.ClientContext(ctx)
	oauth2Token, err := oauth2Config.TokenSource(clientCtx, &oauth2.Token{RefreshToken: string(current.RefreshToken)}).Token()
	if err != nil {
		outcome := ClassifyRefreshError(fmt.Errorf("%s: refresh exchange failed: %w", op, err))
		if outcome.Kind == OutcomeInteractionRequired {
			r.logger.Warn("user interaction is required to log in", "reason", outcome.Reason)
		}
		return outcome
	}

	ts, err := r.discoverer.tokenSetFrom(ctx, oauth2Token, "", current, current.SessionState)
	if err != nil {
		return RefreshOutcome{Kind: OutcomeTransientFailure, Err: fmt.Errorf("%s: %w: %w: %w", op, ErrTransientRefresh, ErrTokenExchange, err)}
	}
	if err := r.store.Replace(ctx, ts); err != nil {
		return RefreshOutcome{Kind: OutcomeTransientFailure, Err: fmt.Errorf("%s: %w: %w", op, ErrTransientRefresh, err)}
	}
	r.logger.Debug("silent refresh succeeded", "expiry", ts.Expiry)
	return RefreshOutcome{Kind: OutcomeSuccess, Token: ts}
}
