// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-hclog"
)

// SequenceState is a state of the initial login sequence.
type SequenceState int

const (
	NotStarted SequenceState = iota
	DiscoveringProvider
	CompletingHashLogin
	CheckingExistingToken
	AttemptingSilentRefresh
	AwaitingUserInteraction
	Done
)

func (s SequenceState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case DiscoveringProvider:
		return "discovering provider"
	case CompletingHashLogin:
		return "completing hash login"
	case CheckingExistingToken:
		return "checking existing token"
	case AttemptingSilentRefresh:
		return "attempting silent refresh"
	case AwaitingUserInteraction:
		return "awaiting user interaction"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("SequenceState(%d)", int(s))
	}
}

// StepResult is the outcome of the step run in a state.
type StepResult struct {
	// Err is a failure of the step. It ends the sequence.
	Err error

	// ValidToken and RefreshConfigured are the results of
	// CheckingExistingToken.
	ValidToken        bool
	RefreshConfigured bool

	// Refresh is the result of AttemptingSilentRefresh.
	Refresh oidc.RefreshOutcomeKind
}

// Next returns the state following s given the result of its step. Done is
// reached from every state and never left.
func Next(s SequenceState, r StepResult) SequenceState {
	switch s {
	case NotStarted:
		return DiscoveringProvider
	case DiscoveringProvider:
		if r.Err != nil {
			return Done
		}
		return CompletingHashLogin
	case CompletingHashLogin:
		if r.Err != nil {
			return Done
		}
		return CheckingExistingToken
	case CheckingExistingToken:
		if r.Err != nil || r.ValidToken || !r.RefreshConfigured {
			return Done
		}
		return AttemptingSilentRefresh
	case AttemptingSilentRefresh:
		if r.Err == nil && r.Refresh == oidc.OutcomeInteractionRequired {
			return AwaitingUserInteraction
		}
		return Done
	default:
		return Done
	}
}

// Discovery fetches the provider's discovery document.
type Discovery interface {
	Fetch(ctx context.Context) (*oidc.DiscoveryDocument, error)
}

// HashLogin completes a login from the redirect location, when it carries an
// authorization response.
type HashLogin interface {
	CompleteLogin(ctx context.Context, location string) (*oidc.LoginResult, error)
}

// TokenChecker reports whether there's a valid access token.
type TokenChecker interface {
	HasValidAccessToken(ctx context.Context) bool
}

// Refresher attempts a silent refresh.
type Refresher interface {
	Configured() bool
	Attempt(ctx context.Context) oidc.RefreshOutcome
}

// Completion is told when the sequence is done.
type Completion interface {
	MarkInitialSequenceDone(ctx context.Context)
}

// Result reports how a sequence ran.
type Result struct {
	// Path is every state visited, starting with NotStarted and ending with
	// Done.
	Path []SequenceState

	// AwaitingUserInteraction is true when a silent refresh found the user
	// must log in interactively.
	AwaitingUserInteraction bool

	// TargetURL is where the user was headed when the login completed by
	// this sequence began. It's reported, not navigated to.
	TargetURL string
}

// Final returns the last state visited.
func (r Result) Final() SequenceState {
	if len(r.Path) == 0 {
		return NotStarted
	}
	return r.Path[len(r.Path)-1]
}

// Sequencer runs the initial login sequence of an execution context.
type Sequencer struct {
	discovery  Discovery
	hashLogin  HashLogin
	tokens     TokenChecker
	refresher  Refresher
	completion Completion
	logger     hclog.Logger
}

// NewSequencer creates a Sequencer.
// Supported options:
//
//	WithLogger
func NewSequencer(d Discovery, h HashLogin, t TokenChecker, r Refresher, c Completion, opt ...Option) (*Sequencer, error) {
	const op = "session.NewSequencer"
	switch {
	case d == nil:
		return nil, fmt.Errorf("%s: discovery is nil: %w", op, oidc.ErrNilParameter)
	case h == nil:
		return nil, fmt.Errorf("%s: hash login is nil: %w", op, oidc.ErrNilParameter)
	case t == nil:
		return nil, fmt.Errorf("%s: token checker is nil: %w", op, oidc.ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: refresher is nil: %w", op, oidc.ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: completion is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Sequencer{
		discovery:  d,
		hashLogin:  h,
		tokens:     t,
		refresher:  r,
		completion: c,
		logger:     opts.withLogger,
	}, nil
}

// Run runs the initial login sequence for the current location. The sequence
// is always marked done when Run returns, even when a step failed; the
// failure is returned. Needing user interaction isn't a failure.
func (s *Sequencer) Run(ctx context.Context, location string) (result Result, err error) {
	const op = "Sequencer.Run"
	state := NotStarted
	result.Path = []SequenceState{state}

	defer func() {
		s.completion.MarkInitialSequenceDone(context.WithoutCancel(ctx))
		if result.TargetURL != "" && result.TargetURL != "undefined" && result.TargetURL != "null" {
			s.logger.Info("login state restored", "target_url", result.TargetURL)
		}
	}()

	for state != Done {
		var r StepResult
		switch state {
		case DiscoveringProvider:
			if _, r.Err = s.discovery.Fetch(ctx); r.Err != nil {
				s.logger.Error("unable to load discovery document", "error", r.Err)
			}
		case CompletingHashLogin:
			lr, loginErr := s.hashLogin.CompleteLogin(ctx, location)
			switch {
			case errors.Is(loginErr, oidc.ErrInteractionRequired):
				s.logger.Warn("provider requires user interaction to log in", "reason", loginErr)
			case loginErr != nil:
				s.logger.Error("unable to complete login", "error", loginErr)
				r.Err = loginErr
			case lr != nil:
				result.TargetURL = lr.TargetURL
			}
		case CheckingExistingToken:
			r.ValidToken = s.tokens.HasValidAccessToken(ctx)
			r.RefreshConfigured = s.refresher.Configured()
		case AttemptingSilentRefresh:
			outcome := s.refresher.Attempt(ctx)
			r.Refresh = outcome.Kind
			if outcome.Kind == oidc.OutcomeTransientFailure {
				s.logger.Error("silent refresh failed", "error", outcome.Err)
				r.Err = outcome.Err
			}
		case AwaitingUserInteraction:
			result.AwaitingUserInteraction = true
			s.logger.Warn("user interaction is required to log in, waiting for the user to log in manually")
		}
		if r.Err != nil {
			err = fmt.Errorf("%s: %s: %w", op, state, r.Err)
		}
		state = Next(state, r)
		result.Path = append(result.Path, state)
	}
	return result, err
}
