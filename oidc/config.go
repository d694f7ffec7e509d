// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capsession/internal/httpclient"
	"github.com/hashicorp/capsession/internal/strutils"
	"github.com/hashicorp/go-multierror"
)

// ResponseTypeCode is the only supported response type.
const ResponseTypeCode = "code"

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration of an application's session with its
// OIDC provider.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the optional relying party secret. Public clients
	// (browser and CLI applications) leave it empty.
	ClientSecret ClientSecret

	// Scopes is a list of oidc scopes to request of the provider. The
	// required "openid" scope is always requested.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// RedirectUrl is where the provider returns the user agent after an
	// interactive login.
	RedirectUrl string

	// PostLogoutRedirectUrl is where the provider returns the user agent after
	// logout.
	PostLogoutRedirectUrl string

	// SilentRefreshRedirectUrl is optional. When empty, no silent refresh is
	// attempted during the initial login sequence.
	SilentRefreshRedirectUrl string

	// ResponseType must be "code".
	ResponseType string

	// RequireHttps requires the issuer and every discovered endpoint to use
	// the https scheme.
	RequireHttps bool

	// SessionChecksEnabled keeps the provider's session_state returned with
	// an authorization response.
	SessionChecksEnabled bool

	// SupportedSigningAlgs is a list of supported id_token signing
	// algorithms. Defaults to RS256.
	SupportedSigningAlgs []Alg

	// Audiences is a list optional case-sensitive strings used when verifying
	// an id_token's "aud" claim
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

// NewConfig composes a new config for a provider.
// Supported options:
//
//	WithClientSecret
//	WithScopes
//	WithPostLogoutRedirectUrl
//	WithSilentRefreshRedirectUrl
//	WithRequireHttps
//	WithSessionChecks
//	WithSupportedSigningAlgs
//	WithAudiences
//	WithProviderCA
func NewConfig(issuer, clientId, redirectUrl string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                   issuer,
		ClientId:                 clientId,
		ClientSecret:             opts.withClientSecret,
		RedirectUrl:              redirectUrl,
		PostLogoutRedirectUrl:    opts.withPostLogoutRedirectUrl,
		SilentRefreshRedirectUrl: opts.withSilentRefreshRedirectUrl,
		ResponseType:             ResponseTypeCode,
		RequireHttps:             opts.withRequireHttps,
		SessionChecksEnabled:     opts.withSessionChecks,
		Scopes:                   opts.withScopes,
		SupportedSigningAlgs:     opts.withSupportedSigningAlgs,
		Audiences:                opts.withAudiences,
		ProviderCA:               opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Every problem found is reported in
// the returned error. It doesn't verify the Issuer is discoverable via an
// http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ResponseType != ResponseTypeCode {
		result = multierror.Append(result, fmt.Errorf("unsupported response type %q: %w", c.ResponseType, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is empty: %w", ErrInvalidParameter))
	} else if err := c.checkURL("issuer", c.Issuer); err != nil {
		result = multierror.Append(result, err)
	}
	if c.RedirectUrl == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	} else if err := c.checkURL("redirect URL", c.RedirectUrl); err != nil {
		result = multierror.Append(result, err)
	}
	for name, v := range map[string]string{
		"post logout redirect URL":    c.PostLogoutRedirectUrl,
		"silent refresh redirect URL": c.SilentRefreshRedirectUrl,
	} {
		if v == "" {
			continue
		}
		if err := c.checkURL(name, v); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !a.Supported() {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Config) checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %s is invalid: %w", name, raw, ErrInvalidParameter)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s %s scheme %q is not http or https: %w", name, raw, u.Scheme, ErrInvalidParameter)
	}
	if name == "issuer" {
		switch {
		case c.RequireHttps && u.Scheme != "https":
			return fmt.Errorf("issuer %s must use https: %w", raw, ErrInvalidIssuer)
		case u.RawQuery != "" || u.Fragment != "":
			return fmt.Errorf("issuer %s has a query or fragment: %w", raw, ErrInvalidIssuer)
		}
	}
	return nil
}

// Algs returns the supported signing algorithms as strings, defaulting to
// RS256.
func (c *Config) Algs() []string {
	return algStrings(c.SupportedSigningAlgs)
}

// RequestScopes returns the scopes to request, always starting with openid.
func (c *Config) RequestScopes() []string {
	return strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, c.Scopes...), false)
}

// SilentRefreshConfigured reports whether a silent refresh mechanism is
// configured.
func (c *Config) SilentRefreshConfigured() bool {
	return c.SilentRefreshRedirectUrl != ""
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := httpclient.New(c.ProviderCA)
	if err != nil {
		if errors.Is(err, httpclient.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret             ClientSecret
	withScopes                   []string
	withPostLogoutRedirectUrl    string
	withSilentRefreshRedirectUrl string
	withRequireHttps             bool
	withSessionChecks            bool
	withSupportedSigningAlgs     []Alg
	withAudiences                []string
	withProviderCA               string
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withRequireHttps:         true,
		withSupportedSigningAlgs: []Alg{DefaultAlg},
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for confidential clients.
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithScopes provides an optional list of scopes for the provider's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithPostLogoutRedirectUrl provides an optional post logout redirect URL.
func WithPostLogoutRedirectUrl(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLogoutRedirectUrl = u
		}
	}
}

// WithSilentRefreshRedirectUrl provides an optional silent refresh redirect
// URL; setting it enables silent refresh.
func WithSilentRefreshRedirectUrl(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSilentRefreshRedirectUrl = u
		}
	}
}

// WithRequireHttps sets whether the issuer and its endpoints must use https.
// Defaults to true.
func WithRequireHttps(required bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequireHttps = required
		}
	}
}

// WithSessionChecks enables keeping the provider's session_state.
func WithSessionChecks(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSessionChecks = enabled
		}
	}
}

// WithSupportedSigningAlgs provides the id_token signing algorithms accepted.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithAudiences provides an optional list of audiences for the provider's config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}
