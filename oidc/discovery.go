// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capsession/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// WellKnownPath is appended to the issuer to locate its discovery document.
const WellKnownPath = "/.well-known/openid-configuration"

// DiscoveryDocument is the provider's published metadata. See:
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	CheckSessionIframe                string   `json:"check_session_iframe,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	IdTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Discoverer fetches and caches the provider's discovery document. The cache
// lives until Invalidate or Reconfigure is called.
type Discoverer struct {
	logger hclog.Logger
	now    func() time.Time

	// fetchMu serializes discovery requests; mu guards the fields below and
	// is never held across one.
	fetchMu  sync.Mutex
	mu       sync.Mutex
	config   *Config
	client   *http.Client
	provider *oidc.Provider
	doc      *DiscoveryDocument
}

// NewDiscoverer creates a Discoverer for the config. No request is made
// until Fetch.
// Supported options:
//
//	WithLogger
//	WithNow
func NewDiscoverer(c *Config, opt ...Option) (*Discoverer, error) {
	const op = "NewDiscoverer"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	opts := getComponentOpts(opt...)
	return &Discoverer{
		logger: opts.withLogger,
		now:    opts.withNow,
		config: c,
		client: client,
	}, nil
}

// Config returns the current configuration.
func (d *Discoverer) Config() *Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Fetch returns the provider's discovery document, retrieving it with a
// single request the first time. The request is made without holding the
// lock that guards the configuration, so Config and the other accessors don't
// wait on the provider.
func (d *Discoverer) Fetch(ctx context.Context) (*DiscoveryDocument, error) {
	const op = "Discoverer.Fetch"
	d.fetchMu.Lock()
	defer d.fetchMu.Unlock()

	d.mu.Lock()
	config, client, cached := d.config, d.client, d.doc
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	// go-oidc keeps this context (without its deadline) for fetching the
	// provider's keys, so it must carry our client.
	provider, err := oidc.NewProvider(HttpClientContext(ctx, client), config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover %s: %w: %w", op, config.Issuer, ErrDiscovery, err)
	}
	var doc DiscoveryDocument
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("%s: unable to parse discovery document: %w: %w", op, ErrDiscovery, err)
	}
	if err := validateDiscovery(config, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.config != config {
		return nil, fmt.Errorf("%s: configuration changed during discovery: %w", op, ErrDiscovery)
	}
	d.provider = provider
	d.doc = &doc
	d.logger.Debug("discovery document loaded", "issuer", doc.Issuer)
	return d.doc, nil
}

func validateDiscovery(c *Config, doc *DiscoveryDocument) error {
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return fmt.Errorf("authorization and token endpoints are required: %w", ErrInvalidParameter)
	}
	if len(doc.ResponseTypesSupported) > 0 && !strutils.StrListContains(doc.ResponseTypesSupported, c.ResponseType) {
		return fmt.Errorf("response type %q is not supported by the provider: %w", c.ResponseType, ErrInvalidParameter)
	}
	if !c.RequireHttps {
		return nil
	}
	for _, e := range []string{doc.AuthorizationEndpoint, doc.TokenEndpoint, doc.JwksURI, doc.UserinfoEndpoint, doc.EndSessionEndpoint} {
		if e == "" {
			continue
		}
		u, err := url.Parse(e)
		if err != nil || u.Scheme != "https" {
			return fmt.Errorf("endpoint %s must use https: %w", e, ErrInvalidParameter)
		}
	}
	return nil
}

// Provider returns the discovered go-oidc provider, fetching the discovery
// document first when needed.
func (d *Discoverer) Provider(ctx context.Context) (*oidc.Provider, error) {
	const op = "Discoverer.Provider"
	if _, err := d.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.provider == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotDiscovered)
	}
	return d.provider, nil
}

// Cached returns the cached discovery document, if any.
func (d *Discoverer) Cached() (*DiscoveryDocument, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc, d.doc != nil
}

// Invalidate drops the cached discovery document.
func (d *Discoverer) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = nil
	d.provider = nil
}

// Reconfigure replaces the configuration and invalidates the cache.
func (d *Discoverer) Reconfigure(c *Config) error {
	const op = "Discoverer.Reconfigure"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = c
	d.client = client
	d.doc = nil
	d.provider = nil
	return nil
}

// ClientContext returns ctx carrying the provider http client.
func (d *Discoverer) ClientContext(ctx context.Context) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HttpClientContext(ctx, d.client)
}

// OAuth2Config returns the oauth2 configuration for the discovered provider.
func (d *Discoverer) OAuth2Config(redirectUrl string) (*oauth2.Config, error) {
	const op = "Discoverer.OAuth2Config"
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.provider == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotDiscovered)
	}
	endpoint := d.provider.Endpoint()
	if d.config.ClientSecret == "" {
		// public clients identify themselves with the client_id parameter
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     d.config.ClientId,
		ClientSecret: string(d.config.ClientSecret),
		RedirectURL:  redirectUrl,
		Endpoint:     endpoint,
		Scopes:       d.config.RequestScopes(),
	}, nil
}

// VerifiedIdToken is an id_token that passed verification.
type VerifiedIdToken struct {
	Raw    IdToken
	Nonce  string
	Expiry time.Time
	Claims map[string]interface{}
}

// VerifyIdToken verifies the id_token signature, issuer, audience and
// expiry. When nonce isn't empty the token's nonce must match it.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (d *Discoverer) VerifyIdToken(ctx context.Context, raw IdToken, nonce string) (*VerifiedIdToken, error) {
	const op = "Discoverer.VerifyIdToken"
	if raw == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	d.mu.Lock()
	provider, config, client := d.provider, d.config, d.client
	d.mu.Unlock()
	if provider == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotDiscovered)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:             config.ClientId,
		SupportedSigningAlgs: config.Algs(),
		Now:                  d.now,
	})
	tk, err := verifier.Verify(HttpClientContext(ctx, client), string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token: %w", op, err)
	}
	if nonce != "" && tk.Nonce != nonce {
		return nil, fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}
	if len(config.Audiences) > 0 {
		found := false
		for _, v := range config.Audiences {
			if strutils.StrListContains(tk.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
		}
	}
	claims := map[string]interface{}{}
	if err := tk.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to read id_token claims: %w", op, err)
	}
	return &VerifiedIdToken{
		Raw:    raw,
		Nonce:  tk.Nonce,
		Expiry: tk.Expiry,
		Claims: claims,
	}, nil
}
