// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS server with just enough of an OIDC provider to
// exercise discovery, the authorization code flow with PKCE, refresh and
// logout.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	keyID           string
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                 sync.Mutex
	clientID           string
	clientSecret       string
	subject            string
	customClaims       map[string]interface{}
	expiresIn          time.Duration
	refreshToken       string
	refreshError       string
	authError          string
	sessionState       string
	omitRefreshIdToken bool
	disableEndSession  bool
	codes              map[string]testAuthRequest
	refreshTokens      map[string]bool
	issued             int
	discoveryRequests  int
	tokenRequests      int
}

type testAuthRequest struct {
	nonce         string
	codeChallenge string
	redirectURI   string
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test ends. Its client id is "test-client" with no secret.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		keyID:         "test-key",
		clientID:      "test-client",
		subject:       "alice@example.com",
		expiresIn:     time.Hour,
		refreshToken:  "test-refresh-token",
		sessionState:  "test-session-state",
		codes:         map[string]testAuthRequest{},
		refreshTokens: map[string]bool{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey, p.keyID)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's address, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the provider's TLS
// server.
func (p *TestProvider) CACert() string { return p.caCert }

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// SetClientCreds sets the client id and secret the provider accepts. An empty
// secret means a public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpiresIn sets the lifetime of issued access and id tokens.
func (p *TestProvider) SetExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = d
}

// SetRefreshToken sets the refresh token issued with token responses from now
// on. An empty refresh token means none is issued. Refresh tokens issued
// earlier stay valid.
func (p *TestProvider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = rt
}

// SetRefreshError makes every refresh_token grant fail with the error code.
// An empty code means refreshes succeed.
func (p *TestProvider) SetRefreshError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshError = code
}

// SetAuthError makes every authorization request redirect back with the
// error code. An empty code means authorization succeeds.
func (p *TestProvider) SetAuthError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
}

// SetCustomClaims adds claims to every issued id_token.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// OmitRefreshIdTokens stops id_tokens being issued with refresh responses.
func (p *TestProvider) OmitRefreshIdTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshIdToken = true
}

// DisableEndSession removes the end_session_endpoint from discovery.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// DiscoveryRequests returns the number of discovery document requests served.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// TokenRequests returns the number of token endpoint requests served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// Authorize plays the user agent: it requests authURL and returns the
// redirect location the provider replies with, without following it.
func (p *TestProvider) Authorize(authURL string) (string, error) {
	client := *p.httpServer.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("unexpected authorization status %d", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	w.WriteHeader(statusCode)
	p.writeJSON(w, &ProviderError{Code: errorCode, Description: errorMessage})
}

func (p *TestProvider) redirectWithParams(w http.ResponseWriter, req *http.Request, redirectURI string, params url.Values) {
	http.Redirect(w, req, redirectURI+"#"+params.Encode(), http.StatusFound)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case WellKnownPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryRequests++
		doc := DiscoveryDocument{
			Issuer:                           p.Addr(),
			AuthorizationEndpoint:            p.Addr() + "/auth",
			TokenEndpoint:                    p.Addr() + "/token",
			JwksURI:                          p.Addr() + "/certs",
			EndSessionEndpoint:               p.Addr() + "/logout",
			ResponseTypesSupported:           []string{ResponseTypeCode},
			GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
			IdTokenSigningAlgValuesSupported: []string{string(ES256)},
			CodeChallengeMethodsSupported:    []string{"S256"},
		}
		if p.disableEndSession {
			doc.EndSessionEndpoint = ""
		}
		p.writeJSON(w, &doc)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" || qv.Get("client_id") != p.clientID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		params := url.Values{"state": {qv.Get("state")}}
		switch {
		case p.authError != "":
			params.Set("error", p.authError)
		case qv.Get("response_type") != ResponseTypeCode:
			params.Set("error", "unsupported_response_type")
		case qv.Get("code_challenge_method") != "S256" || qv.Get("code_challenge") == "":
			params.Set("error", "invalid_request")
			params.Set("error_description", "PKCE is required")
		default:
			p.issued++
			code := fmt.Sprintf("test-code-%d", p.issued)
			p.codes[code] = testAuthRequest{
				nonce:         qv.Get("nonce"),
				codeChallenge: qv.Get("code_challenge"),
				redirectURI:   redirectURI,
			}
			params.Set("code", code)
			params.Set("session_state", p.sessionState)
		}
		p.redirectWithParams(w, req, redirectURI, params)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		if !p.clientAuthenticated(req) {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		switch req.FormValue("grant_type") {
		case "authorization_code":
			p.exchangeCode(w, req)
		case "refresh_token":
			p.refresh(w, req)
		default:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	case "/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if !ok {
		id, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	if id != p.clientID {
		return false
	}
	return p.clientSecret == "" || secret == p.clientSecret
}

func (p *TestProvider) exchangeCode(w http.ResponseWriter, req *http.Request) {
	code := req.FormValue("code")
	ar, ok := p.codes[code]
	if !ok {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	}
	delete(p.codes, code)
	if req.FormValue("redirect_uri") != ar.redirectURI {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	sum := sha256.Sum256([]byte(req.FormValue("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != ar.codeChallenge {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
		return
	}
	p.writeTokenResponse(w, ar.nonce, true)
}

func (p *TestProvider) refresh(w http.ResponseWriter, req *http.Request) {
	switch {
	case p.refreshError != "":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, p.refreshError, "refresh rejected")
		return
	case !p.refreshTokens[req.FormValue("refresh_token")]:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}
	p.writeTokenResponse(w, "", !p.omitRefreshIdToken)
}

func (p *TestProvider) writeTokenResponse(w http.ResponseWriter, nonce string, withIdToken bool) {
	now := time.Now()
	p.issued++
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IdToken      string `json:"id_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken:  fmt.Sprintf("test-access-token-%d", p.issued),
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.expiresIn / time.Second),
		RefreshToken: p.refreshToken,
		Scope:        "openid",
	}
	if p.refreshToken != "" {
		p.refreshTokens[p.refreshToken] = true
	}
	if withIdToken {
		claims := jwt.Claims{
			Subject:   p.subject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(p.expiresIn)),
			Audience:  jwt.Audience{p.clientID},
		}
		private := map[string]interface{}{}
		for k, v := range p.customClaims {
			private[k] = v
		}
		if nonce != "" {
			private["nonce"] = nonce
		}
		raw, err := signJWT(p.ecdsaPrivateKey, p.keyID, claims, private)
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		reply.IdToken = raw
	}
	p.writeJSON(w, &reply)
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey, keyID string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				KeyID:     keyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
