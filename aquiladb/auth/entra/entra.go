//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package entra provides credential providers that acquire bearer tokens
// from the OAuth2 token service used by the Aquila cloud, at
// https://login.microsoftonline.com/{tenant} by default.
//
// A CredentialManager is bound to exactly one credential mode at
// construction: shared secret, certificate, interactive (device code),
// static token, or token callback. Token acquisition for the OAuth2 modes is
// single-flight: concurrent callers share one in-flight acquisition and
// otherwise observe the cached token.
package entra

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/internal/sdkutil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

const (
	// DefaultAuthorityHost is the OAuth2 authority used when no override is
	// configured.
	DefaultAuthorityHost = "https://login.microsoftonline.com"

	// AuthorityHostEnvVar is an environment variable that overrides the
	// OAuth2 authority host, for sovereign clouds.
	AuthorityHostEnvVar = "AQUILA_AUTHORITY_HOST"

	tokenEndpoint      = "/oauth2/v2.0/token"
	deviceCodeEndpoint = "/oauth2/v2.0/devicecode"

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	deviceCodeGrant     = "urn:ietf:params:oauth:grant-type:device_code"
)

// Default options for the provider.
var defaultOptions = auth.ProviderOptions{
	Timeout:            30 * time.Second,
	InteractiveTimeout: 15 * time.Minute,
	ExpiryWindow:       time.Minute,
	Logger:             logger.DefaultLogger,
	HTTPClient:         httputil.DefaultHTTPClient,
}

// TokenCallbackFunc is an externally supplied token source. It receives the
// resource the token must grant access to and returns a bearer token.
type TokenCallbackFunc func(ctx context.Context, resource string) (string, error)

type credentialKind int

const (
	sharedSecretKind credentialKind = iota
	certificateKind
	interactiveKind
	staticTokenKind
	tokenCallbackKind
)

// Credential represents one authentication mode. Exactly one mode is bound
// per CredentialManager at construction and it is immutable thereafter.
// Use one of the constructor functions to create a Credential.
type Credential struct {
	kind         credentialKind
	clientID     string
	secret       []byte
	cert         *x509.Certificate
	key          *rsa.PrivateKey
	usernameHint string
	staticToken  string
	callback     TokenCallbackFunc
}

// SharedSecret creates a credential that authenticates with a client id and
// a client secret via the OAuth2 client credentials grant.
func SharedSecret(clientID string, secret []byte) Credential {
	s := make([]byte, len(secret))
	copy(s, secret)
	return Credential{kind: sharedSecretKind, clientID: clientID, secret: s}
}

// Certificate creates a credential that authenticates with a client id and
// a signed client assertion built from the specified certificate and key.
func Certificate(clientID string, cert *x509.Certificate, key *rsa.PrivateKey) Credential {
	return Credential{kind: certificateKind, clientID: clientID, cert: cert, key: key}
}

// Interactive creates a credential that authenticates a user through the
// device code flow, requiring a one-time browser interaction.
// The usernameHint, if non-empty, is passed to the authorization server as a
// login hint.
func Interactive(clientID, usernameHint string) Credential {
	return Credential{kind: interactiveKind, clientID: clientID, usernameHint: usernameHint}
}

// StaticToken creates a credential that returns the configured token
// verbatim, with no caching and no network calls.
func StaticToken(token string) Credential {
	return Credential{kind: staticTokenKind, staticToken: token}
}

// TokenCallback creates a credential that obtains tokens from an external
// callback. Results are not cached by the manager: callers of this mode are
// assumed to manage their own caching.
func TokenCallback(fn TokenCallbackFunc) Credential {
	return Credential{kind: tokenCallbackKind, callback: fn}
}

// CredentialManager acquires and caches access tokens for one credential.
//
// It implements the auth.CredentialProvider interface and is safe for
// concurrent use. The token cache is the only mutable state; it is guarded
// by a mutex held only around the decision-and-acquire sequence, so requests
// holding a valid cached token never serialize behind a refresh.
type CredentialManager struct {
	tenant    string
	resource  string
	scope     string
	authority string
	cred      Credential

	timeout            time.Duration
	interactiveTimeout time.Duration
	expiryWindow       time.Duration

	logger     *logger.Logger
	httpClient httputil.RequestExecutor

	mutex sync.Mutex
	// cachedToken can be reused while it is valid.
	cachedToken *auth.Token
	// accountRef is the opaque account reference (a refresh token) used for
	// silent reacquisition.
	accountRef string

	group    singleflight.Group
	isClosed bool
}

// NewCredentialManager creates a CredentialManager for the specified tenant,
// resource and credential. The resource is the cluster URL the tokens must
// grant access to; the OAuth2 scope is derived from it.
//
// This is a variadic function that may be invoked with zero or more
// arguments for the options parameter, but only the first argument for the
// options parameter, if specified, is used, others are ignored.
func NewCredentialManager(tenant, resource string, cred Credential, options ...auth.ProviderOptions) (*CredentialManager, error) {
	switch cred.kind {
	case staticTokenKind:
		if cred.staticToken == "" {
			return nil, aquilaerr.NewIllegalArgument("static token must be non-empty")
		}
	case tokenCallbackKind:
		if cred.callback == nil {
			return nil, aquilaerr.NewIllegalArgument("token callback must be non-nil")
		}
	case certificateKind:
		if cred.cert == nil || cred.key == nil {
			return nil, aquilaerr.NewIllegalArgument("certificate and key must be non-nil")
		}
		fallthrough
	default:
		if cred.kind != interactiveKind && cred.clientID == "" {
			return nil, aquilaerr.NewIllegalArgument("clientId must be non-empty")
		}
		if tenant == "" {
			tenant = "organizations"
		}
	}

	if cred.kind == sharedSecretKind && len(cred.secret) == 0 {
		return nil, aquilaerr.NewIllegalArgument("client secret must be non-nil and non-empty")
	}

	authority, err := resolveAuthority(tenant)
	if err != nil {
		return nil, err
	}

	// Initialize with default options, overwrite with supplied values if
	// they are valid.
	opt := defaultOptions
	if len(options) > 0 {
		v := &options[0]
		if v.Timeout >= time.Millisecond {
			opt.Timeout = v.Timeout
		}
		if v.InteractiveTimeout >= time.Millisecond {
			opt.InteractiveTimeout = v.InteractiveTimeout
		}
		if v.ExpiryWindow >= time.Millisecond {
			opt.ExpiryWindow = v.ExpiryWindow
		}
		if v.Logger != nil {
			opt.Logger = v.Logger
		}
		if v.HTTPClient != nil {
			opt.HTTPClient = v.HTTPClient
		}
	}

	return &CredentialManager{
		tenant:             tenant,
		resource:           resource,
		scope:              scopeForResource(resource),
		authority:          authority,
		cred:               cred,
		timeout:            opt.Timeout,
		interactiveTimeout: opt.InteractiveTimeout,
		expiryWindow:       opt.ExpiryWindow,
		logger:             opt.Logger,
		httpClient:         opt.HTTPClient,
	}, nil
}

// NewSharedSecretFromFile creates a CredentialManager using the specified
// credentials file and options. The file must specify the tenant, client id
// and client secret in the form:
//
//	tenant=72f988bf-xxxx
//	clientId=app-client-id
//	clientSecret=app-client-secret
func NewSharedSecretFromFile(configFile, resource string, options ...auth.ProviderOptions) (*CredentialManager, error) {
	prop, err := sdkutil.NewProperties(configFile)
	if err != nil {
		return nil, err
	}

	prop.Load()
	if err = prop.Err(); err != nil {
		return nil, err
	}

	tenant, err := prop.Get("tenant")
	if err != nil {
		return nil, err
	}

	clientID, err := prop.Get("clientId")
	if err != nil {
		return nil, err
	}

	secret, err := prop.Get("clientSecret")
	if err != nil {
		return nil, err
	}

	return NewCredentialManager(tenant, resource, SharedSecret(clientID, []byte(secret)), options...)
}

// resolveAuthority builds the tenant authority URL, honoring the sovereign
// cloud override from the environment.
func resolveAuthority(tenant string) (string, error) {
	host := os.Getenv(AuthorityHostEnvVar)
	if host == "" {
		host = DefaultAuthorityHost
	}

	u, err := url.Parse(host)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", aquilaerr.NewAuth("malformed authority host %q", host)
	}

	return strings.TrimSuffix(host, "/") + "/" + tenant, nil
}

// scopeForResource derives the OAuth2 scope for the cluster resource URL.
func scopeForResource(resource string) string {
	if resource == "" || strings.Contains(resource, "/.default") {
		return resource
	}
	return strings.TrimSuffix(resource, "/") + "/.default"
}

// AccessToken returns an access token used to authorize a request.
//
// For the static token mode the configured token is returned verbatim, with
// no caching and no network call. For the callback mode the external
// callback is invoked with a bounded timeout and its result returned
// directly, uncached.
//
// For the OAuth2 modes the algorithm is:
//
//	(a) if no cached entry exists, acquire a new token via the mode-specific
//	    OAuth2 flow;
//	(b) if a cached entry exists but is within the expiry window, attempt
//	    silent reacquisition using the cached account reference;
//	(c) if silent reacquisition fails for any reason, fall back to (a);
//	(d) if a valid cached entry exists, return it without any network call.
//
// Only one goroutine performs acquisition at a time; concurrent callers
// share the in-flight acquisition's outcome.
func (m *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	if m.checkClosed() {
		return "", aquilaerr.NewAuth("credential manager is closed")
	}

	switch m.cred.kind {
	case staticTokenKind:
		return m.cred.staticToken, nil
	case tokenCallbackKind:
		return m.invokeCallback(ctx)
	}

	m.mutex.Lock()
	token := m.cachedToken
	m.mutex.Unlock()

	if token != nil && !token.Expired() && !token.NeedRefresh(m.expiryWindow) {
		return token.AccessToken, nil
	}

	v, err, _ := m.group.Do("token", func() (interface{}, error) {
		return m.acquireLocked(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(*auth.Token).AccessToken, nil
}

// acquireLocked runs the decision-and-acquire sequence under the cache lock.
// Exactly one caller at a time reaches here through the singleflight group.
func (m *CredentialManager) acquireLocked(ctx context.Context) (*auth.Token, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Another caller may have refreshed the cache between our fast-path
	// check and entering the flight.
	if t := m.cachedToken; t != nil && !t.Expired() && !t.NeedRefresh(m.expiryWindow) {
		return t, nil
	}

	if m.cachedToken != nil && m.accountRef != "" {
		token, ref, err := m.silentReacquire(ctx)
		if err == nil {
			m.cachedToken = token
			m.accountRef = ref
			return token, nil
		}
		m.logger.Fine("silent token reacquisition failed, falling back to full acquisition: %v", err)
	}

	token, ref, err := m.fullAcquire(ctx)
	if err != nil {
		return nil, err
	}

	m.cachedToken = token
	m.accountRef = ref
	return token, nil
}

// fullAcquire obtains a token through the mode-specific OAuth2 flow.
func (m *CredentialManager) fullAcquire(ctx context.Context) (*auth.Token, string, error) {
	switch m.cred.kind {
	case sharedSecretKind:
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", m.cred.clientID)
		form.Set("client_secret", string(m.cred.secret))
		form.Set("scope", m.scope)
		return m.requestToken(ctx, form, m.timeout)

	case certificateKind:
		assertion, err := m.clientAssertion()
		if err != nil {
			return nil, "", err
		}
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", m.cred.clientID)
		form.Set("client_assertion_type", clientAssertionType)
		form.Set("client_assertion", assertion)
		form.Set("scope", m.scope)
		return m.requestToken(ctx, form, m.timeout)

	case interactiveKind:
		return m.deviceCodeAcquire(ctx)

	default:
		return nil, "", aquilaerr.NewAuth("unsupported credential mode")
	}
}

// silentReacquire exchanges the cached account reference for a fresh token
// without any user or secret interaction beyond the refresh grant.
func (m *CredentialManager) silentReacquire(ctx context.Context) (*auth.Token, string, error) {
	clientID := m.cred.clientID
	if m.cred.kind == interactiveKind && clientID == "" {
		clientID = defaultPublicClientID
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.accountRef)
	form.Set("client_id", clientID)
	form.Set("scope", m.scope)
	if m.cred.kind == sharedSecretKind {
		form.Set("client_secret", string(m.cred.secret))
	}
	return m.requestToken(ctx, form, m.timeout)
}

// requestToken posts the form to the token endpoint and parses the response.
func (m *CredentialManager) requestToken(ctx context.Context, form url.Values, timeout time.Duration) (*auth.Token, string, error) {
	body := []byte(form.Encode())
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}

	resp, err := httputil.DoRequest(ctx, m.httpClient, timeout, http.MethodPost,
		m.authority+tokenEndpoint, body, headers, m.logger)
	if err != nil {
		return nil, "", aquilaerr.NewAuthWithCause(err, "token request failed")
	}

	tr, err := parseTokenResponse(resp)
	if err != nil {
		return nil, "", err
	}

	return tr.token(), tr.RefreshToken, nil
}

// invokeCallback runs the external token callback with a bounded timeout.
func (m *CredentialManager) invokeCallback(ctx context.Context) (string, error) {
	cbCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type cbResult struct {
		token string
		err   error
	}
	ch := make(chan cbResult, 1)
	go func() {
		token, err := m.cred.callback(cbCtx, m.resource)
		ch <- cbResult{token: token, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", aquilaerr.NewAuthWithCause(r.err, "token callback failed")
		}
		if r.token == "" {
			return "", aquilaerr.NewAuth("token callback returned an empty token")
		}
		return r.token, nil
	case <-cbCtx.Done():
		return "", aquilaerr.NewAuth("token callback did not complete within %v", m.timeout)
	}
}

// Close releases resources allocated by the manager and discards the cached
// token.
func (m *CredentialManager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.isClosed = true
	m.cachedToken = nil
	m.accountRef = ""
	return nil
}

func (m *CredentialManager) checkClosed() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isClosed
}
