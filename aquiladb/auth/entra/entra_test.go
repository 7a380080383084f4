//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package entra

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

type EntraTestSuite struct {
	suite.Suite
}

func TestEntra(t *testing.T) {
	suite.Run(t, &EntraTestSuite{})
}

var (
	testLogger        = logger.New(os.Stderr, logger.Error, true)
	testHTTPClient, _ = httputil.NewHTTPClient(httputil.HTTPConfig{})
)

const testResource = "https://mycluster.westus.aquiladata.io"

// mockTokenServer is a mock OAuth2 authority. It issues sequentially
// numbered access tokens and records the grant types it served.
type mockTokenServer struct {
	*httptest.Server
	tokenLifetime time.Duration
	refreshToken  string
	// pendingPolls is the number of device code polls answered with
	// authorization_pending before a token is issued.
	pendingPolls int32

	mutex      sync.Mutex
	grants     []string
	tokenCount int32
}

func newMockTokenServer(lifetime time.Duration) *mockTokenServer {
	m := &mockTokenServer{
		tokenLifetime: lifetime,
		refreshToken:  "refresh-0001",
	}
	m.Server = httptest.NewServer(m)
	return m
}

func (m *mockTokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, deviceCodeEndpoint):
		fmt.Fprint(w, `{"device_code":"dev-code","user_code":"ABCD1234",`+
			`"verification_uri":"https://aka.localhost/devicelogin","expires_in":900,"interval":1}`)

	case strings.HasSuffix(r.URL.Path, tokenEndpoint):
		grant := r.PostFormValue("grant_type")
		m.mutex.Lock()
		m.grants = append(m.grants, grant)
		m.mutex.Unlock()

		if grant == deviceCodeGrant && atomic.AddInt32(&m.pendingPolls, -1) >= 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"authorization_pending","error_description":"user has not signed in yet"}`)
			return
		}

		if grant == "refresh_token" && r.PostFormValue("refresh_token") != m.refreshToken {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"refresh token is not valid"}`)
			return
		}

		n := atomic.AddInt32(&m.tokenCount, 1)
		fmt.Fprintf(w, `{"access_token":"token-%04d","token_type":"Bearer","expires_in":%d,"refresh_token":"%s"}`,
			n, int64(m.tokenLifetime/time.Second), m.refreshToken)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *mockTokenServer) servedGrants() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.grants...)
}

func (m *mockTokenServer) issuedTokens() int {
	return int(atomic.LoadInt32(&m.tokenCount))
}

// newTestManager creates a manager bound to the mock authority.
func (suite *EntraTestSuite) newTestManager(server *mockTokenServer, cred Credential, options ...auth.ProviderOptions) *CredentialManager {
	opt := auth.ProviderOptions{
		Logger:     testLogger,
		HTTPClient: testHTTPClient,
	}
	if len(options) > 0 {
		opt = options[0]
	}

	m, err := NewCredentialManager("test-tenant", testResource, cred, opt)
	suite.Require().NoErrorf(err, "NewCredentialManager() got error %v", err)
	m.authority = server.URL + "/test-tenant"
	return m
}

func (suite *EntraTestSuite) TestNewCredentialManager() {
	tests := []struct {
		desc    string
		tenant  string
		cred    Credential
		wantErr bool
	}{
		{"empty client id", "t", SharedSecret("", []byte("s")), true},
		{"empty secret", "t", SharedSecret("app", nil), true},
		{"good shared secret", "t", SharedSecret("app", []byte("s")), false},
		{"nil certificate", "t", Certificate("app", nil, nil), true},
		{"empty static token", "t", StaticToken(""), true},
		{"good static token", "", StaticToken("tok"), false},
		{"nil callback", "t", TokenCallback(nil), true},
		{"interactive without client id", "t", Interactive("", ""), false},
	}

	for i, r := range tests {
		msg := fmt.Sprintf("Test-%d (%s): NewCredentialManager() ", i+1, r.desc)
		_, err := NewCredentialManager(r.tenant, testResource, r.cred)
		if r.wantErr {
			suite.Errorf(err, msg+"should have failed")
		} else {
			suite.NoErrorf(err, msg+"got error %v", err)
		}
	}
}

func (suite *EntraTestSuite) TestProviderOptions() {
	tests := []struct {
		desc  string
		input auth.ProviderOptions
		want  auth.ProviderOptions
	}{
		{
			desc: "invalid Timeout and ExpiryWindow",
			input: auth.ProviderOptions{
				Timeout:      500 * time.Microsecond,
				ExpiryWindow: 500 * time.Microsecond,
			},
			want: defaultOptions,
		},
		{
			desc: "valid Timeout and ExpiryWindow",
			input: auth.ProviderOptions{
				Timeout:      5 * time.Second,
				ExpiryWindow: 2 * time.Second,
			},
			want: auth.ProviderOptions{
				Timeout:            5 * time.Second,
				InteractiveTimeout: defaultOptions.InteractiveTimeout,
				ExpiryWindow:       2 * time.Second,
				Logger:             defaultOptions.Logger,
				HTTPClient:         defaultOptions.HTTPClient,
			},
		},
		{
			desc: "specified Logger and HTTPClient",
			input: auth.ProviderOptions{
				Logger:     testLogger,
				HTTPClient: testHTTPClient,
			},
			want: auth.ProviderOptions{
				Timeout:            defaultOptions.Timeout,
				InteractiveTimeout: defaultOptions.InteractiveTimeout,
				ExpiryWindow:       defaultOptions.ExpiryWindow,
				Logger:             testLogger,
				HTTPClient:         testHTTPClient,
			},
		},
	}

	for i, r := range tests {
		msg := fmt.Sprintf("Test-%d (%s): NewCredentialManager() ", i+1, r.desc)
		m, err := NewCredentialManager("t", testResource, SharedSecret("app", []byte("s")), r.input)
		if suite.NoErrorf(err, msg+"got error %v", err) {
			suite.Equalf(r.want.Timeout, m.timeout, msg+"got unexpected Timeout")
			suite.Equalf(r.want.InteractiveTimeout, m.interactiveTimeout, msg+"got unexpected InteractiveTimeout")
			suite.Equalf(r.want.ExpiryWindow, m.expiryWindow, msg+"got unexpected ExpiryWindow")
			suite.Equalf(r.want.Logger, m.logger, msg+"got unexpected Logger")
			suite.Equalf(r.want.HTTPClient, m.httpClient, msg+"got unexpected HTTPClient")
		}
	}
}

func (suite *EntraTestSuite) TestScopeForResource() {
	tests := []struct {
		resource string
		want     string
	}{
		{"https://mycluster.aquiladata.io", "https://mycluster.aquiladata.io/.default"},
		{"https://mycluster.aquiladata.io/", "https://mycluster.aquiladata.io/.default"},
		{"https://mycluster.aquiladata.io/.default", "https://mycluster.aquiladata.io/.default"},
	}

	for _, r := range tests {
		suite.Equalf(r.want, scopeForResource(r.resource), "scopeForResource(%q)", r.resource)
	}
}

func (suite *EntraTestSuite) TestStaticToken() {
	m, err := NewCredentialManager("", testResource, StaticToken("fixed-token"))
	suite.Require().NoErrorf(err, "NewCredentialManager() got error %v", err)

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("fixed-token", token, "AccessToken() got unexpected token")
	suite.Nilf(m.cachedToken, "static tokens must not be cached")
}

func (suite *EntraTestSuite) TestTokenCallback() {
	calls := 0
	m, err := NewCredentialManager("", testResource, TokenCallback(
		func(ctx context.Context, resource string) (string, error) {
			calls++
			suite.Equalf(testResource, resource, "callback got unexpected resource")
			return fmt.Sprintf("cb-token-%d", calls), nil
		}))
	suite.Require().NoErrorf(err, "NewCredentialManager() got error %v", err)

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("cb-token-1", token, "AccessToken() got unexpected token")

	// Callback results must not be cached.
	token, err = m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("cb-token-2", token, "AccessToken() should invoke the callback every time")
}

func (suite *EntraTestSuite) TestTokenCallbackTimeout() {
	m, err := NewCredentialManager("", testResource, TokenCallback(
		func(ctx context.Context, resource string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		auth.ProviderOptions{Timeout: 50 * time.Millisecond})
	suite.Require().NoErrorf(err, "NewCredentialManager() got error %v", err)

	_, err = m.AccessToken(context.Background())
	suite.Errorf(err, "AccessToken() with a stuck callback should have failed")
}

func (suite *EntraTestSuite) TestSharedSecretAcquireAndCache() {
	server := newMockTokenServer(time.Hour)
	defer server.Close()

	m := suite.newTestManager(server, SharedSecret("app", []byte("s3cret")))

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("token-0001", token, "AccessToken() got unexpected token")

	// A second call must be served from the cache.
	token, err = m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("token-0001", token, "AccessToken() should reuse the cached token")
	suite.Equalf(1, server.issuedTokens(), "the authority should have been asked once")
}

func (suite *EntraTestSuite) TestSilentReacquisition() {
	// Tokens outlive their issue by less than the expiry window, so every
	// call after the first finds the cached token within the window.
	server := newMockTokenServer(30 * time.Second)
	defer server.Close()

	m := suite.newTestManager(server, SharedSecret("app", []byte("s3cret")),
		auth.ProviderOptions{
			ExpiryWindow: time.Minute,
			Logger:       testLogger,
			HTTPClient:   testHTTPClient,
		})

	_, err := m.AccessToken(context.Background())
	suite.Require().NoErrorf(err, "AccessToken() got error %v", err)

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("token-0002", token, "AccessToken() should have refreshed the token")

	grants := server.servedGrants()
	suite.Require().Equalf(2, len(grants), "got grants %v; want 2", grants)
	suite.Equalf("client_credentials", grants[0], "first acquisition should use the credentials grant")
	suite.Equalf("refresh_token", grants[1], "reacquisition should use the refresh grant")
}

func (suite *EntraTestSuite) TestSilentReacquisitionFallsBack() {
	server := newMockTokenServer(30 * time.Second)
	defer server.Close()

	m := suite.newTestManager(server, SharedSecret("app", []byte("s3cret")),
		auth.ProviderOptions{
			ExpiryWindow: time.Minute,
			Logger:       testLogger,
			HTTPClient:   testHTTPClient,
		})

	_, err := m.AccessToken(context.Background())
	suite.Require().NoErrorf(err, "AccessToken() got error %v", err)

	// Invalidate the account reference; the refresh grant fails and the
	// manager must fall back to a full acquisition.
	m.mutex.Lock()
	m.accountRef = "stale-reference"
	m.mutex.Unlock()

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("token-0002", token, "AccessToken() should have reacquired after refresh failure")

	grants := server.servedGrants()
	suite.Require().Equalf(3, len(grants), "got grants %v; want 3", grants)
	suite.Equalf("refresh_token", grants[1], "reacquisition should try the refresh grant first")
	suite.Equalf("client_credentials", grants[2], "failed refresh should fall back to the credentials grant")
}

func (suite *EntraTestSuite) TestConcurrentAcquisition() {
	server := newMockTokenServer(time.Hour)
	defer server.Close()

	m := suite.newTestManager(server, SharedSecret("app", []byte("s3cret")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := m.AccessToken(context.Background())
			suite.NoErrorf(err, "AccessToken() got error %v", err)
			suite.Equalf("token-0001", token, "AccessToken() got unexpected token")
		}()
	}
	wg.Wait()

	suite.Equalf(1, server.issuedTokens(), "concurrent callers should share one acquisition")
}

func (suite *EntraTestSuite) TestDeviceCodeFlow() {
	server := newMockTokenServer(time.Hour)
	server.pendingPolls = 2
	defer server.Close()

	m := suite.newTestManager(server, Interactive("", "user@example.com"),
		auth.ProviderOptions{
			InteractiveTimeout: 10 * time.Second,
			Logger:             testLogger,
			HTTPClient:         testHTTPClient,
		})

	token, err := m.AccessToken(context.Background())
	suite.NoErrorf(err, "AccessToken() got error %v", err)
	suite.Equalf("token-0001", token, "AccessToken() got unexpected token")

	grants := server.servedGrants()
	suite.Require().Equalf(3, len(grants), "got grants %v; want 2 pending polls and 1 token", grants)
	for _, g := range grants {
		suite.Equalf(deviceCodeGrant, g, "device sign-in should poll with the device code grant")
	}
}

func (suite *EntraTestSuite) TestClose() {
	server := newMockTokenServer(time.Hour)
	defer server.Close()

	m := suite.newTestManager(server, SharedSecret("app", []byte("s3cret")))

	_, err := m.AccessToken(context.Background())
	suite.Require().NoErrorf(err, "AccessToken() got error %v", err)

	suite.NoErrorf(m.Close(), "Close() got error")
	// Subsequent call of Close() should be no-op.
	suite.NoErrorf(m.Close(), "Close() got error")

	_, err = m.AccessToken(context.Background())
	suite.Errorf(err, "AccessToken() after Close() should have failed")
}

func (suite *EntraTestSuite) TestNewSharedSecretFromFile() {
	_, err := NewSharedSecretFromFile("config_file_not_exist__", testResource)
	suite.Errorf(err, "NewSharedSecretFromFile() with a missing file should have failed")

	tests := []struct {
		desc    string
		content string
		wantErr bool
	}{
		{"missing tenant", "clientId=app\nclientSecret=s\n", true},
		{"missing client id", "tenant=t\nclientSecret=s\n", true},
		{"missing secret", "tenant=t\nclientId=app\n", true},
		{"complete file", "tenant=t\nclientId=app\nclientSecret=s\n", false},
	}

	for i, r := range tests {
		msg := fmt.Sprintf("Test-%d (%s): NewSharedSecretFromFile() ", i+1, r.desc)
		f, err := os.CreateTemp("", "entra-credentials.*~")
		if !suite.NoErrorf(err, "failed to create a credentials file") {
			continue
		}
		_, err = f.WriteString(r.content)
		f.Close()
		defer os.Remove(f.Name())
		if !suite.NoErrorf(err, "failed to write the credentials file") {
			continue
		}

		m, err := NewSharedSecretFromFile(f.Name(), testResource)
		if r.wantErr {
			suite.Errorf(err, msg+"should have failed")
			continue
		}

		if suite.NoErrorf(err, msg+"got error %v", err) {
			suite.Equalf("t", m.tenant, msg+"got unexpected tenant")
			suite.Equalf("app", m.cred.clientID, msg+"got unexpected client id")
			suite.Equalf("s", string(m.cred.secret), msg+"got unexpected secret")
		}
	}
}
