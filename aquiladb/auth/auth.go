//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package auth provides functionality and types used for credential providers.
package auth

import (
	"context"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

// BearerToken represents the bearer token authorization scheme: the bearer
// who holds the access token can access authorized resources. This is the
// only scheme the Aquila service accepts.
const BearerToken string = "Bearer"

// CredentialProvider is an interface that provides access tokens used to
// authorize client requests.
//
// Implementations of this interface must be safe for concurrent use by
// multiple goroutines.
type CredentialProvider interface {
	// AccessToken returns an access token used to authorize a request.
	// Implementations may return a cached token when one is still valid.
	AccessToken(ctx context.Context) (string, error)

	// Close releases resources allocated by the provider.
	Close() error
}

// Token represents the credentials used to authorize requests to access
// protected resources.
type Token struct {
	// The access token issued by the authorization server.
	AccessToken string `json:"access_token"`

	// Token type.
	// If not set, this is "Bearer" by default.
	Type string `json:"token_type,omitempty"`

	// The duration of time the access token is granted for.
	// A zero value of ExpiresIn means the access token does not expire.
	ExpiresIn time.Duration `json:"expires_in,omitempty"`

	// The time when the access token expires.
	// A zero value of Expiry means the access token does not expire.
	Expiry time.Time `json:"expiry,omitempty"`
}

// NewToken creates a token with the specified access token, token type and
// expiresIn duration.
func NewToken(accessToken, tokenType string, expiresIn time.Duration) *Token {
	if tokenType == "" {
		tokenType = BearerToken
	}

	t := &Token{
		AccessToken: accessToken,
		Type:        tokenType,
		ExpiresIn:   expiresIn,
	}

	if expiresIn > 0 {
		t.Expiry = time.Now().Add(expiresIn)
	}

	return t
}

// NewTokenWithExpiry creates a token with the specified access token, token
// type and expiry.
func NewTokenWithExpiry(accessToken, tokenType string, expiry time.Time) *Token {
	if tokenType == "" {
		tokenType = BearerToken
	}

	t := &Token{
		AccessToken: accessToken,
		Type:        tokenType,
		Expiry:      expiry,
	}

	if expiry.After(time.Now()) {
		t.ExpiresIn = time.Until(expiry)
	}

	return t
}

// Expired checks whether the access token has expired.
func (t Token) Expired() bool {
	// A zero expiry time means the access token does not expire.
	if t.Expiry.IsZero() {
		return false
	}

	return t.Expiry.Before(time.Now())
}

// NeedRefresh checks whether the access token needs to refresh.
//
// An access token needs to refresh if it is about to expire in a duration of
// time that is within the specified expiry window. A cached token that fails
// this check must not be returned to callers without reacquisition.
func (t Token) NeedRefresh(expiryWindow time.Duration) bool {
	if t.Expiry.IsZero() || expiryWindow <= 0 {
		return false
	}

	return time.Until(t.Expiry) <= expiryWindow
}

// AuthString returns a string that will be set in the HTTP "Authorization" header.
func (t Token) AuthString() string {
	if t.Type == "" {
		return BearerToken + " " + t.AccessToken
	}

	return t.Type + " " + t.AccessToken
}

// ProviderOptions represents options for a credential provider.
type ProviderOptions struct {
	// Timeout specifies the timeout for non-interactive token requests.
	// If not set, or set to a value that is less than 1 millisecond,
	// use the default timeout that depends on the concrete implementation of
	// the credential provider.
	Timeout time.Duration

	// InteractiveTimeout specifies the timeout for flows that wait on a
	// human interaction, such as the device code flow. It is longer than
	// Timeout by default since it waits on a person, not a server.
	InteractiveTimeout time.Duration

	// ExpiryWindow specifies a duration of time that determines how far
	// ahead of access token expiry the provider attempts to renew the token.
	// If not set, or set to a value that is less than 1 millisecond,
	// use the default expiry window that depends on the concrete
	// implementation of the credential provider.
	ExpiryWindow time.Duration

	// Logger specifies a logger for the provider.
	// If not set, use logger.DefaultLogger by default.
	Logger *logger.Logger

	// HTTPClient specifies an HTTP client for the provider.
	// If not set, use httputil.DefaultHTTPClient by default.
	HTTPClient httputil.RequestExecutor
}
