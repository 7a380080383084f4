//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package entra

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
)

// tokenResponse represents a successful response from the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// oauthError represents an error response from the token endpoint.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// token converts the response into an auth.Token, deriving the expiry from
// expires_in when present and from the token's own exp claim otherwise.
func (tr *tokenResponse) token() *auth.Token {
	if tr.ExpiresIn > 0 {
		return auth.NewTokenWithExpiry(tr.AccessToken, tr.TokenType,
			time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second))
	}

	// The token endpoint did not report a lifetime, fall back to the exp
	// claim carried inside the token itself. The signature is not checked
	// here, the service validates it on every request.
	parser := jwt.NewParser()
	if t, _, err := parser.ParseUnverified(tr.AccessToken, jwt.MapClaims{}); err == nil {
		if exp, err := t.Claims.GetExpirationTime(); err == nil && exp != nil {
			return auth.NewTokenWithExpiry(tr.AccessToken, tr.TokenType, exp.Time)
		}
	}

	return auth.NewToken(tr.AccessToken, tr.TokenType, 0)
}

// parseTokenResponse decodes a token endpoint response, converting OAuth2
// error payloads into auth errors.
func parseTokenResponse(resp *httputil.Response) (*tokenResponse, error) {
	if resp.Code != http.StatusOK {
		var oe oauthError
		if err := json.Unmarshal(resp.Body, &oe); err == nil && oe.Code != "" {
			return nil, aquilaerr.NewAuth("token endpoint returned %d: %s: %s",
				resp.Code, oe.Code, oe.Description)
		}
		return nil, aquilaerr.NewAuth("token endpoint returned %d: %s", resp.Code, string(resp.Body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, aquilaerr.NewAuthWithCause(err, "cannot parse token endpoint response")
	}

	if tr.AccessToken == "" {
		return nil, aquilaerr.NewAuth("token endpoint response contains no access token")
	}

	if tr.TokenType == "" {
		tr.TokenType = auth.BearerToken
	}

	return &tr, nil
}

// oauthErrorCode extracts the OAuth2 error code from a non-200 token
// endpoint response, returning an empty string when the body does not carry
// one.
func oauthErrorCode(resp *httputil.Response) string {
	var oe oauthError
	if err := json.Unmarshal(resp.Body, &oe); err != nil {
		return ""
	}
	return oe.Code
}
