//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package entra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
)

// defaultPublicClientID identifies the Aquila SDK as a public client
// application for the interactive flow when the application does not
// register its own.
const defaultPublicClientID = "db662dc1-0cfe-4e1c-a843-19a68e65be58"

// deviceCodeResponse represents the response to a device authorization
// request.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
	Message         string `json:"message"`
}

// deviceCodeAcquire implements the device code flow: request a device code,
// present the verification instructions to the user, then poll the token
// endpoint until the user completes sign-in or the interactive timeout
// elapses.
func (m *CredentialManager) deviceCodeAcquire(ctx context.Context) (*auth.Token, string, error) {
	clientID := m.cred.clientID
	if clientID == "" {
		clientID = defaultPublicClientID
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("scope", m.scope)
	if m.cred.usernameHint != "" {
		form.Set("login_hint", m.cred.usernameHint)
	}

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}

	resp, err := httputil.DoRequest(ctx, m.httpClient, m.timeout, http.MethodPost,
		m.authority+deviceCodeEndpoint, []byte(form.Encode()), headers, m.logger)
	if err != nil {
		return nil, "", aquilaerr.NewAuthWithCause(err, "device authorization request failed")
	}

	if resp.Code != http.StatusOK {
		return nil, "", aquilaerr.NewAuth("device authorization request returned %d: %s",
			resp.Code, string(resp.Body))
	}

	var dc deviceCodeResponse
	if err = json.Unmarshal(resp.Body, &dc); err != nil {
		return nil, "", aquilaerr.NewAuthWithCause(err, "cannot parse device authorization response")
	}

	if dc.Message != "" {
		m.logger.Warn("%s", dc.Message)
	} else {
		m.logger.Warn("To sign in, open %s and enter the code %s", dc.VerificationURI, dc.UserCode)
	}

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(m.interactiveTimeout)
	if dc.ExpiresIn > 0 {
		codeExpiry := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)
		if codeExpiry.Before(deadline) {
			deadline = codeExpiry
		}
	}

	pollForm := url.Values{}
	pollForm.Set("grant_type", deviceCodeGrant)
	pollForm.Set("client_id", clientID)
	pollForm.Set("device_code", dc.DeviceCode)

	for {
		resp, err = httputil.DoRequest(ctx, m.httpClient, m.timeout, http.MethodPost,
			m.authority+tokenEndpoint, []byte(pollForm.Encode()), headers, m.logger)
		if err != nil {
			return nil, "", aquilaerr.NewAuthWithCause(err, "token request failed")
		}

		if resp.Code == http.StatusOK {
			tr, err := parseTokenResponse(resp)
			if err != nil {
				return nil, "", err
			}
			return tr.token(), tr.RefreshToken, nil
		}

		switch oauthErrorCode(resp) {
		case "authorization_pending":
			// The user has not completed sign-in yet, keep polling.
		case "slow_down":
			interval += 5 * time.Second
		default:
			_, err = parseTokenResponse(resp)
			return nil, "", err
		}

		if time.Now().After(deadline) {
			return nil, "", aquilaerr.NewAuth("interactive sign-in did not complete within %v",
				m.interactiveTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, "", aquilaerr.NewAuthWithCause(ctx.Err(), "interactive sign-in canceled")
		case <-time.After(interval):
		}
	}
}
