//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquilaerr

import (
	"encoding/json"
	"net/http"
	"strings"
)

// oneAPIEnvelope is the structured error body returned by the service.
// The permanence flag marks failures, such as semantic query errors, that a
// retry of the same request can never fix.
type oneAPIEnvelope struct {
	Error *oneAPIError `json:"error"`

	// Message is the generic fallback field used by responses that do not
	// carry a structured error.
	Message string `json:"message"`
}

type oneAPIError struct {
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	Type        string          `json:"@type"`
	Description string          `json:"@message"`
	Permanent   bool            `json:"@permanent"`
	Context     *oneAPIContext  `json:"@context"`
	Extended    json.RawMessage `json:"@ExtendedErrors"`
}

type oneAPIContext struct {
	ActivityID string `json:"activityId"`
}

// ParseServiceError builds an error from a non-success response body
// returned by the service.
//
// The body is one of:
//
//	a JSON object with an "error" key: a structured service error carrying
//	a description and a permanence flag;
//	a JSON object with a generic "message" key;
//	a raw non-JSON string, in which case the message is derived from the
//	HTTP status code.
//
// A 429 status always produces a ThrottleKind error regardless of body shape.
func ParseServiceError(body []byte, statusCode int) *Error {
	if statusCode == http.StatusTooManyRequests {
		return NewThrottle("request was throttled by the service, HTTP status code: %d", statusCode)
	}

	var env oneAPIEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil {
			e := NewService(env.Error.Permanent, "%s", serviceErrMessage(env.Error))
			if env.Error.Context != nil {
				e.ActivityID = env.Error.Context.ActivityID
			}
			return e
		}

		if env.Message != "" {
			return NewService(false, "%s", env.Message)
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return NewService(false, "request failed, HTTP status code: %d, response: %s", statusCode, msg)
}

func serviceErrMessage(e *oneAPIError) string {
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if e.Code != "" && msg != "" {
		return e.Code + ": " + msg
	}
	if msg == "" {
		return e.Code
	}
	return msg
}
