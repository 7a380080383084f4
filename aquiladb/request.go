//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// Bounds applied to the server-side timeout option. Values outside this
	// range are clamped, not rejected.
	minServerTimeout = time.Minute
	maxServerTimeout = time.Hour
)

// requestProperties carries the per-request options and query parameters
// serialized into the request body alongside the statement.
type requestProperties struct {
	Options    map[string]interface{} `json:"Options,omitempty"`
	Parameters map[string]string      `json:"Parameters,omitempty"`

	// serverTimeout is the clamped servertimeout value, kept so the
	// client-side timeout can be stretched to cover it.
	serverTimeout time.Duration
}

// RequestOption configures a single query or management request.
type RequestOption func(*requestProperties)

// WithServerTimeout sets the server-side execution timeout for the request.
// The value is clamped to the range the service accepts, from 1 minute to
// 1 hour, and transmitted as a timespan literal.
func WithServerTimeout(d time.Duration) RequestOption {
	return func(p *requestProperties) {
		if d < minServerTimeout {
			d = minServerTimeout
		} else if d > maxServerTimeout {
			d = maxServerTimeout
		}
		p.serverTimeout = d
		p.option("servertimeout", formatTimespan(d))
	}
}

// WithOption sets a named request option to an arbitrary value. Options set
// this way are passed to the service as-is.
func WithOption(name string, value interface{}) RequestOption {
	return func(p *requestProperties) {
		p.option(name, value)
	}
}

// WithParameter declares a query parameter referenced by the statement.
func WithParameter(name, value string) RequestOption {
	return func(p *requestProperties) {
		if p.Parameters == nil {
			p.Parameters = make(map[string]string)
		}
		p.Parameters[name] = value
	}
}

// WithRequestDescription sets a free-form description that the service
// records alongside the request for tracing.
func WithRequestDescription(desc string) RequestOption {
	return func(p *requestProperties) {
		p.option("request_description", desc)
	}
}

func (p *requestProperties) option(name string, value interface{}) {
	if p.Options == nil {
		p.Options = make(map[string]interface{})
	}
	p.Options[name] = value
}

// requestBody is the JSON payload posted to the query and management
// endpoints.
type requestBody struct {
	Database   string             `json:"db"`
	Statement  string             `json:"csl"`
	Properties *requestProperties `json:"properties,omitempty"`
}

// marshalRequest builds the request payload for the specified database and
// statement with the supplied options applied. It also reports the
// server-side timeout the options requested, or zero when they did not.
func marshalRequest(database, statement string, options []RequestOption) ([]byte, time.Duration, error) {
	body := requestBody{
		Database:  database,
		Statement: statement,
	}

	var serverTimeout time.Duration
	if len(options) > 0 {
		props := &requestProperties{}
		for _, opt := range options {
			opt(props)
		}
		if props.Options != nil || props.Parameters != nil {
			body.Properties = props
		}
		serverTimeout = props.serverTimeout
	}

	data, err := json.Marshal(body)
	return data, serverTimeout, err
}

// formatTimespan renders a duration as a timespan literal in the form
// d.hh:mm:ss or d.hh:mm:ss.fffffff when the duration carries sub-second
// precision. The fraction counts 100-nanosecond ticks.
func formatTimespan(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	ticks := d / (100 * time.Nanosecond)

	if ticks > 0 {
		return fmt.Sprintf("%d.%02d:%02d:%02d.%07d", days, hours, minutes, seconds, ticks)
	}
	return fmt.Sprintf("%d.%02d:%02d:%02d", days, hours, minutes, seconds)
}
