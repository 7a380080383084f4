//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package aquilaerr defines the error types that may be returned by the
// Aquila client.
//
// Errors are divided into kinds that separate "the request was rejected by
// the service" from "the client could not complete the request", and each
// error carries a permanence flag that reports whether retrying the same
// request could ever succeed. Permanence is service-asserted where the
// service reports it, and defaulted by kind otherwise.
package aquilaerr

import (
	"fmt"
)

// Kind represents the category of an error.
type Kind int

const (
	// NoKind represents an unclassified error.
	NoKind Kind = iota

	// ClientKind represents caller misuse: a blank required argument, a nil
	// stream, an invalid ingestion source. Never retried.
	ClientKind

	// AuthKind represents a failure to obtain a usable credential: no access
	// token could be acquired, a malformed authority URL, an aborted
	// interactive flow. Always permanent.
	AuthKind

	// ServiceKind represents a failure reported by the remote engine. The
	// permanence flag is read from the structured error body when present.
	ServiceKind

	// ThrottleKind represents an HTTP 429 response. Always transient.
	ThrottleKind

	// ProtocolKind represents a response body that does not parse as the
	// expected wire format. Retrying will not fix a malformed response, so
	// this is always permanent.
	ProtocolKind

	// TimeoutKind represents a network call that exceeded its deadline.
	// Transient unless the error body indicated otherwise.
	TimeoutKind

	// NetworkKind represents a transport failure before a response was
	// received or completed: connection refused, name resolution failure,
	// a reset mid-response. Always transient; the fault says nothing about
	// whether the request itself is acceptable.
	NetworkKind
)

// String returns a string representation for the error kind.
//
// This implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case ClientKind:
		return "ClientError"
	case AuthKind:
		return "AuthError"
	case ServiceKind:
		return "ServiceError"
	case ThrottleKind:
		return "ThrottleError"
	case ProtocolKind:
		return "ProtocolError"
	case TimeoutKind:
		return "TimeoutError"
	case NetworkKind:
		return "NetworkError"
	default:
		return "Error"
	}
}

// Error represents an error returned by the Aquila client. It wraps the
// error kind, error message, permanence and an optional cause, and carries
// request context (endpoint, service activity id) when available.
//
// This implements the error interface.
type Error struct {
	// Kind specifies the error category.
	Kind Kind `json:"kind"`

	// Message specifies the description of the error.
	Message string `json:"message"`

	// Cause optionally specifies the cause of the error.
	Cause error `json:"cause,omitempty"`

	// Permanent reports whether retrying the request could ever succeed.
	Permanent bool `json:"permanent"`

	// RetriesExhausted is set when the error is the last of a sequence of
	// transient failures that used up the retry budget.
	RetriesExhausted bool `json:"retriesExhausted,omitempty"`

	// Endpoint is the request URL associated with the failure, when known.
	Endpoint string `json:"endpoint,omitempty"`

	// ActivityID is the service activity id associated with the failed
	// request, when the service reported one.
	ActivityID string `json:"activityId,omitempty"`
}

// New creates an error with the specified kind and message. Permanence is
// defaulted by kind: ClientKind, AuthKind and ProtocolKind errors are
// permanent, ThrottleKind, TimeoutKind and NetworkKind errors are
// transient. ServiceKind errors default to transient; use NewService to set
// service-asserted permanence.
func New(kind Kind, msgFmt string, msgArgs ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(msgFmt, msgArgs...),
		Permanent: defaultPermanence(kind),
	}
}

// NewWithCause creates an error with the specified kind, message and the
// cause of the error.
func NewWithCause(kind Kind, cause error, msgFmt string, msgArgs ...interface{}) *Error {
	e := New(kind, msgFmt, msgArgs...)
	e.Cause = cause
	return e
}

func defaultPermanence(kind Kind) bool {
	switch kind {
	case ClientKind, AuthKind, ProtocolKind:
		return true
	default:
		return false
	}
}

// NewIllegalArgument creates a ClientKind error with the specified message.
func NewIllegalArgument(msgFmt string, msgArgs ...interface{}) *Error {
	return New(ClientKind, msgFmt, msgArgs...)
}

// NewAuth creates an AuthKind error with the specified message.
func NewAuth(msgFmt string, msgArgs ...interface{}) *Error {
	return New(AuthKind, msgFmt, msgArgs...)
}

// NewAuthWithCause creates an AuthKind error with the specified cause and message.
func NewAuthWithCause(cause error, msgFmt string, msgArgs ...interface{}) *Error {
	return NewWithCause(AuthKind, cause, msgFmt, msgArgs...)
}

// NewProtocol creates a ProtocolKind error with the specified message.
func NewProtocol(msgFmt string, msgArgs ...interface{}) *Error {
	return New(ProtocolKind, msgFmt, msgArgs...)
}

// NewProtocolWithCause creates a ProtocolKind error with the specified cause and message.
func NewProtocolWithCause(cause error, msgFmt string, msgArgs ...interface{}) *Error {
	return NewWithCause(ProtocolKind, cause, msgFmt, msgArgs...)
}

// NewThrottle creates a ThrottleKind error with the specified message.
func NewThrottle(msgFmt string, msgArgs ...interface{}) *Error {
	return New(ThrottleKind, msgFmt, msgArgs...)
}

// NewTimeout creates a TimeoutKind error with the specified message.
func NewTimeout(msgFmt string, msgArgs ...interface{}) *Error {
	return New(TimeoutKind, msgFmt, msgArgs...)
}

// NewTimeoutWithCause creates a TimeoutKind error with the specified cause
// and message.
func NewTimeoutWithCause(cause error, msgFmt string, msgArgs ...interface{}) *Error {
	return NewWithCause(TimeoutKind, cause, msgFmt, msgArgs...)
}

// NewNetworkWithCause creates a NetworkKind error with the specified cause
// and message.
func NewNetworkWithCause(cause error, msgFmt string, msgArgs ...interface{}) *Error {
	return NewWithCause(NetworkKind, cause, msgFmt, msgArgs...)
}

// NewService creates a ServiceKind error with the specified permanence and message.
func NewService(permanent bool, msgFmt string, msgArgs ...interface{}) *Error {
	e := New(ServiceKind, msgFmt, msgArgs...)
	e.Permanent = permanent
	return e
}

// Error returns a descriptive message for the error.
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s]: %s", e.Kind.String(), e.Message)
	}

	return fmt.Sprintf("[%s]: %s. Caused by:\n\t%s", e.Kind.String(), e.Message, e.Cause.Error())
}

// Unwrap returns the cause of the error, if any.
//
// This supports the errors.Is/errors.As matching of wrapped errors.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the operation that returned this error may be
// retried. It is the inverse of the permanence flag.
func (e *Error) Retryable() bool {
	return !e.Permanent
}

// Is checks if the specified error is an Error value and its kind matches
// any of the expected kinds if specified.
func Is(err error, expectedKinds ...Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}

	if len(expectedKinds) == 0 {
		return true
	}

	for _, kind := range expectedKinds {
		if e.Kind == kind {
			return true
		}
	}

	return false
}

// IsThrottle returns true if the specified error is a ThrottleKind error.
func IsThrottle(err error) bool {
	return Is(err, ThrottleKind)
}

// IsAuth returns true if the specified error is an AuthKind error.
func IsAuth(err error) bool {
	return Is(err, AuthKind)
}

// IsProtocol returns true if the specified error is a ProtocolKind error.
func IsProtocol(err error) bool {
	return Is(err, ProtocolKind)
}

// IsTimeout returns true if the specified error is a TimeoutKind error.
func IsTimeout(err error) bool {
	return Is(err, TimeoutKind)
}

// IsNetwork returns true if the specified error is a NetworkKind error.
func IsNetwork(err error) bool {
	return Is(err, NetworkKind)
}

// IsRetryable reports whether the specified error is an Error value that may
// be retried. Errors of other types are not retryable.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retryable()
}

// WithContext attaches the specified endpoint and activity id to the error
// if it is an Error value, and returns the error unchanged otherwise.
// Existing context on the error is preserved.
func WithContext(err error, endpoint, activityID string) error {
	e, ok := err.(*Error)
	if !ok {
		return err
	}

	if e.Endpoint == "" {
		e.Endpoint = endpoint
	}
	if e.ActivityID == "" {
		e.ActivityID = activityID
	}
	return e
}

// TagRetriesExhausted marks the error as the last of a retry sequence whose
// budget has been used up, and returns it.
func TagRetriesExhausted(err error) error {
	if e, ok := err.(*Error); ok {
		e.RetriesExhausted = true
	}
	return err
}
