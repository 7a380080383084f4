//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"context"
	"math/rand"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// RetryHandler is used by the request handling system when a retryable error
// is returned. It controls the number of retries as well as frequency of
// retries using a delaying algorithm.
//
// A default RetryHandler is always configured on a Client instance and can
// be controlled or overridden using Config.RetryHandler.
//
// Implementations of this interface must be immutable so they can be shared.
type RetryHandler interface {
	// MaxNumRetries returns the maximum number of retries that this handler
	// instance will allow before the error is reported to the application.
	MaxNumRetries() uint

	// ShouldRetry indicates whether the request should continue to retry
	// upon receiving the specified error and having attempted the specified
	// number of retries.
	ShouldRetry(numRetries uint, err error) bool

	// Delay pauses between retries. It is called after ShouldRetry has
	// approved another attempt, and returns early with the context error if
	// the context is canceled during the pause.
	Delay(ctx context.Context, numRetries uint, err error) error
}

// DefaultRetryHandler represents the default implementation of the
// RetryHandler interface. It retries errors classified transient using
// exponential backoff with random jitter, and never retries errors
// classified permanent.
type DefaultRetryHandler struct {
	maxNumRetries uint
	baseDelay     time.Duration
	maxJitter     time.Duration
}

// NewDefaultRetryHandler creates a DefaultRetryHandler with the specified
// maximum number of retries and base delay. The base delay must be greater
// than or equal to 1 millisecond.
func NewDefaultRetryHandler(maxNumRetries uint, baseDelay time.Duration) (*DefaultRetryHandler, error) {
	if baseDelay < time.Millisecond {
		return nil, aquilaerr.NewIllegalArgument("base delay must be greater than or equal to 1 millisecond")
	}

	return &DefaultRetryHandler{
		maxNumRetries: maxNumRetries,
		baseDelay:     baseDelay,
		maxJitter:     time.Second,
	}, nil
}

// MaxNumRetries returns the maximum number of retries that this handler
// will allow before the error is reported to the application.
func (r DefaultRetryHandler) MaxNumRetries() uint {
	return r.maxNumRetries
}

// ShouldRetry reports whether the request should continue to retry upon
// receiving the specified error and having attempted the specified number
// of retries.
//
// Only errors classified transient are retried. Permanent errors, which
// include authentication failures, malformed requests and service errors
// flagged permanent, are reported to the application immediately.
func (r DefaultRetryHandler) ShouldRetry(numRetries uint, err error) bool {
	if !aquilaerr.IsRetryable(err) {
		return false
	}

	return numRetries < r.maxNumRetries
}

// Delay causes the current goroutine to pause for a period of time computed
// with an exponential backoff algorithm, or until the specified context is
// canceled, whichever comes first.
//
// Throttling errors are backed off from a larger base delay because the
// service sheds load for longer than a transient fault lasts.
func (r DefaultRetryHandler) Delay(ctx context.Context, numRetries uint, err error) error {
	base := r.baseDelay
	if aquilaerr.IsThrottle(err) {
		base = 4 * r.baseDelay
	}

	d := computeBackoffDelay(numRetries, base, r.maxJitter)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Use an exponential backoff algorithm to compute time of delay.
//
// Assumption: numRetries starts with 1
// delay = 2^(numRetries-1) * baseDelay + random jitter in [0, maxJitter)
func computeBackoffDelay(numRetries uint, baseDelay, maxJitter time.Duration) time.Duration {
	if numRetries < 1 {
		return baseDelay
	}
	if numRetries > 16 {
		numRetries = 16
	}
	d := (1 << (numRetries - 1)) * baseDelay
	if maxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(maxJitter)))
	}
	return d
}
