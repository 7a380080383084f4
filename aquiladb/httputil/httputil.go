//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package httputil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

// NewPostRequest creates an http POST request using the specified url and data.
// It wraps data into an io.Reader and calls http.NewRequest with POST method.
func NewPostRequest(url string, data []byte) (*http.Request, error) {
	body := bytes.NewReader(data)
	return http.NewRequest(http.MethodPost, url, body)
}

// NewGetRequest creates an http GET request using the specified url.
func NewGetRequest(url string) (*http.Request, error) {
	return http.NewRequest(http.MethodGet, url, http.NoBody)
}

// RequestExecutor represents an interface used to execute an HTTP request.
type RequestExecutor interface {
	// Do is used to send an http request to the server, returns an http
	// response and an error if one occurred during execution.
	Do(req *http.Request) (*http.Response, error)
}

// Response represents a response that contains the content, status code and
// headers of an http.Response returned from the server.
type Response struct {
	Body   []byte      // HTTP response body.
	Code   int         // HTTP response status code.
	Header http.Header // HTTP response headers.
}

// newHTTPRequest creates an http request using the specified method, url and
// data. The http request header is populated with the specified headers.
func newHTTPRequest(method string, url string, data []byte, headers map[string]string) (*http.Request, error) {
	var rd io.Reader
	if len(data) > 0 {
		rd = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, url, rd)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	if httpReq.Header.Get("Host") == "" {
		httpReq.Header.Set("Host", httpReq.URL.Hostname())
	}

	return httpReq, nil
}

// DoRequest creates an http request using the specified method, url, data and
// headers, then executes the request using the specified executor, applying
// the specified timeout.
//
// DoRequest executes the request exactly once: retry decisions belong to the
// caller's retry handler, never to the transport layer. Exceeding the timeout
// returns a TimeoutError; cancellation by the caller's context is reported
// unchanged.
func DoRequest(ctx context.Context, executor RequestExecutor, timeout time.Duration,
	method string, url string, data []byte, headers map[string]string,
	lg *logger.Logger) (*Response, error) {

	httpReq, err := newHTTPRequest(method, url, data, headers)
	if err != nil {
		return nil, err
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, timeout)
	defer reqCancel()

	httpReq = httpReq.WithContext(reqCtx)
	httpResp, err := executor.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(err, reqCtx, ctx, url, timeout)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, wrapTransportError(err, reqCtx, ctx, url, timeout)
	}

	lg.Fine("DoRequest(): %s %s returned status code %d", method, url, httpResp.StatusCode)

	return &Response{
		Code:   httpResp.StatusCode,
		Body:   body,
		Header: httpResp.Header,
	}, nil
}

// wrapTransportError classifies a failure of the HTTP round trip or the
// body read. Exceeding the request timeout becomes a TimeoutError and any
// other transport fault a NetworkError, both transient. Cancellation by the
// caller's context is reported unchanged.
func wrapTransportError(err error, reqCtx, callerCtx context.Context, url string, timeout time.Duration) error {
	if callerCtx.Err() != nil {
		return err
	}
	if reqCtx.Err() == context.DeadlineExceeded {
		return aquilaerr.NewTimeout("request to %s timed out after %v", url, timeout)
	}
	return aquilaerr.NewNetworkWithCause(err, "request to %s failed", url)
}

// StreamResponse carries the status, headers and the unread body of a
// response. The caller owns the body and must close it.
type StreamResponse struct {
	Body   io.ReadCloser // Unread HTTP response body.
	Code   int           // HTTP response status code.
	Header http.Header   // HTTP response headers.
}

// cancelReadCloser releases the request context when the body is closed,
// keeping the timeout armed for as long as the caller reads.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// DoRequestStream is the streaming variant of DoRequest: it executes the
// request the same way but hands back the response body unread instead of
// buffering it. The timeout covers the round trip and the body read; it is
// released when the returned body is closed.
func DoRequestStream(ctx context.Context, executor RequestExecutor, timeout time.Duration,
	method string, url string, data []byte, headers map[string]string,
	lg *logger.Logger) (*StreamResponse, error) {

	httpReq, err := newHTTPRequest(method, url, data, headers)
	if err != nil {
		return nil, err
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, timeout)

	httpReq = httpReq.WithContext(reqCtx)
	httpResp, err := executor.Do(httpReq)
	if err != nil {
		reqCancel()
		return nil, wrapTransportError(err, reqCtx, ctx, url, timeout)
	}

	lg.Fine("DoRequestStream(): %s %s returned status code %d", method, url, httpResp.StatusCode)

	return &StreamResponse{
		Code:   httpResp.StatusCode,
		Body:   &cancelReadCloser{ReadCloser: httpResp.Body, cancel: reqCancel},
		Header: httpResp.Header,
	}, nil
}
