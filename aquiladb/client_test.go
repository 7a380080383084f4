//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// staticProvider is a test credential provider that hands out one fixed
// token.
type staticProvider struct {
	token string
}

func (p *staticProvider) AccessToken(ctx context.Context) (string, error) {
	return p.token, nil
}

func (p *staticProvider) Close() error {
	return nil
}

// recordingExecutor is a test request executor that records every request
// and replays canned responses in order, repeating the last one.
type recordingExecutor struct {
	requests  []*http.Request
	responses []*http.Response
}

func (e *recordingExecutor) Do(req *http.Request) (*http.Response, error) {
	e.requests = append(e.requests, req)
	i := len(e.requests) - 1
	if i >= len(e.responses) {
		i = len(e.responses) - 1
	}
	resp := e.responses[i]
	// Responses are replayed more than once in some tests; give each
	// replay its own body reader.
	body := resp.Body.(*replayBody)
	return &http.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       io.NopCloser(bytes.NewReader(body.data)),
	}, nil
}

type replayBody struct {
	io.Reader
	data []byte
}

func (b *replayBody) Close() error { return nil }

func makeResponse(code int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: code,
		Header:     header,
		Body:       &replayBody{data: []byte(body)},
	}
}

// immediateRetryHandler retries transient errors without delay.
type immediateRetryHandler struct {
	max uint
}

func (h immediateRetryHandler) MaxNumRetries() uint {
	return h.max
}

func (h immediateRetryHandler) ShouldRetry(numRetries uint, err error) bool {
	return aquilaerr.IsRetryable(err) && numRetries < h.max
}

func (h immediateRetryHandler) Delay(ctx context.Context, numRetries uint, err error) error {
	return nil
}

func newTestClient(t *testing.T, exec *recordingExecutor, maxRetries uint) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint:           "http://localhost:8080",
		CredentialProvider: &staticProvider{token: "test-token"},
		RetryHandler:       immediateRetryHandler{max: maxRetries},
		LoggingConfig:      LoggingConfig{DisableLogging: true},
	})
	if err != nil {
		t.Fatalf("NewClient() got error %v; want nil", err)
	}
	c.executor = exec
	return c
}

const emptyV1Body = `{"Tables":[{"TableName":"Table_0","Columns":[],"Rows":[]}]}`
const emptyV2Body = `[{"FrameType":"DataSetHeader"},{"FrameType":"DataSetCompletion"}]`

func TestQueryRoutesMgmtStatements(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV1Body, nil),
	}}
	c := newTestClient(t, exec, 0)

	_, err := c.Query(context.Background(), "Logs", "  .show tables")
	if err != nil {
		t.Fatalf("Query() got error %v; want nil", err)
	}

	if len(exec.requests) != 1 {
		t.Fatalf("got %d requests; want 1", len(exec.requests))
	}
	if path := exec.requests[0].URL.Path; path != "/v1/rest/mgmt" {
		t.Errorf("management statement routed to %s; want /v1/rest/mgmt", path)
	}
}

func TestQueryRoutesQueryStatements(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 0)

	_, err := c.Query(context.Background(), "Logs", "events | take 10")
	if err != nil {
		t.Fatalf("Query() got error %v; want nil", err)
	}

	if path := exec.requests[0].URL.Path; path != "/v2/rest/query" {
		t.Errorf("query statement routed to %s; want /v2/rest/query", path)
	}
}

func TestRequestHeaders(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 0)
	c.ApplicationName = "loader"

	if _, err := c.Query(context.Background(), "Logs", "events"); err != nil {
		t.Fatalf("Query() got error %v; want nil", err)
	}

	h := exec.requests[0].Header
	if got := h.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Authorization got %q; want \"Bearer test-token\"", got)
	}
	if h.Get("x-ms-client-version") == "" {
		t.Errorf("x-ms-client-version is empty; want the client version")
	}
	if got := h.Get("x-ms-client-request-id"); !strings.HasPrefix(got, "AQG.execute;") {
		t.Errorf("x-ms-client-request-id got %q; want an AQG.execute id", got)
	}
	if got := h.Get("x-ms-app"); got != "loader" {
		t.Errorf("x-ms-app got %q; want loader", got)
	}
	if got := h.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type got %q; want application/json", got)
	}
}

func TestFreshRequestIDPerAttempt(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusTooManyRequests, "", nil),
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 2)

	if _, err := c.Query(context.Background(), "Logs", "events"); err != nil {
		t.Fatalf("Query() got error %v; want nil", err)
	}

	if len(exec.requests) != 2 {
		t.Fatalf("got %d requests; want 2", len(exec.requests))
	}
	id1 := exec.requests[0].Header.Get("x-ms-client-request-id")
	id2 := exec.requests[1].Header.Get("x-ms-client-request-id")
	if id1 == id2 {
		t.Errorf("both attempts used request id %q; want a fresh id per attempt", id1)
	}
}

func TestThrottleRetried(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusTooManyRequests, "", nil),
		makeResponse(http.StatusTooManyRequests, "", nil),
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 3)

	if _, err := c.Query(context.Background(), "Logs", "events"); err != nil {
		t.Fatalf("Query() got error %v; want nil after retries", err)
	}
	if len(exec.requests) != 3 {
		t.Errorf("got %d requests; want 3", len(exec.requests))
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	body := `{"error":{"code":"BadRequest","message":"Request is invalid","@permanent":true}}`
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusBadRequest, body, nil),
	}}
	c := newTestClient(t, exec, 3)

	_, err := c.Query(context.Background(), "Logs", "events")
	if err == nil {
		t.Fatalf("Query() got nil error; want a service error")
	}
	if len(exec.requests) != 1 {
		t.Errorf("got %d requests; want 1, permanent errors must not be retried", len(exec.requests))
	}
	if aquilaerr.IsRetryable(err) {
		t.Errorf("error %v reported retryable; want permanent", err)
	}
}

func TestRetriesExhaustedTagged(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusTooManyRequests, "", nil),
	}}
	c := newTestClient(t, exec, 2)

	_, err := c.Query(context.Background(), "Logs", "events")
	if err == nil {
		t.Fatalf("Query() got nil error; want a throttle error")
	}
	if len(exec.requests) != 3 {
		t.Errorf("got %d requests; want 3", len(exec.requests))
	}

	e, ok := err.(*aquilaerr.Error)
	if !ok {
		t.Fatalf("got error of type %T; want *aquilaerr.Error", err)
	}
	if !e.RetriesExhausted {
		t.Errorf("error %v not marked retries-exhausted", err)
	}
	if e.Kind != aquilaerr.ThrottleKind {
		t.Errorf("error kind got %s; want %s", e.Kind, aquilaerr.ThrottleKind)
	}
}

func TestActivityIDAttached(t *testing.T) {
	header := http.Header{}
	header.Set("x-ms-activity-id", "11112222-3333-4444-5555-666677778888")
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusInternalServerError,
			`{"error":{"code":"General_InternalServerError","message":"boom","@permanent":true}}`, header),
	}}
	c := newTestClient(t, exec, 0)

	_, err := c.Query(context.Background(), "Logs", "events")
	e, ok := err.(*aquilaerr.Error)
	if !ok {
		t.Fatalf("got error of type %T; want *aquilaerr.Error", err)
	}
	if e.ActivityID != "11112222-3333-4444-5555-666677778888" {
		t.Errorf("ActivityID got %q; want the response activity id", e.ActivityID)
	}
}

func TestQueryV1RoutesToLegacyEndpoint(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV1Body, nil),
	}}
	c := newTestClient(t, exec, 0)

	res, err := c.QueryV1(context.Background(), "Logs", "events | count")
	if err != nil {
		t.Fatalf("QueryV1() got error %v; want nil", err)
	}

	if path := exec.requests[0].URL.Path; path != "/v1/rest/query" {
		t.Errorf("legacy query routed to %s; want /v1/rest/query", path)
	}
	if len(res.Tables()) != 1 {
		t.Errorf("Tables() got %d tables; want 1", len(res.Tables()))
	}
}

func TestStreamIngestTargetsIngestionEndpoint(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, "", nil),
	}}
	c := newTestClient(t, exec, 0)

	err := c.StreamIngest(context.Background(), "Logs", "events", []byte(`{}`),
		StreamIngestOptions{Format: "json", MappingName: "m1", Compressed: true})
	if err != nil {
		t.Fatalf("StreamIngest() got error %v; want nil", err)
	}

	req := exec.requests[0]
	if req.URL.Host != "ingest-localhost:8080" {
		t.Errorf("ingest request went to %s; want ingest-localhost:8080", req.URL.Host)
	}
	if req.URL.Path != "/v1/rest/ingest/Logs/events" {
		t.Errorf("ingest request path got %s; want /v1/rest/ingest/Logs/events", req.URL.Path)
	}
	q := req.URL.Query()
	if q.Get("streamFormat") != "json" || q.Get("mappingName") != "m1" {
		t.Errorf("ingest request query got %s; want streamFormat=json and mappingName=m1", req.URL.RawQuery)
	}
	if enc := req.Header.Get("Content-Encoding"); enc != "gzip" {
		t.Errorf("Content-Encoding got %q; want gzip", enc)
	}
}

func TestStreamIngestFollowsOneRedirect(t *testing.T) {
	header := http.Header{}
	header.Set("Location", "http://node2.localhost:8080/v1/rest/ingest/Logs/events?streamFormat=json")
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusTemporaryRedirect, "", header),
		makeResponse(http.StatusOK, "", nil),
	}}
	c := newTestClient(t, exec, 0)

	err := c.StreamIngest(context.Background(), "Logs", "events", []byte(`{}`),
		StreamIngestOptions{Format: "json"})
	if err != nil {
		t.Fatalf("StreamIngest() got error %v; want nil", err)
	}

	if len(exec.requests) != 2 {
		t.Fatalf("got %d requests; want 2", len(exec.requests))
	}
	if host := exec.requests[1].URL.Host; host != "node2.localhost:8080" {
		t.Errorf("redirected request went to %s; want node2.localhost:8080", host)
	}
}

func TestStreamIngestRedirectBudget(t *testing.T) {
	header := http.Header{}
	header.Set("Location", "http://node2.localhost:8080/v1/rest/ingest/Logs/events?streamFormat=json")
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusTemporaryRedirect, "", header),
	}}
	c := newTestClient(t, exec, 0)

	err := c.StreamIngest(context.Background(), "Logs", "events", []byte(`{}`),
		StreamIngestOptions{Format: "json"})
	if !aquilaerr.Is(err, aquilaerr.ProtocolKind) {
		t.Errorf("StreamIngest() got error %v; want a protocol error after the redirect budget is spent", err)
	}
	if len(exec.requests) != 2 {
		t.Errorf("got %d requests; want 2, one redirect is allowed", len(exec.requests))
	}
}

func TestQueryNotRedirected(t *testing.T) {
	header := http.Header{}
	header.Set("Location", "http://node2.localhost:8080/v2/rest/query")
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusFound, "", header),
	}}
	c := newTestClient(t, exec, 0)

	_, err := c.Query(context.Background(), "Logs", "events")
	if !aquilaerr.Is(err, aquilaerr.ProtocolKind) {
		t.Errorf("Query() got error %v; want a protocol error, queries must not follow redirects", err)
	}
	if len(exec.requests) != 1 {
		t.Errorf("got %d requests; want 1", len(exec.requests))
	}
}

func TestQueryStreaming(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 0)

	rc, err := c.QueryStreaming(context.Background(), "Logs", "events")
	if err != nil {
		t.Fatalf("QueryStreaming() got error %v; want nil", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading the streamed body got error %v; want nil", err)
	}
	if string(data) != emptyV2Body {
		t.Errorf("streamed body got %q; want the raw response body", string(data))
	}

	if _, err = c.QueryStreaming(context.Background(), "Logs", ".show tables"); err == nil {
		t.Errorf("QueryStreaming() with a management command got nil error; want an argument error")
	}
}

// faultingExecutor fails the first failures round trips with a transport
// error, then delegates to the recording executor.
type faultingExecutor struct {
	inner    *recordingExecutor
	err      error
	failures int
	calls    int
}

func (e *faultingExecutor) Do(req *http.Request) (*http.Response, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, e.err
	}
	return e.inner.Do(req)
}

func connRefused() *url.Error {
	return &url.Error{
		Op:  "Post",
		URL: "http://localhost:8080/v2/rest/query",
		Err: errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"),
	}
}

func TestTransportErrorClassified(t *testing.T) {
	refused := connRefused()
	c := newTestClient(t, &recordingExecutor{}, 0)
	c.executor = &faultingExecutor{err: refused, failures: 1}

	_, err := c.Query(context.Background(), "Logs", "events")
	var e *aquilaerr.Error
	if !errors.As(err, &e) {
		t.Fatalf("Query() got %T (%v); want a classified error", err, err)
	}
	if e.Kind != aquilaerr.NetworkKind {
		t.Errorf("Query() got kind %s; want %s", e.Kind, aquilaerr.NetworkKind)
	}
	if !aquilaerr.IsRetryable(err) {
		t.Errorf("a transport failure should be retryable: %v", err)
	}
	if !errors.Is(err, refused) {
		t.Errorf("the classified error lost its cause: %v", err)
	}
}

func TestQueryRetriesTransportErrors(t *testing.T) {
	inner := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, inner, 2)
	exec := &faultingExecutor{inner: inner, err: connRefused(), failures: 1}
	c.executor = exec

	res, err := c.Query(context.Background(), "Logs", "events")
	if err != nil {
		t.Fatalf("Query() got error %v; want nil after retrying the transport failure", err)
	}
	if res == nil {
		t.Fatalf("Query() got nil result; want a decoded result")
	}
	if exec.calls != 2 {
		t.Errorf("got %d attempts; want 2", exec.calls)
	}
}

func TestCanceledRequestNotReclassified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceled := &url.Error{
		Op:  "Post",
		URL: "http://localhost:8080/v2/rest/query",
		Err: context.Canceled,
	}
	c := newTestClient(t, &recordingExecutor{}, 0)
	c.executor = &faultingExecutor{err: canceled, failures: 1}

	_, err := c.Query(ctx, "Logs", "events")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Query() got %v; want the caller's cancellation", err)
	}
	var e *aquilaerr.Error
	if errors.As(err, &e) {
		t.Errorf("a caller cancellation was reclassified as %s", e.Kind)
	}
}

// trackingBody reports whether the client touched the response body before
// handing it to the caller.
type trackingBody struct {
	r      io.Reader
	reads  int
	closed bool
}

func (b *trackingBody) Read(p []byte) (int, error) {
	b.reads++
	return b.r.Read(p)
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

type bodyExecutor struct {
	body *trackingBody
}

func (e *bodyExecutor) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       e.body,
	}, nil
}

func TestQueryStreamingHandsBodyThrough(t *testing.T) {
	body := &trackingBody{r: strings.NewReader(emptyV2Body)}
	c := newTestClient(t, &recordingExecutor{}, 0)
	c.executor = &bodyExecutor{body: body}

	rc, err := c.QueryStreaming(context.Background(), "Logs", "events")
	if err != nil {
		t.Fatalf("QueryStreaming() got error %v; want nil", err)
	}
	if body.reads != 0 {
		t.Errorf("the client consumed the response body before handing it over")
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading the streamed body got error %v; want nil", err)
	}
	if string(data) != emptyV2Body {
		t.Errorf("streamed body got %q; want the raw response body", string(data))
	}

	if err = rc.Close(); err != nil {
		t.Errorf("Close() got error %v; want nil", err)
	}
	if !body.closed {
		t.Errorf("closing the streamed body did not close the response body")
	}
}

func TestQueryStreamingRetriesServiceErrors(t *testing.T) {
	exec := &recordingExecutor{responses: []*http.Response{
		makeResponse(http.StatusServiceUnavailable, `{"message":"node restarting"}`, nil),
		makeResponse(http.StatusOK, emptyV2Body, nil),
	}}
	c := newTestClient(t, exec, 1)

	rc, err := c.QueryStreaming(context.Background(), "Logs", "events")
	if err != nil {
		t.Fatalf("QueryStreaming() got error %v; want nil after one retry", err)
	}
	defer rc.Close()

	if len(exec.requests) != 2 {
		t.Errorf("got %d requests; want 2", len(exec.requests))
	}
}
