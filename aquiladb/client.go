//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/internal/sdkutil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

// Client represents an Aquila client used to run queries and management
// commands against an Aquila cluster and to ingest data into its tables.
//
// A Client is safe for concurrent use and is intended to be created once and
// shared.
type Client struct {
	// Config specifies the configuration parameters associated with the
	// Client. Most configuration parameters have default values that should
	// suffice for use.
	Config

	// HTTPClient represents an HTTP client associated with a Client
	// instance. It is used to send Client requests to server and receive
	// responses.
	HTTPClient *httputil.HTTPClient

	// logger specifies a Client logger used to log events.
	logger *logger.Logger

	// queryURL is the target of query requests.
	queryURL string

	// queryV1URL is the target of legacy wire format query requests.
	queryV1URL string

	// mgmtURL is the target of management commands.
	mgmtURL string

	// executor specifies a request executor.
	// This is used internally by tests for customizing request execution.
	executor httputil.RequestExecutor

	// handleResponse specifies a function that is used to handle the
	// response returned from server.
	// This is used internally by tests for customizing response processing.
	handleResponse func(resp *httputil.Response, format ResultFormat) (*OperationResult, error)
}

var (
	errNilContext = aquilaerr.NewIllegalArgument("nil context")
)

// serverTimeoutMargin is added to a caller-specified server timeout to form
// the client-side timeout, covering transfer and queuing time around the
// server's own execution budget.
const serverTimeoutMargin = 30 * time.Second

// NewClient creates a Client instance with the specified Config.
// If any errors occurred during the creation, it returns a non-nil error and
// a nil Client that should not be used. Applications should check the
// returned error before using the returned Client instance.
//
// Applications should call the Close() method on the Client when it
// terminates.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	httpClient, err := httputil.NewHTTPClient(cfg.HTTPConfig)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Config:     cfg,
		HTTPClient: httpClient,
		queryURL:   cfg.Endpoint + sdkutil.QueryServiceURIV2,
		queryV1URL: cfg.Endpoint + sdkutil.QueryServiceURIV1,
		mgmtURL:    cfg.Endpoint + sdkutil.MgmtServiceURI,
		executor:   httpClient,
		logger:     cfg.Logger,
	}
	c.handleResponse = c.processResponse

	return c, nil
}

// setDefaults validates the configuration and fills in default values.
func (c *Config) setDefaults() error {
	if err := c.parseEndpoint(); err != nil {
		return err
	}

	if c.CredentialProvider == nil {
		return aquilaerr.NewIllegalArgument("CredentialProvider must be specified")
	}

	if c.RetryHandler == nil {
		handler, err := NewDefaultRetryHandler(3, 100*time.Millisecond)
		if err != nil {
			return err
		}
		c.RetryHandler = handler
	}

	if c.RedirectBudget == 0 {
		c.RedirectBudget = defaultRedirectBudget
	}

	// A nil logger discards all messages, so DisableLogging simply leaves
	// it unset.
	if c.LoggingConfig.Logger == nil && !c.LoggingConfig.DisableLogging {
		c.LoggingConfig.Logger = logger.DefaultLogger
	}

	return nil
}

// Close releases any resources used by Client.
func (c *Client) Close() error {
	if c.CredentialProvider != nil {
		return c.CredentialProvider.Close()
	}

	// do not close logger; it may have been passed to us and
	// may still be in use by the application

	return nil
}

// Query runs the specified statement against a database and returns the
// decoded result.
//
// Statements that begin with a dot are management commands and are routed to
// the management endpoint, everything else runs on the query endpoint. This
// mirrors how the service itself dispatches statements, so applications can
// pass any statement to Query without classifying it first.
func (c *Client) Query(ctx context.Context, database, statement string, options ...RequestOption) (*OperationResult, error) {
	if isMgmtStatement(statement) {
		return c.Mgmt(ctx, database, statement, options...)
	}

	resp, err := c.executeStatement(ctx, c.queryURL, database, statement,
		c.DefaultQueryTimeout(), options)
	if err != nil {
		return nil, err
	}

	return c.handleResponse(resp, FormatV2)
}

// Mgmt runs the specified management command against a database and returns
// the decoded result. Management commands begin with a dot, such as
// ".show tables".
func (c *Client) Mgmt(ctx context.Context, database, statement string, options ...RequestOption) (*OperationResult, error) {
	resp, err := c.executeStatement(ctx, c.mgmtURL, database, statement,
		c.DefaultMgmtTimeout(), options)
	if err != nil {
		return nil, err
	}

	return c.handleResponse(resp, FormatV1)
}

// QueryV1 runs the specified statement on the query endpoint using the
// legacy wire format. Applications ported from the legacy protocol use this
// to keep their result handling unchanged; new code should prefer Query.
func (c *Client) QueryV1(ctx context.Context, database, statement string, options ...RequestOption) (*OperationResult, error) {
	if isMgmtStatement(statement) {
		return c.Mgmt(ctx, database, statement, options...)
	}

	resp, err := c.executeStatement(ctx, c.queryV1URL, database, statement,
		c.DefaultQueryTimeout(), options)
	if err != nil {
		return nil, err
	}

	return c.handleResponse(resp, FormatV1)
}

// QueryStreaming runs the specified statement and returns the response body
// as an unread stream, for applications that process large results with
// their own parser. The body is never buffered by the client; the caller
// must close the returned reader to release the request.
//
// Management statements are not accepted here; use Mgmt for those.
func (c *Client) QueryStreaming(ctx context.Context, database, statement string, options ...RequestOption) (io.ReadCloser, error) {
	if isMgmtStatement(statement) {
		return nil, aquilaerr.NewIllegalArgument("management commands cannot be streamed, use Mgmt")
	}

	data, timeout, err := c.prepareStatement(ctx, database, statement,
		c.DefaultQueryTimeout(), options)
	if err != nil {
		return nil, err
	}

	return c.executeStreaming(ctx, c.queryURL, data, timeout, statementHeaders())
}

// StreamIngestOptions specifies the details of a streaming ingestion
// request.
type StreamIngestOptions struct {
	// Format is the data format of the payload, such as "csv" or "json".
	Format string

	// MappingName references a pre-created ingestion mapping on the target
	// table. Optional.
	MappingName string

	// Compressed indicates the payload is gzip compressed.
	Compressed bool

	// ClientRequestID overrides the generated client request id. Optional.
	ClientRequestID string

	// Timeout overrides the configured streaming ingestion timeout.
	// Optional.
	Timeout time.Duration
}

// StreamIngest pushes the payload directly into the specified table through
// the cluster's streaming ingestion endpoint.
//
// This is the low-level entry point; most applications use the ingest
// package, which sizes payloads and falls back to queued ingestion when
// streaming is not possible.
func (c *Client) StreamIngest(ctx context.Context, database, table string, data []byte, opt StreamIngestOptions) error {
	if ctx == nil {
		return errNilContext
	}
	if database == "" || table == "" {
		return aquilaerr.NewIllegalArgument("database and table must be non-empty")
	}
	if opt.Format == "" {
		return aquilaerr.NewIllegalArgument("data format must be specified")
	}

	q := url.Values{}
	q.Set("streamFormat", opt.Format)
	if opt.MappingName != "" {
		q.Set("mappingName", opt.MappingName)
	}
	reqURL := c.IngestionEndpoint + sdkutil.StreamingIngestURIPrefix +
		"/" + url.PathEscape(database) + "/" + url.PathEscape(table) + "?" + q.Encode()

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = c.DefaultStreamingIngestTimeout()
	}

	extra := map[string]string{
		"Content-Type": "application/octet-stream",
	}
	if opt.Compressed {
		extra["Content-Encoding"] = "gzip"
	}
	if opt.ClientRequestID != "" {
		extra["x-ms-client-request-id"] = opt.ClientRequestID
	}

	_, err := c.execute(ctx, reqURL, data, timeout, extra, true)
	return err
}

// isMgmtStatement reports whether the statement is a management command.
func isMgmtStatement(statement string) bool {
	return strings.HasPrefix(strings.TrimSpace(statement), ".")
}

// prepareStatement validates the request, serializes the payload and
// resolves the client-side timeout for the attempt.
func (c *Client) prepareStatement(ctx context.Context, database, statement string,
	timeout time.Duration, options []RequestOption) (data []byte, _ time.Duration, err error) {

	if ctx == nil {
		return nil, 0, errNilContext
	}
	if database == "" {
		return nil, 0, aquilaerr.NewIllegalArgument("database must be non-empty")
	}
	if strings.TrimSpace(statement) == "" {
		return nil, 0, aquilaerr.NewIllegalArgument("statement must be non-empty")
	}

	data, serverTimeout, err := marshalRequest(database, statement, options)
	if err != nil {
		return nil, 0, err
	}

	// When the caller bounds the server-side execution time, the client
	// waits out that budget plus network slack instead of the kind default.
	if serverTimeout > 0 {
		timeout = serverTimeout + serverTimeoutMargin
	}

	return data, timeout, nil
}

func statementHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json; charset=utf-8",
		"Accept":       "application/json",
	}
}

// executeStatement serializes the statement and runs it against the
// specified endpoint.
func (c *Client) executeStatement(ctx context.Context, reqURL, database, statement string,
	timeout time.Duration, options []RequestOption) (*httputil.Response, error) {

	data, timeout, err := c.prepareStatement(ctx, database, statement, timeout, options)
	if err != nil {
		return nil, err
	}

	return c.execute(ctx, reqURL, data, timeout, statementHeaders(), false)
}

// execute sends the request and governs retries and redirects.
//
// Each attempt carries a fresh client request id. The retry handler alone
// decides whether a failed attempt is repeated; every other layer reports
// its error upward untouched. Redirect responses are followed only for
// streaming requests and only within the configured budget, since the
// streaming endpoint is the one service surface that relocates requests
// between cluster nodes.
func (c *Client) execute(ctx context.Context, reqURL string, data []byte,
	timeout time.Duration, extraHeaders map[string]string, streaming bool) (*httputil.Response, error) {

	var numRetries uint
	redirects := c.RedirectBudget

	for {
		resp, err := c.doAttempt(ctx, reqURL, data, timeout, extraHeaders)
		if err == nil {
			switch resp.Code {
			case http.StatusOK:
				return resp, nil

			case http.StatusFound, http.StatusTemporaryRedirect:
				if streaming && redirects > 0 {
					if loc := resp.Header.Get("Location"); loc != "" {
						c.logger.Fine("following redirect to %s", loc)
						redirects--
						reqURL = loc
						continue
					}
				}
				err = aquilaerr.NewProtocol("the service redirected the request and the "+
					"redirect could not be followed, status %d", resp.Code)

			default:
				err = aquilaerr.ParseServiceError(resp.Body, resp.Code)
				err = aquilaerr.WithContext(err, reqURL, resp.Header.Get("x-ms-activity-id"))
			}
		}

		if c.RetryHandler.ShouldRetry(numRetries, err) {
			numRetries++
			c.logger.Info("Client.execute() got error %v, numRetries: %d", err, numRetries)
			if derr := c.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
				return nil, aquilaerr.NewTimeoutWithCause(derr,
					"request canceled while waiting to retry after %d attempt(s)", numRetries)
			}
			continue
		}

		if numRetries > 0 {
			err = aquilaerr.TagRetriesExhausted(err)
		}
		return nil, err
	}
}

// executeStreaming sends the request and hands back the response body
// unread. Retries follow the same rules as execute; only a successful
// attempt leaves its body open for the caller.
func (c *Client) executeStreaming(ctx context.Context, reqURL string, data []byte,
	timeout time.Duration, extraHeaders map[string]string) (io.ReadCloser, error) {

	var numRetries uint

	for {
		resp, err := c.doStreamAttempt(ctx, reqURL, data, timeout, extraHeaders)
		if err == nil {
			if resp.Code == http.StatusOK {
				return resp.Body, nil
			}

			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case rerr != nil:
				err = aquilaerr.NewNetworkWithCause(rerr,
					"error reading response from %s, status %d", reqURL, resp.Code)
			case resp.Code == http.StatusFound || resp.Code == http.StatusTemporaryRedirect:
				err = aquilaerr.NewProtocol("the service redirected the request and the "+
					"redirect could not be followed, status %d", resp.Code)
			default:
				err = aquilaerr.ParseServiceError(body, resp.Code)
				err = aquilaerr.WithContext(err, reqURL, resp.Header.Get("x-ms-activity-id"))
			}
		}

		if c.RetryHandler.ShouldRetry(numRetries, err) {
			numRetries++
			c.logger.Info("Client.executeStreaming() got error %v, numRetries: %d", err, numRetries)
			if derr := c.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
				return nil, aquilaerr.NewTimeoutWithCause(derr,
					"request canceled while waiting to retry after %d attempt(s)", numRetries)
			}
			continue
		}

		if numRetries > 0 {
			err = aquilaerr.TagRetriesExhausted(err)
		}
		return nil, err
	}
}

// requestHeaders obtains a token and stamps the standard headers. Each call
// mints a fresh client request id, so every attempt is distinguishable on
// the service side.
func (c *Client) requestHeaders(ctx context.Context, extraHeaders map[string]string) (map[string]string, error) {
	token, err := c.CredentialProvider.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Authorization":          auth.BearerToken + " " + token,
		"x-ms-client-version":    sdkutil.ClientVersion(),
		"x-ms-client-request-id": "AQG.execute;" + uuid.NewString(),
	}
	if c.ApplicationName != "" {
		headers["x-ms-app"] = c.ApplicationName
	}
	for k, v := range extraHeaders {
		headers[k] = v
	}
	return headers, nil
}

// doAttempt performs a single request attempt and buffers the response.
func (c *Client) doAttempt(ctx context.Context, reqURL string, data []byte,
	timeout time.Duration, extraHeaders map[string]string) (*httputil.Response, error) {

	headers, err := c.requestHeaders(ctx, extraHeaders)
	if err != nil {
		return nil, err
	}
	return httputil.DoRequest(ctx, c.executor, timeout, http.MethodPost, reqURL, data, headers, c.logger)
}

// doStreamAttempt performs a single request attempt without consuming the
// response body.
func (c *Client) doStreamAttempt(ctx context.Context, reqURL string, data []byte,
	timeout time.Duration, extraHeaders map[string]string) (*httputil.StreamResponse, error) {

	headers, err := c.requestHeaders(ctx, extraHeaders)
	if err != nil {
		return nil, err
	}
	return httputil.DoRequestStream(ctx, c.executor, timeout, http.MethodPost, reqURL, data, headers, c.logger)
}

// processResponse decodes a successful response body.
func (c *Client) processResponse(resp *httputil.Response, format ResultFormat) (*OperationResult, error) {
	return decodeResponse(resp.Body, format)
}
