//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package aquiladb

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/auth"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/httputil"
	"github.com/aquiladata/aquila-go-sdk/aquiladb/logger"
)

const (
	// The default timeout value for query requests.
	defaultQueryTimeout = 4 * time.Minute

	// The default timeout value for management commands, which may run DDL
	// and take longer than queries.
	defaultMgmtTimeout = 10 * time.Minute

	// The default timeout value for streaming ingestion requests.
	defaultStreamingIngestTimeout = 15 * time.Minute

	// The number of redirect responses a single streaming ingestion request
	// is allowed to follow.
	defaultRedirectBudget = 1
)

// Config represents a group of configuration parameters for a Client.
//
// When creating a Client, the Config instance is copied so modifications on
// the instance have no effect on the existing Client which is immutable.
//
// Most of the configuration parameters are optional and have default values
// if not specified. The only required parameters are the Endpoint and the
// CredentialProvider.
type Config struct {
	// Endpoint specifies the cluster endpoint that the client connects to
	// for queries and management commands. It is required.
	// It must include the target address, and may include protocol and port.
	// The syntax is:
	//
	//   [http[s]://]host[:port]
	//
	// For example, these are valid endpoints:
	//
	//   mycluster.westus.aquiladata.io
	//   https://mycluster.westus.aquiladata.io:443
	//   localhost:8080
	//
	// If port is omitted, the endpoint defaults to 443.
	// If protocol is omitted, the endpoint uses https if the port is 443,
	// and http in all other cases.
	Endpoint string

	// IngestionEndpoint specifies the data management endpoint used for
	// queued ingestion. If not set, it is derived from Endpoint by
	// prepending "ingest-" to the host.
	IngestionEndpoint string

	// ApplicationName identifies the calling application to the service,
	// reported in the x-ms-app request header. Optional.
	ApplicationName string

	// Configurations for requests.
	RequestConfig

	// Configurations for HTTP client.
	httputil.HTTPConfig

	// Configurations for logging.
	LoggingConfig

	// CredentialProvider supplies the bearer tokens attached to requests.
	// It is required. Use the entra package to create a provider for the
	// desired authentication mode.
	CredentialProvider auth.CredentialProvider

	// RetryHandler specifies a handler used to handle operation retries.
	// If not set, a DefaultRetryHandler with 3 retries and a 100ms base
	// delay is used.
	RetryHandler

	// RedirectBudget specifies how many redirect responses a streaming
	// ingestion request may follow. A negative value disables redirect
	// following. If zero, defaultRedirectBudget is used.
	RedirectBudget int

	host     string
	port     string
	protocol string
}

// parseEndpoint tries to parse the specified Endpoint, returns an error if
// Endpoint does not conform to the syntax:
//
//	[http[s]://]host[:port]
//
// The following rules are applied to the Endpoint:
//
// 1. If protocol and port are both omitted, the Endpoint uses https with
// port 443.
//
// 2. If port is omitted, the Endpoint uses 443 for https, or 8080 for http.
//
// 3. If protocol is omitted, the Endpoint uses https if the port is 443,
// and http in all other cases.
func (c *Config) parseEndpoint() (err error) {
	c.protocol, c.host, c.port, err = parseEndpoint(c.Endpoint)
	if err != nil {
		return
	}

	c.Endpoint = c.protocol + "://" + c.host + ":" + c.port
	if c.IngestionEndpoint == "" {
		c.IngestionEndpoint = c.protocol + "://ingest-" + c.host + ":" + c.port
	}
	return nil
}

func parseEndpoint(endpoint string) (protocol, host, port string, err error) {
	if endpoint == "" {
		err = aquilaerr.NewIllegalArgument("Endpoint must be specified")
		return
	}

	if idx := strings.Index(endpoint, "://"); idx == -1 {
		host = endpoint
	} else {
		protocol = strings.ToLower(endpoint[:idx])
		if protocol != "https" && protocol != "http" {
			return "", "", "", aquilaerr.NewIllegalArgument("the specified protocol %q is not supported. "+
				"Must use \"https\" or \"http\"", protocol)
		}
		host = endpoint[idx+3:]
	}

	// Strip the ending slashes.
	if strings.HasSuffix(host, "/") {
		host = strings.TrimRightFunc(host, func(r rune) bool {
			return r == '/'
		})
	}

	bracket := strings.IndexByte(host, ']')
	colon := strings.LastIndexByte(host, ':')
	if colon > bracket {
		host, port, err = net.SplitHostPort(host)
		if err != nil {
			return "", "", "", err
		}
		if port != "" {
			portNum, err := strconv.Atoi(port)
			if err != nil || portNum < 0 {
				return "", "", "", aquilaerr.NewIllegalArgument("invalid port number %s", port)
			}
		}
	}

	if host == "" {
		return "", "", "", aquilaerr.NewIllegalArgument("invalid endpoint %q", endpoint)
	}

	switch {
	case protocol == "" && port == "":
		protocol = "https"
		port = "443"

	case protocol == "":
		if port == "443" {
			protocol = "https"
		} else {
			protocol = "http"
		}

	case port == "":
		if protocol == "https" {
			port = "443"
		} else {
			port = "8080"
		}
	}

	return
}

// RequestConfig represents a group of configuration parameters for requests.
type RequestConfig struct {
	// QueryTimeout specifies a client-side timeout value for query requests.
	// If set, it must be greater than or equal to 1 millisecond.
	QueryTimeout time.Duration

	// MgmtTimeout specifies a client-side timeout value for management
	// commands. If set, it must be greater than or equal to 1 millisecond.
	MgmtTimeout time.Duration

	// StreamingIngestTimeout specifies a client-side timeout value for
	// streaming ingestion requests.
	// If set, it must be greater than or equal to 1 millisecond.
	StreamingIngestTimeout time.Duration
}

// DefaultQueryTimeout returns the default timeout value for query requests.
// If there is no configured timeout or it is configured as 0, a default
// value (defaultQueryTimeout) of 4 minutes is used.
func (r *RequestConfig) DefaultQueryTimeout() time.Duration {
	if r == nil || r.QueryTimeout == 0 {
		return defaultQueryTimeout
	}
	return r.QueryTimeout
}

// DefaultMgmtTimeout returns the default timeout value for management
// commands. If there is no configured timeout or it is configured as 0, a
// default value (defaultMgmtTimeout) of 10 minutes is used.
func (r *RequestConfig) DefaultMgmtTimeout() time.Duration {
	if r == nil || r.MgmtTimeout == 0 {
		return defaultMgmtTimeout
	}
	return r.MgmtTimeout
}

// DefaultStreamingIngestTimeout returns the default timeout value for
// streaming ingestion requests. If there is no configured timeout or it is
// configured as 0, a default value (defaultStreamingIngestTimeout) of 15
// minutes is used.
func (r *RequestConfig) DefaultStreamingIngestTimeout() time.Duration {
	if r == nil || r.StreamingIngestTimeout == 0 {
		return defaultStreamingIngestTimeout
	}
	return r.StreamingIngestTimeout
}

// LoggingConfig represents logging configurations.
type LoggingConfig struct {

	// Configurations for the logger.
	// If this is not set, use logger.DefaultLogger unless DisableLogging is
	// set.
	*logger.Logger

	// DisableLogging represents whether logging is disabled.
	DisableLogging bool
}
