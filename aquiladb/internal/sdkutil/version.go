//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

// Package sdkutil provides internal utilities for the SDK.
package sdkutil

import (
	"fmt"
	"runtime"
)

const (
	// Major, minor and patch versions for the SDK.
	major = 1
	minor = 4
	patch = 0

	// MgmtServiceURI is the URI path for management commands.
	MgmtServiceURI = "/v1/rest/mgmt"

	// QueryServiceURIV1 is the URI path for queries using the legacy wire format.
	QueryServiceURIV1 = "/v1/rest/query"

	// QueryServiceURIV2 is the URI path for queries using the frame-based wire format.
	QueryServiceURIV2 = "/v2/rest/query"

	// StreamingIngestURIPrefix is the URI path prefix for streaming ingestion.
	// The database and table names are appended as path segments.
	StreamingIngestURIPrefix = "/v1/rest/ingest"
)

var sdkVersion, clientVersion string

// Sets sdkVersion and clientVersion in package init function
func init() {
	sdkVersion = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	// A sample client version header value: Aquila-GoSDK/1.4.0 (go1.21; linux/amd64)
	clientVersion = fmt.Sprintf("Aquila-GoSDK/%s (%s; %s/%s)",
		sdkVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// SDKVersion returns the Aquila Go SDK version.
func SDKVersion() string {
	return sdkVersion
}

// ClientVersion returns a descriptive string that is set in the
// "x-ms-client-version" header of HTTP requests.
func ClientVersion() string {
	return clientVersion
}
