//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

/*
This is the official Go SDK for Aquila.

More detailed information can be viewed at: https://github.com/aquiladata/aquila-go-sdk/blob/master/README.md

Installation

Refer to https://github.com/aquiladata/aquila-go-sdk/blob/master/README.md#installation for installation instructions.

Configuration

Refer to https://github.com/aquiladata/aquila-go-sdk/blob/master/README.md#configuring-the-sdk for configuration instructions.

Full Example

See https://github.com/aquiladata/aquila-go-sdk/blob/master/README.md#simple-example for an example program that uses the Go SDK to run queries against an Aquila cluster.

*/
package aquila
