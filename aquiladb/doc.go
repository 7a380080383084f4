//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

/*
Package aquiladb provides the public APIs for Go applications to use the Aquila analytics service.

This package also provides configuration and common operational structs and interfaces,
such as the request options, result tables and retry handling used for Aquila operations.

More detailed information can be viewed at: https://github.com/aquiladata/aquila-go-sdk/blob/master/README.md

*/
package aquiladb
