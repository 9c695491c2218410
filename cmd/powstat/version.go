// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "fmt"

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// version returns the application version as a properly formed string per
// the semantic versioning 2.0.0 spec (http://semver.org/).
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}
