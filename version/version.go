// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package version

var (
	// Version holds the complete version number. Filled in at linking time.
	Version = "v0.0.0+unknown"
)

func GetVersionString() string {
	return Version
}
