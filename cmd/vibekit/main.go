// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	commands "github.com/vibekit/vibekit/pkg/cmd"
)

func main() {
	root := commands.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if commands.IsUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
