// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/setup"
)

func setupCmd() *cobra.Command {
	var (
		skipPrebuild bool
		agentNames   []string
		upload       bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Validate host dependencies and pre-build agent images",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kinds []agent.Kind
			for _, name := range agentNames {
				k, err := agent.Parse(name)
				if err != nil {
					return usagef("%s", err)
				}
				kinds = append(kinds, k)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			checks, err := setup.Setup(cmd.Context(), a.docker, a.resolver, setup.Options{
				SkipPrebuild: skipPrebuild,
				Agents:       kinds,
			})
			w := tabwriter.NewWriter(os.Stdout, 2, 2, 3, ' ', 0)
			for _, c := range checks {
				mark := "ok"
				if !c.OK {
					mark = "MISSING"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, mark, c.Detail)
			}
			w.Flush()
			if err != nil {
				return err
			}

			if upload {
				summary, err := a.manager.SetupRegistry(cmd.Context(), kinds)
				if err != nil {
					return err
				}
				for _, r := range summary.Results {
					if r.Success {
						fmt.Printf("uploaded %s\n", r.Image)
					} else {
						fmt.Printf("upload %s failed: %s\n", r.Agent, r.Err)
					}
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&skipPrebuild, "skip-prebuild", false, "Only validate dependencies")
	flags.StringSliceVar(&agentNames, "agents", nil,
		fmt.Sprintf("Agents to prepare (default all; available: %s)", strings.Join(agent.Names(), ", ")))
	flags.BoolVar(&upload, "upload", false, "Upload built images to the configured registry")
	return cmd
}
