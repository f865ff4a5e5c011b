// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/sandbox"
)

func localCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage local container sandboxes",
	}
	cmd.AddCommand(
		localCreateCmd(),
		localListCmd(),
		localDeleteCmd(),
		localRunCmd(),
		localHelpCmd(cmd),
	)
	return cmd
}

func parseAgentFlag(s string) (agent.Kind, error) {
	if s == "" {
		return agent.None, nil
	}
	k, err := agent.Parse(s)
	if err != nil {
		return agent.None, usagef("%s", err)
	}
	return k, nil
}

func parseEnvFlag(pairs []string) (map[string]string, error) {
	env := map[string]string{}
	for _, pair := range pairs {
		for _, item := range strings.Split(pair, ",") {
			if item == "" {
				continue
			}
			key, value, found := strings.Cut(item, "=")
			if !found || key == "" {
				return nil, usagef("malformed --env entry %q (want K=V)", item)
			}
			env[key] = value
		}
	}
	return env, nil
}

// currentBranch best-effort reads the git branch of the working tree, for
// the sandbox label `local list --branch` filters on.
func currentBranch() string {
	out, err := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func localCreateCmd() *cobra.Command {
	var (
		name     string
		agentStr string
		workDir  string
		envPairs []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sandbox and keep it running in the background",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseAgentFlag(agentStr)
			if err != nil {
				return err
			}
			env, err := parseEnvFlag(envPairs)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			inst, err := a.sandbox.Create(cmd.Context(), sandbox.CreateOptions{
				Agent:   kind,
				Env:     env,
				WorkDir: workDir,
				Name:    name,
				Branch:  currentBranch(),
			})
			if err != nil {
				return err
			}
			// Keepalive container so the sandbox is visible to `local
			// list` and addressable by later invocations.
			if _, err := inst.Run(cmd.Context(), "sleep infinity", &sandbox.RunOptions{Background: true}); err != nil {
				return err
			}
			fmt.Println(inst.ID())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&name, "name", "", "Human-readable sandbox name")
	flags.StringVar(&agentStr, "agent", "", fmt.Sprintf("Agent kind (%s)", strings.Join(agent.Names(), ", ")))
	flags.StringVar(&workDir, "working-directory", "", "Working directory inside the sandbox")
	flags.StringSliceVar(&envPairs, "env", nil, "Environment variables, K=V[,K=V...]")
	return cmd
}

func localListCmd() *cobra.Command {
	var (
		status   string
		agentStr string
		branch   string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sandboxes",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			containers, err := a.sandbox.ListContainers(cmd.Context())
			if err != nil {
				return err
			}
			var filtered []sandbox.ContainerInfo
			for _, c := range containers {
				if status != "" && c.Status != status {
					continue
				}
				if agentStr != "" && c.Agent != agentStr {
					continue
				}
				if branch != "" && c.Branch != branch {
					continue
				}
				filtered = append(filtered, c)
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(filtered)
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 2, 3, ' ', 0)
			fmt.Fprintln(w, "SANDBOX ID\tNAME\tAGENT\tBRANCH\tSTATUS\tAGE")
			for _, c := range filtered {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.SandboxID, c.Name, c.Agent, c.Branch, c.Status,
					time.Since(c.Created).Round(time.Second))
			}
			return w.Flush()
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&status, "status", "", "Filter by container status")
	flags.StringVar(&agentStr, "agent", "", "Filter by agent kind")
	flags.StringVar(&branch, "branch", "", "Filter by git branch")
	flags.BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func localDeleteCmd() *cobra.Command {
	var (
		force       bool
		all         bool
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "delete [names...]",
		Short: "Delete sandboxes by name or id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return usagef("name at least one sandbox, or pass --all")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			containers, err := a.sandbox.ListContainers(cmd.Context())
			if err != nil {
				return err
			}
			wanted := map[string]bool{}
			for _, arg := range args {
				wanted[arg] = true
			}
			reader := bufio.NewReader(os.Stdin)
			deleted := 0
			for _, c := range containers {
				if !all && !wanted[c.SandboxID] && !wanted[c.Name] {
					continue
				}
				if interactive {
					fmt.Printf("Delete %s (%s)? [y/N] ", c.SandboxID, c.Name)
					line, _ := reader.ReadString('\n')
					if !strings.EqualFold(strings.TrimSpace(line), "y") {
						continue
					}
				}
				if err := a.sandbox.Delete(cmd.Context(), c.SandboxID); err != nil {
					return err
				}
				if err := a.sandbox.RemoveContainer(cmd.Context(), c.Handle, force); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", c.SandboxID)
				deleted++
			}
			if deleted == 0 && !all {
				return errors.Errorf("no sandbox matched %s", strings.Join(args, ", "))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&force, "force", false, "Remove even if running")
	flags.BoolVar(&all, "all", false, "Delete every sandbox")
	flags.BoolVar(&interactive, "interactive", false, "Confirm each deletion")
	return cmd
}

func localRunCmd() *cobra.Command {
	var (
		sandboxID string
		command   string
		agentStr  string
		streaming bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a command in a sandbox",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if command == "" {
				return usagef("--command is required")
			}
			kind, err := parseAgentFlag(agentStr)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}

			var inst *sandbox.Instance
			opts := sandbox.CreateOptions{Agent: kind, Branch: currentBranch()}
			if sandboxID != "" {
				inst, err = a.sandbox.Resume(cmd.Context(), sandboxID, opts)
			} else {
				inst, err = a.sandbox.Create(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}

			runOpts := &sandbox.RunOptions{Timeout: timeout}
			if streaming {
				runOpts.OnStdout = func(chunk string) { fmt.Fprint(os.Stdout, chunk) }
				runOpts.OnStderr = func(chunk string) { fmt.Fprint(os.Stderr, chunk) }
			}
			result, err := inst.Run(cmd.Context(), command, runOpts)
			if err != nil {
				return err
			}
			if !streaming {
				fmt.Fprint(os.Stdout, result.Stdout)
				fmt.Fprint(os.Stderr, result.Stderr)
			}
			if result.ExitCode != 0 {
				return errors.Errorf("command exited with status %d", result.ExitCode)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sandboxID, "sandbox", "", "Existing sandbox id to run in")
	flags.StringVar(&command, "command", "", "Shell command to execute")
	flags.StringVar(&agentStr, "agent", "", fmt.Sprintf("Agent kind (%s)", strings.Join(agent.Names(), ", ")))
	flags.BoolVar(&streaming, "streaming", false, "Stream output as it arrives")
	flags.DurationVar(&timeout, "timeout", 0, "Command timeout (default 2m)")
	return cmd
}

func localHelpCmd(parent *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help",
		Short: "Help for local sandbox commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return parent.Help()
		},
	}
}
