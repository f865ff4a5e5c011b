// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0

// Package setup validates host dependencies and warms the image cache.
package setup

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/dockerclient"
	"github.com/vibekit/vibekit/pkg/resolver"
)

// Oldest daemon generation the sandbox engine is exercised against.
const minDockerMajor = 20

// CheckResult is one host-dependency probe.
type CheckResult struct {
	Name        string
	OK          bool
	Detail      string
	Remediation string
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)`)

// ValidateDependencies probes the container daemon, the docker CLI and
// git. The second return is the overall pass/fail.
func ValidateDependencies(ctx context.Context, docker dockerclient.Client) ([]CheckResult, bool) {
	var results []CheckResult

	daemon := CheckResult{Name: "container daemon", OK: true}
	if err := docker.Ping(ctx); err != nil {
		daemon.OK = false
		daemon.Detail = err.Error()
		daemon.Remediation = "start the docker daemon (or set DOCKER_HOST)"
	}
	results = append(results, daemon)

	results = append(results, checkCLI(ctx, "docker", "--version", minDockerMajor,
		"install docker >= 20.10 and ensure it is on PATH"))
	results = append(results, checkCLI(ctx, "git", "--version", 0,
		"install git and ensure it is on PATH"))

	ok := true
	for _, r := range results {
		if !r.OK {
			ok = false
		}
	}
	return results, ok
}

func checkCLI(ctx context.Context, name, versionFlag string, minMajor int, remediation string) CheckResult {
	res := CheckResult{Name: name}
	path, err := exec.LookPath(name)
	if err != nil {
		res.Detail = fmt.Sprintf("%s not found on PATH", name)
		res.Remediation = remediation
		return res
	}
	out, err := exec.CommandContext(ctx, path, versionFlag).Output()
	if err != nil {
		res.Detail = fmt.Sprintf("%s %s failed: %s", name, versionFlag, err)
		res.Remediation = remediation
		return res
	}
	version := strings.TrimSpace(string(out))
	res.Detail = version
	if minMajor > 0 {
		major, ok := parseMajor(version)
		if !ok {
			res.Detail = fmt.Sprintf("could not parse version from %q", version)
			res.Remediation = remediation
			return res
		}
		if major < minMajor {
			res.Detail = fmt.Sprintf("%s too old (%s, need >= %d)", name, version, minMajor)
			res.Remediation = remediation
			return res
		}
	}
	res.OK = true
	return res
}

func parseMajor(version string) (int, bool) {
	match := versionPattern.FindStringSubmatch(version)
	if match == nil {
		return 0, false
	}
	major, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return major, true
}

// Options configures Setup.
type Options struct {
	SkipPrebuild bool
	Agents       []agent.Kind
}

// Setup validates dependencies and, unless skipped, warms the image cache
// for the selected agents. Per-agent resolution failures are warnings;
// missing hard dependencies abort.
func Setup(ctx context.Context, docker dockerclient.Client, res *resolver.Resolver, opts Options) ([]CheckResult, error) {
	checks, ok := ValidateDependencies(ctx, docker)
	if !ok {
		var missing []string
		for _, c := range checks {
			if !c.OK {
				missing = append(missing, fmt.Sprintf("%s: %s (%s)", c.Name, c.Detail, c.Remediation))
			}
		}
		return checks, errors.Errorf("missing host dependencies:\n  %s", strings.Join(missing, "\n  "))
	}

	if opts.SkipPrebuild {
		return checks, nil
	}
	for _, r := range res.Prebuild(ctx, opts.Agents) {
		if r.Err != nil {
			logrus.Warnf("prebuild %s: %s", r.Agent, r.Err)
			continue
		}
		logrus.Infof("agent %s ready: %s", r.Agent, r.Tag)
	}
	return checks, nil
}
