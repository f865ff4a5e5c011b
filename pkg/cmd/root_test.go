// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package commands

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_UsageError(t *testing.T) {
	t.Parallel()
	err := usagef("bad flag %q", "--frob")
	assert.True(t, IsUsageError(err))
	assert.Contains(t, err.Error(), `"--frob"`)

	wrapped := errors.Wrap(err, "context")
	assert.True(t, IsUsageError(wrapped))

	assert.False(t, IsUsageError(errors.New("operational failure")))
	assert.False(t, IsUsageError(nil))
}

func Test_ArgValidators(t *testing.T) {
	t.Parallel()
	cmd := &cobra.Command{Use: "x"}

	require.NoError(t, exactArgs(1)(cmd, []string{"a"}))
	err := exactArgs(1)(cmd, []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, IsUsageError(err))

	require.NoError(t, maxArgs(1)(cmd, nil))
	err = maxArgs(1)(cmd, []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, IsUsageError(err))
}

func Test_ParseEnvFlag(t *testing.T) {
	t.Parallel()
	env, err := parseEnvFlag([]string{"A=1,B=2", "C=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2", "C": "x=y"}, env)

	env, err = parseEnvFlag(nil)
	require.NoError(t, err)
	assert.Empty(t, env)

	_, err = parseEnvFlag([]string{"NOVALUE"})
	require.Error(t, err)
	assert.True(t, IsUsageError(err))

	_, err = parseEnvFlag([]string{"=v"})
	require.Error(t, err)
	assert.True(t, IsUsageError(err))
}

func Test_ParseAgentFlag(t *testing.T) {
	t.Parallel()
	k, err := parseAgentFlag("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", string(k))

	k, err = parseAgentFlag("")
	require.NoError(t, err)
	assert.Empty(t, string(k))

	_, err = parseAgentFlag("cursor")
	require.Error(t, err)
	assert.True(t, IsUsageError(err))
}

func Test_RootCommandTree(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "auth")
	assert.Contains(t, names, "local")
	assert.Contains(t, names, "setup")
	assert.Contains(t, names, "version")
}
