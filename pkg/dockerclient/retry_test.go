// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WithRetry_RetriesNetworkErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	err := withRetry(context.Background(), "pull", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.Wrap(ErrNetwork, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func Test_WithRetry_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	calls := 0
	err := withRetry(context.Background(), "pull", 3, time.Millisecond, func() error {
		calls++
		return errors.Wrap(ErrNetwork, "down")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, 3, calls)
}

func Test_WithRetry_NoRetryOnPermanentErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	err := withRetry(context.Background(), "pull", 3, time.Millisecond, func() error {
		calls++
		return errors.Wrap(ErrNotFound, "missing")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func Test_WithRetry_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := withRetry(ctx, "pull", 3, time.Hour, func() error {
		calls++
		return errors.Wrap(ErrNetwork, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
