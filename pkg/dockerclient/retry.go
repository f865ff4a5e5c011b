// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// withRetry runs op up to attempts times with exponential backoff
// (base, 2*base, 4*base, ...). Only errors retryable() says yes to are
// repeated; everything else returns immediately.
func withRetry(ctx context.Context, op string, attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}
		logrus.Debugf("%s attempt %d/%d failed, retrying in %s: %s", op, i+1, attempts, delay, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
