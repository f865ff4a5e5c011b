// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package dockerclient

import (
	"io"
	"os"

	"github.com/containerd/console"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/pkg/errors"
)

// renderProgress drains a daemon JSON progress stream (pull, push, build).
// On a TTY it renders the usual layer progress bars; otherwise it discards
// the chatter but still surfaces embedded errors, which the daemon reports
// in-stream rather than on the HTTP response.
func renderProgress(in io.Reader, out *os.File) error {
	var (
		fd    uintptr
		isTTY bool
		dst   io.Writer = io.Discard
	)
	if out != nil {
		if c, err := console.ConsoleFromFile(out); err == nil {
			fd = c.Fd()
			isTTY = true
			dst = out
		}
	}
	err := jsonmessage.DisplayJSONMessagesStream(in, dst, fd, isTTY, nil)
	if jerr, ok := err.(*jsonmessage.JSONError); ok {
		return errors.New(jerr.Message)
	}
	return err
}
