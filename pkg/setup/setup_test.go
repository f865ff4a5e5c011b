// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ParseMajor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		major int
		ok    bool
	}{
		{"Docker version 24.0.7, build afdd53b", 24, true},
		{"Docker version 20.10.27, build 5df983c", 20, true},
		{"git version 2.43.0", 2, true},
		{"git version 2.39.3 (Apple Git-146)", 2, true},
		{"no digits here", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		major, ok := parseMajor(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.major, major, c.in)
	}
}
