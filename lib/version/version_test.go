// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	saved := [4]string{Version, GitCommit, GitDirty, BuildTime}
	t.Cleanup(func() { Version, GitCommit, GitDirty, BuildTime = saved[0], saved[1], saved[2], saved[3] })

	Version, GitCommit, BuildTime = "1.4.0", "abc1234", "2026-01-02T03:04:05Z"
	tests := []struct {
		dirty string
		want  string
	}{
		{dirty: "false", want: "1.4.0 (abc1234, 2026-01-02T03:04:05Z)"},
		{dirty: "true", want: "1.4.0 (abc1234-dirty, 2026-01-02T03:04:05Z)"},
	}
	for _, test := range tests {
		GitDirty = test.dirty
		if got := Info(); got != test.want {
			t.Errorf("Info() with dirty=%s = %q, want %q", test.dirty, got, test.want)
		}
	}
	if !strings.HasPrefix(Full(), Info()+"\n  Go: ") {
		t.Errorf("Full() = %q", Full())
	}
	if Short() != "1.4.0" {
		t.Errorf("Short() = %q", Short())
	}
}
