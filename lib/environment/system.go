// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import "runtime"

// CurrentSystem returns the Nix system double for this machine, such as
// "x86_64-linux". Service and package availability is keyed on it.
func CurrentSystem() string {
	return systemFor(runtime.GOARCH, runtime.GOOS)
}

func systemFor(goarch, goos string) string {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}
	return arch + "-" + goos
}
