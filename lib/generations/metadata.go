// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package generations

import (
	"os"
	"os/user"
)

// NewMetadata describes an event caused by the running process: args
// are the arguments after the program name.
func NewMetadata(description string, args []string) Metadata {
	metadata := Metadata{
		Description: description,
		Args:        append([]string(nil), args...),
		Author:      "unknown",
		Hostname:    "unknown",
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		metadata.Author = current.Username
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		metadata.Hostname = hostname
	}
	return metadata
}
