// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/flox/flox/lib/atomicfile"
)

// Pointer is the content of .flox/env.json.
type Pointer struct {
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	FloxHubURL string `json:"floxhub_url,omitempty"`
	Version    int    `json:"version"`
}

// Tracked reports whether the pointer names a FloxHub environment.
func (p Pointer) Tracked() bool { return p.Owner != "" }

// ReadPointer parses env.json. Comments and trailing commas are
// tolerated since users edit the file by hand.
func ReadPointer(path string) (Pointer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pointer{}, fmt.Errorf("reading environment pointer: %w", err)
	}
	var pointer Pointer
	if err := json.Unmarshal(jsonc.ToJSON(data), &pointer); err != nil {
		return Pointer{}, fmt.Errorf("parsing environment pointer %s: %w", path, err)
	}
	if pointer.Name == "" {
		return Pointer{}, fmt.Errorf("environment pointer %s has no name", path)
	}
	return pointer, nil
}

// WritePointer replaces env.json atomically.
func WritePointer(path string, pointer Pointer) error {
	return atomicfile.WriteJSON(path, pointer, 0o644)
}
