// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"maps"
	"slices"
	"testing"

	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/shell"
)

func TestApplyEnvKeepsPositionAndUnsets(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/home/u", "_FLOX_SERVICES_TO_START=[]", "PATH=/dup"}
	got := applyEnv(base, []shell.Var{{Name: "PATH", Value: "/env/bin:/bin"}, {Name: "FLOX_ENV", Value: "/env"}}, unsets())
	want := []string{"PATH=/env/bin:/bin", "HOME=/home/u", "FLOX_ENV=/env"}
	if !slices.Equal(got, want) {
		t.Errorf("applyEnv = %v, want %v", got, want)
	}
}

func TestServiceEnvironment(t *testing.T) {
	parsed, err := manifest.Parse([]byte("version = 1\n[vars]\nGREETING = \"hi\"\nUNSET_VAR = \"x\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	environ := []string{
		"PATH=/env/bin:/bin",
		"HOME=/home/u",
		"FLOX_ENV=/env",
		"GREETING=hello",
		"_FLOX_ACTIVATION_ID=abc",
	}
	got := ServiceEnvironment(environ, parsed)
	want := map[string]string{
		"PATH":                "/env/bin:/bin",
		"FLOX_ENV":            "/env",
		"GREETING":            "hello",
		"_FLOX_ACTIVATION_ID": "abc",
	}
	if !maps.Equal(got, want) {
		t.Errorf("ServiceEnvironment = %v, want %v", got, want)
	}
}
