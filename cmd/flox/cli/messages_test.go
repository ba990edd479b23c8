// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"testing"

	"github.com/flox/flox/lib/services"
)

var _ services.Reporter = (*Messages)(nil)

func TestMessagesPlainWhenNotATerminal(t *testing.T) {
	var buffer bytes.Buffer
	messages := NewMessages(&buffer)
	messages.Success("Service 'web' started.")
	messages.Warning("Service 'db' is already running.")
	messages.Error("Service 'cache' failed.")
	messages.Plain("done")

	want := "✔ Service 'web' started.\n! Service 'db' is already running.\n✘ Service 'cache' failed.\ndone\n"
	if buffer.String() != want {
		t.Errorf("output = %q, want %q", buffer.String(), want)
	}
}
