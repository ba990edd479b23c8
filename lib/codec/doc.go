// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the control
// socket protocol between the flox CLI, the watchdog, and the
// flox-services supervisor.
//
// JSON stays the format for anything a user or another tool may read:
// activations.json, env.json, and CLI --json output. CBOR is used only
// on the supervisor socket. Types that cross both boundaries carry
// `json` tags; fxamacker/cbor reads those as a fallback, so one tag
// names the field in both encodings. Types that only ever travel over
// the socket use `cbor` tags.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes.
package codec
