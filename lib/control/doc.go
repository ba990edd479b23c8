// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the request/response protocol spoken on
// a supervisor's Unix socket.
//
// A client opens one connection per request and writes a single CBOR
// map with an "action" field plus action-specific fields. For unary
// actions the server answers with one [Response] and closes. For
// streaming actions (registered with [Server.HandleStream]) the server
// answers with a sequence of [Frame] values, the last of which has
// Done set.
//
// The socket file doubles as the liveness signal for the supervisor.
// Its absence means no supervisor was ever started or one has fully
// shut down; [ErrNoSocket] reports that case. A socket that exists but
// refuses connections belongs to a supervisor that died without
// cleaning up; [ErrUnreachable] reports that case.
package control
