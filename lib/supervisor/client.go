// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"

	"github.com/flox/flox/lib/codec"
	"github.com/flox/flox/lib/control"
)

// Client is a typed wrapper over the supervisor's control socket.
type Client struct {
	control *control.Client
}

// NewClient returns a client for the supervisor listening on
// socketPath.
func NewClient(socketPath string) *Client {
	return &Client{control: control.NewClient(socketPath)}
}

// SocketPath returns the socket this client talks to.
func (c *Client) SocketPath() string { return c.control.SocketPath() }

// List returns every service's state.
func (c *Client) List(ctx context.Context) ([]ProcessState, error) {
	var states []ProcessState
	if err := c.control.Call(ctx, "list", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Config returns what the running supervisor has loaded.
func (c *Client) Config(ctx context.Context) (ConfigInfo, error) {
	var info ConfigInfo
	err := c.control.Call(ctx, "config", nil, &info)
	return info, err
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.control.Call(ctx, "start", map[string]any{"name": name}, nil)
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.control.Call(ctx, "stop", map[string]any{"name": name}, nil)
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.control.Call(ctx, "restart", map[string]any{"name": name}, nil)
}

// Shutdown stops every service. The supervisor exits and removes its
// socket shortly after replying.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.control.Call(ctx, "shutdown", nil, nil)
}

// Logs streams log lines to onLine until the stream ends, ctx is done,
// or onLine fails.
func (c *Client) Logs(ctx context.Context, names []string, tail int, follow bool, onLine func(LogLine) error) error {
	fields := map[string]any{"names": names, "tail": tail, "follow": follow}
	return c.control.Stream(ctx, "logs", fields, func(raw codec.RawMessage) error {
		var line LogLine
		if err := codec.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("decoding log line: %w", err)
		}
		return onLine(line)
	})
}
