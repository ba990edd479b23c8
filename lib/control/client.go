// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/flox/flox/lib/codec"
)

var (
	// ErrNoSocket means the socket file does not exist: nothing is
	// listening and nothing was left behind.
	ErrNoSocket = errors.New("control socket does not exist")

	// ErrUnreachable means the socket file exists but the server
	// refused the connection or did not answer in time.
	ErrUnreachable = errors.New("control socket is not responding")
)

const (
	dialTimeout = 2 * time.Second

	// responseReadTimeout covers handler execution for unary calls.
	// Stopping a service can take its full SIGTERM grace period.
	responseReadTimeout = 45 * time.Second

	maxResponseSize = 1024 * 1024
)

// ServiceError is a failure reported by the server's handler.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Client sends requests to a control socket. Each request uses its own
// connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for socketPath. Nothing is dialled until
// the first request.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the socket this client talks to.
func (c *Client) SocketPath() string { return c.socketPath }

// Call performs a unary request. fields must not contain "action". On
// success the response data, if any, is decoded into result (when
// result is non-nil). Handler failures are returned as *ServiceError;
// transport failures wrap [ErrNoSocket] or [ErrUnreachable].
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.open(ctx, action, fields)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("reading %q response from %s: %w: %w", action, c.socketPath, ErrUnreachable, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q response data: %w", action, err)
		}
	}
	return nil
}

// Stream performs a streaming request, calling onFrame with the raw
// data of each frame in order. It returns when the server sends its
// final frame, when onFrame returns an error, or when ctx is done (in
// which case ctx.Err() is returned).
func (c *Client) Stream(ctx context.Context, action string, fields map[string]any, onFrame func(codec.RawMessage) error) error {
	conn, err := c.open(ctx, action, fields)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	decoder := codec.NewDecoder(conn)

	var response Response
	if err := decoder.Decode(&response); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading %q response from %s: %w: %w", action, c.socketPath, ErrUnreachable, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %q stream from %s: %w", action, c.socketPath, err)
		}
		if frame.Done {
			if frame.Error != "" {
				return &ServiceError{Action: action, Message: frame.Error}
			}
			return nil
		}
		if err := onFrame(frame.Data); err != nil {
			return err
		}
	}
}

// open dials the socket and writes the request.
func (c *Client) open(ctx context.Context, action string, fields map[string]any) (net.Conn, error) {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, c.classifyDialError(action, err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing %q request to %s: %w: %w", action, c.socketPath, ErrUnreachable, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}
	return conn, nil
}

func (c *Client) classifyDialError(action string, err error) error {
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("calling %q: %s: %w", action, c.socketPath, ErrNoSocket)
	}
	return fmt.Errorf("calling %q on %s: %w: %w", action, c.socketPath, ErrUnreachable, err)
}

// Exists reports whether the socket file is present. Presence alone
// does not prove a server is listening.
func Exists(socketPath string) bool {
	info, err := os.Stat(socketPath)
	return err == nil && info.Mode()&os.ModeSocket != 0
}
