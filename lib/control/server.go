// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/flox/flox/lib/codec"
)

// ActionFunc handles a unary request. raw is the full CBOR request
// including the "action" field. A nil result yields {ok: true} with no
// data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc handles a streaming request. Each call to send writes one
// frame. Returning a non-nil error before the first send produces an
// ordinary failure response; after the first send it is reported in
// the final frame.
type StreamFunc func(ctx context.Context, raw []byte, send func(any) error) error

// Response is the envelope for unary replies and for the first reply
// of a stream.
type Response struct {
	OK     bool             `cbor:"ok"`
	Error  string           `cbor:"error,omitempty"`
	Data   codec.RawMessage `cbor:"data,omitempty"`
	Stream bool             `cbor:"stream,omitempty"`
}

// Frame is one element of a streamed reply.
type Frame struct {
	Data  codec.RawMessage `cbor:"data,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Done  bool             `cbor:"done,omitempty"`
}

const (
	// readTimeout bounds how long a client may take to send its request.
	readTimeout = 10 * time.Second

	// writeTimeout bounds each individual write back to the client.
	writeTimeout = 10 * time.Second

	maxRequestSize = 1024 * 1024
)

// Server serves the control protocol on a Unix socket.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger
	ready      chan struct{}

	activeConnections sync.WaitGroup
}

// NewServer returns a server for socketPath. Register handlers before
// calling Serve.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers a unary action. Panics on a duplicate name.
func (s *Server) Handle(action string, handler ActionFunc) {
	s.checkUnique(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming action. Panics on a duplicate name.
func (s *Server) HandleStream(action string, handler StreamFunc) {
	s.checkUnique(action)
	s.streams[action] = handler
}

func (s *Server) checkUnique(action string) {
	_, unary := s.handlers[action]
	_, stream := s.streams[action]
	if unary || stream {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", action))
	}
}

// Ready is closed once the socket is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve listens on the socket and dispatches requests until ctx is
// cancelled. It then stops accepting, waits for in-flight handlers,
// and removes the socket file. A stale socket file left by a dead
// process is replaced.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "socket_path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if header.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action"})
		return
	}

	if handler, ok := s.streams[header.Action]; ok {
		s.serveStream(ctx, conn, header.Action, handler, raw)
		return
	}

	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", header.Action)})
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeResponse(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

func (s *Server) serveStream(ctx context.Context, conn net.Conn, action string, handler StreamFunc, raw []byte) {
	// The client sends nothing after its request, so a read returns
	// only once it hangs up. That cancels the handler.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadDeadline(time.Time{})
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	encoder := codec.NewEncoder(conn)
	started := false

	send := func(value any) error {
		if !started {
			started = true
			if err := s.encode(conn, encoder, Response{OK: true, Stream: true}); err != nil {
				return err
			}
		}
		data, err := codec.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshaling frame: %w", err)
		}
		return s.encode(conn, encoder, Frame{Data: data})
	}

	err := handler(ctx, raw, send)
	if !started {
		if err != nil {
			s.logger.Debug("stream action failed", "action", action, "error", err)
			s.writeResponse(conn, Response{Error: err.Error()})
			return
		}
		if encodeErr := s.encode(conn, encoder, Response{OK: true, Stream: true}); encodeErr != nil {
			return
		}
	}

	final := Frame{Done: true}
	if err != nil {
		final.Error = err.Error()
	}
	if encodeErr := s.encode(conn, encoder, final); encodeErr != nil {
		s.logger.Debug("failed to write final frame", "action", action, "error", encodeErr)
	}
}

func (s *Server) encode(conn net.Conn, encoder *codec.Encoder, value any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return encoder.Encode(value)
}

func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
