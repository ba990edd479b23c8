// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"

	"github.com/flox/flox/lib/codec"
	"github.com/flox/flox/lib/control"
)

// ConfigInfo is the reply to the config action.
type ConfigInfo struct {
	Services []string `json:"services"`
	Digest   string   `json:"digest"`
}

// LogLine is one frame of the logs stream.
type LogLine struct {
	Service string `json:"service"`
	Line    string `json:"line"`

	// Dropped is set on a notice frame standing in for lines a slow
	// follower missed.
	Dropped int `json:"dropped,omitempty"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type logsRequest struct {
	Names  []string `json:"names"`
	Tail   int      `json:"tail"`
	Follow bool     `json:"follow"`
}

func (s *Supervisor) register(server *control.Server) {
	server.Handle("list", func(ctx context.Context, raw []byte) (any, error) {
		return s.List(), nil
	})
	server.Handle("config", func(ctx context.Context, raw []byte) (any, error) {
		return ConfigInfo{Services: s.names, Digest: s.digest}, nil
	})
	server.Handle("start", s.named(func(ctx context.Context, name string) error {
		return s.Start(name)
	}))
	server.Handle("stop", s.named(s.Stop))
	server.Handle("restart", s.named(s.Restart))
	server.Handle("shutdown", func(ctx context.Context, raw []byte) (any, error) {
		return nil, s.Shutdown(ctx)
	})
	server.HandleStream("logs", s.streamLogs)
}

func (s *Supervisor) named(action func(context.Context, string) error) control.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request nameRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		if request.Name == "" {
			return nil, fmt.Errorf("missing required field: name")
		}
		return nil, action(ctx, request.Name)
	}
}

func (s *Supervisor) streamLogs(ctx context.Context, raw []byte, send func(any) error) error {
	var request logsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	names := request.Names
	if len(names) == 0 {
		names = s.names
	}
	processes := make([]*process, 0, len(names))
	for _, name := range names {
		p, err := s.lookup(name)
		if err != nil {
			return err
		}
		processes = append(processes, p)
	}

	if !request.Follow {
		for _, p := range processes {
			for _, line := range p.output.tail(request.Tail) {
				if err := send(LogLine{Service: p.name, Line: line}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// A follow stream ends only when the client hangs up or the
	// supervisor shuts down. A restarted service writes to the same
	// output, so stopped services stay followed.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	merged := make(chan LogLine, subscriberBuffer)
	for _, p := range processes {
		history, subscriber, unsubscribe := p.output.subscribe(request.Tail)
		defer unsubscribe()
		for _, line := range history {
			if err := send(LogLine{Service: p.name, Line: line}); err != nil {
				return err
			}
		}
		go s.forward(ctx, p.name, subscriber, merged)
	}

	for {
		select {
		case line := <-merged:
			if err := send(line); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// forward copies a subscription onto merged, announcing lines dropped
// because the follower fell behind.
func (s *Supervisor) forward(ctx context.Context, name string, subscriber *subscription, merged chan<- LogLine) {
	emit := func(line LogLine) bool {
		select {
		case merged <- line:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case line := <-subscriber.lines:
			if dropped := subscriber.takeDropped(); dropped > 0 {
				s.logger.Debug("follower fell behind", "service", name, "dropped", dropped)
				notice := LogLine{Service: name, Line: fmt.Sprintf("[%d lines dropped]", dropped), Dropped: dropped}
				if !emit(notice) {
					return
				}
			}
			if !emit(LogLine{Service: name, Line: line}) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
