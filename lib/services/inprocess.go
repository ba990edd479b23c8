// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flox/flox/lib/supervisor"
)

// InProcessStarter runs supervisors as goroutines of the calling
// process. Tests use it to exercise the full start and stop protocol
// without the flox-services binary. Each supervisor runs until it is
// shut down over its socket.
type InProcessStarter struct {
	Logger *slog.Logger

	mu       sync.Mutex
	launches int
	running  sync.WaitGroup
}

func (s *InProcessStarter) Launch(_ context.Context, configPath string) error {
	config, err := supervisor.LoadConfig(configPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.launches++
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		if err := supervisor.Run(context.Background(), config, s.Logger); err != nil {
			s.Logger.Error("in-process supervisor failed", "error", err)
		}
	}()
	return nil
}

// Launches reports how many supervisors have been launched.
func (s *InProcessStarter) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Wait blocks until every launched supervisor has exited.
func (s *InProcessStarter) Wait() { s.running.Wait() }
