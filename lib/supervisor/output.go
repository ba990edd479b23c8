// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"io"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// ringCapacity bounds the lines kept in memory per service.
	ringCapacity = 1000

	// subscriberBuffer is how many lines a follower may fall behind
	// before lines are dropped for it.
	subscriberBuffer = 256
)

// output collects one service's combined stdout and stderr. Complete
// lines go to the ring, to the log file and to every subscriber.
type output struct {
	mu          sync.Mutex
	lines       []string
	start       int
	partial     []byte
	file        io.WriteCloser
	subscribers map[*subscription]struct{}
}

// subscription is one follower of an output. Lines that do not fit in
// its buffer are counted rather than delivered.
type subscription struct {
	owner   *output
	lines   chan string
	dropped int
}

// takeDropped returns and resets the number of lines dropped since the
// last call.
func (s *subscription) takeDropped() int {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	dropped := s.dropped
	s.dropped = 0
	return dropped
}

func newOutput(logDir, name string) *output {
	o := &output{subscribers: make(map[*subscription]struct{})}
	if logDir != "" {
		o.file = &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "services."+name+".log"),
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
	}
	return o
}

// Write implements io.Writer for exec.Cmd's Stdout and Stderr.
func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file != nil {
		// A failing log file must not kill the service's pipe.
		_, _ = o.file.Write(p)
	}

	o.partial = append(o.partial, p...)
	for {
		newline := bytes.IndexByte(o.partial, '\n')
		if newline < 0 {
			break
		}
		o.appendLocked(string(o.partial[:newline]))
		o.partial = o.partial[newline+1:]
	}
	return len(p), nil
}

// flush emits any unterminated final line.
func (o *output) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.partial) > 0 {
		o.appendLocked(string(o.partial))
		o.partial = nil
	}
}

func (o *output) appendLocked(line string) {
	if len(o.lines) < ringCapacity {
		o.lines = append(o.lines, line)
	} else {
		o.lines[o.start] = line
		o.start = (o.start + 1) % ringCapacity
	}
	for subscriber := range o.subscribers {
		select {
		case subscriber.lines <- line:
		default:
			// A slow follower never blocks the service.
			subscriber.dropped++
		}
	}
}

// tail returns up to n of the most recent lines, oldest first.
func (o *output) tail(n int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tailLocked(n)
}

func (o *output) tailLocked(n int) []string {
	count := len(o.lines)
	if n < 0 || n > count {
		n = count
	}
	result := make([]string, 0, n)
	for i := count - n; i < count; i++ {
		result = append(result, o.lines[(o.start+i)%count])
	}
	return result
}

// subscribe atomically returns the last n lines and a subscription
// whose channel receives every line written afterwards. Call the
// returned function to unsubscribe.
func (o *output) subscribe(n int) ([]string, *subscription, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	subscriber := &subscription{owner: o, lines: make(chan string, subscriberBuffer)}
	o.subscribers[subscriber] = struct{}{}
	return o.tailLocked(n), subscriber, func() {
		o.mu.Lock()
		delete(o.subscribers, subscriber)
		o.mu.Unlock()
	}
}

func (o *output) close() error {
	o.flush()
	if o.file != nil {
		return o.file.Close()
	}
	return nil
}
