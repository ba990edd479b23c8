// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Fatal writes "program: err" to stderr and exits with code 1. Use it
// in main() for errors from run(), where the log may not be open.
func Fatal(program string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
	os.Exit(1)
}

// Rotation limits for background process logs.
const (
	LogMaxSizeMB  = 10
	LogMaxBackups = 3
)

// NewLogger returns a JSON logger writing to path, rotated by size with
// compressed backups. An empty path logs to stderr. Every record
// carries the process ID. Call the returned function before exiting.
func NewLogger(path string, level slog.Level) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closeLog := func() {}
	if path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    LogMaxSizeMB,
			MaxBackups: LogMaxBackups,
			Compress:   true,
		}
		w = rotating
		closeLog = func() { rotating.Close() }
	}
	return newLogger(w, level), closeLog
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("pid", os.Getpid())
}
