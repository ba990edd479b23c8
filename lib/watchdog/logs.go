// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultKeepLogs is how many finished activations keep their logs.
const DefaultKeepLogs = 5

// LogFileName is the watchdog log for activationID inside an
// environment's log directory.
func LogFileName(activationID string) string {
	return "watchdog." + activationID + ".log"
}

// PruneLogs deletes watchdog logs of finished activations in dir,
// keeping those of the keep most recently written. Rotated and
// compressed backups count with their activation. Logs of activations
// for which active returns true are never touched.
func PruneLogs(dir string, keep int, active func(activationID string) bool) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading log directory: %w", err)
	}

	type logGroup struct {
		id     string
		files  []string
		latest time.Time
	}
	groups := make(map[string]*logGroup)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := activationOf(entry.Name())
		if !ok || (active != nil && active(id)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		group := groups[id]
		if group == nil {
			group = &logGroup{id: id}
			groups[id] = group
		}
		group.files = append(group.files, filepath.Join(dir, entry.Name()))
		if info.ModTime().After(group.latest) {
			group.latest = info.ModTime()
		}
	}

	ordered := make([]*logGroup, 0, len(groups))
	for _, group := range groups {
		ordered = append(ordered, group)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].latest.Equal(ordered[j].latest) {
			return ordered[i].id < ordered[j].id
		}
		return ordered[i].latest.After(ordered[j].latest)
	})

	for index, group := range ordered {
		if index < keep {
			continue
		}
		for _, path := range group.files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", path, err)
			}
		}
	}
	return nil
}

// activationOf extracts the activation ID from a watchdog log name:
// watchdog.<id>.log, or a rotated watchdog.<id>-<timestamp>.log[.gz].
func activationOf(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, "watchdog.")
	if !ok {
		return "", false
	}
	if len(rest) < 36 {
		return "", false
	}
	id := rest[:36]
	if uuid.Validate(id) != nil {
		return "", false
	}
	suffix := rest[36:]
	if !strings.HasPrefix(suffix, ".log") && !strings.HasPrefix(suffix, "-") {
		return "", false
	}
	return id, true
}
