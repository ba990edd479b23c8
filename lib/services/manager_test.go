// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flox/flox/lib/control"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/supervisor"
	"github.com/flox/flox/lib/testutil"
)

const testSystem = "x86_64-linux"

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Success(message string) { r.add("✔ " + message) }
func (r *recorder) Warning(message string) { r.add("! " + message) }

func (r *recorder) add(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	messages := r.messages
	r.messages = nil
	return messages
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testManifest = `
version = 1

[services.alpha]
command = "sleep 30"

[services.beta]
command = "sleep 30"

[services.once]
command = "echo done"

[services.macos]
command = "sleep 30"
systems = ["aarch64-darwin"]
`

type fixture struct {
	manager *Manager
	starter *InProcessStarter
	out     *recorder
}

func newFixture(t *testing.T, manifestText string) *fixture {
	t.Helper()
	project := t.TempDir()
	if err := environment.Init(project, "svc", []byte(manifestText)); err != nil {
		t.Fatal(err)
	}
	instance, err := environment.Locator{RuntimeDir: testutil.SocketDir(t)}.Open(project)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := manifest.Parse([]byte(manifestText))
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		starter: &InProcessStarter{Logger: testLogger()},
		out:     &recorder{},
	}
	f.manager = &Manager{
		Instance: instance,
		Manifest: parsed,
		System:   testSystem,
		Starter:  f.starter,
		Timeout:  5 * time.Second,
		Out:      f.out,
		Logger:   testLogger(),
	}
	t.Cleanup(func() {
		supervisor.ShutdownAndWait(context.Background(), instance.SocketPath(), 10*time.Second)
		f.starter.Wait()
	})
	return f
}

func (f *fixture) status(t *testing.T, name string) supervisor.ProcessState {
	t.Helper()
	states, err := f.manager.Status(context.Background(), []string{name})
	if err != nil {
		t.Fatalf("Status(%s): %v", name, err)
	}
	return states[0]
}

func TestStartLaunchesSupervisor(t *testing.T) {
	f := newFixture(t, testManifest)
	result, err := f.manager.Start(context.Background(), []string{"alpha"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !result.Launched || f.starter.Launches() != 1 {
		t.Errorf("result = %+v, launches = %d", result, f.starter.Launches())
	}
	if got := f.out.take(); len(got) != 1 || got[0] != "✔ Service 'alpha' started." {
		t.Errorf("messages = %v", got)
	}
	if state := f.status(t, "alpha"); state.Status != supervisor.StatusRunning || state.PID == 0 {
		t.Errorf("alpha = %+v", state)
	}
	if state := f.status(t, "beta"); state.Status != supervisor.StatusStopped || state.PID != 0 {
		t.Errorf("beta should be loaded but not started: %+v", state)
	}
	if _, err := f.manager.Status(context.Background(), []string{"macos"}); err == nil {
		t.Error("a service unavailable on this system must not be loaded")
	}
}

func TestStartExistingSupervisor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	f.out.take()

	result, err := f.manager.Start(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if result.Launched || f.starter.Launches() != 1 {
		t.Errorf("second Start relaunched the supervisor: %+v", result)
	}
	want := []string{"! Service 'alpha' is already running.", "✔ Service 'beta' started."}
	if got := f.out.take(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestStartValidationIsAllOrNothing(t *testing.T) {
	f := newFixture(t, testManifest)
	_, err := f.manager.Start(context.Background(), []string{"alpha", "ghost", "macos"})

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	want := []string{
		"Service 'ghost' does not exist.",
		"Service 'macos' is not available on 'x86_64-linux'.",
	}
	if strings.Join(validation.Problems, "|") != strings.Join(want, "|") {
		t.Errorf("problems = %v", validation.Problems)
	}
	if f.starter.Launches() != 0 || control.Exists(f.manager.Instance.SocketPath()) {
		t.Error("a failed validation must not launch anything")
	}
}

func TestStartNoServices(t *testing.T) {
	f := newFixture(t, "version = 1\n")
	if _, err := f.manager.Start(context.Background(), nil); !errors.Is(err, ErrNoServices) {
		t.Errorf("error = %v, want ErrNoServices", err)
	}
}

func TestStartNoServicesForSystem(t *testing.T) {
	f := newFixture(t, "version = 1\n\n[services.mac]\ncommand = \"sleep 30\"\nsystems = [\"aarch64-darwin\"]\n")
	for _, names := range [][]string{nil, {"mac"}} {
		_, err := f.manager.Start(context.Background(), names)
		if !errors.Is(err, ErrNoServicesForSystem) {
			t.Fatalf("Start(%v) = %v, want ErrNoServicesForSystem", names, err)
		}
		if err.Error() != "Environment does not have any services defined for 'x86_64-linux'." {
			t.Errorf("message = %q", err)
		}
	}
	if _, err := f.manager.Restart(context.Background(), nil); !errors.Is(err, ErrNoServicesForSystem) {
		t.Errorf("Restart = %v, want ErrNoServicesForSystem", err)
	}
	if f.starter.Launches() != 0 {
		t.Error("no supervisor should be launched without services for the system")
	}
}

func TestStartTimeout(t *testing.T) {
	f := newFixture(t, testManifest)
	f.manager.Starter = starterFunc(func(context.Context, string) error { return nil })
	f.manager.Timeout = 100 * time.Millisecond

	_, err := f.manager.Start(context.Background(), []string{"alpha"})
	if !errors.Is(err, ErrSocketNotReady) {
		t.Fatalf("error = %v, want ErrSocketNotReady", err)
	}
	if err.Error() != "Failed to start services: service manager socket not ready" {
		t.Errorf("message = %q", err)
	}
}

type starterFunc func(ctx context.Context, configPath string) error

func (f starterFunc) Launch(ctx context.Context, configPath string) error { return f(ctx, configPath) }

func TestStaleConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}

	updated, err := manifest.Parse([]byte(testManifest + "\n[services.gamma]\ncommand = \"sleep 30\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	f.manager.Manifest = updated

	_, err = f.manager.Start(ctx, []string{"gamma"})
	var stale *StaleConfigError
	if !errors.As(err, &stale) || err.Error() != "Service 'gamma' does not exist." {
		t.Fatalf("error = %v, want stale config error", err)
	}
	if stale.Hint() == "" {
		t.Error("stale config error needs a hint")
	}
}

func TestStartWithoutNamesUsesRunningConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	f.out.take()

	updated, err := manifest.Parse([]byte(testManifest + "\n[services.gamma]\ncommand = \"sleep 30\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	f.manager.Manifest = updated

	result, err := f.manager.Start(ctx, nil)
	if err != nil {
		t.Fatalf("Start without names: %v", err)
	}
	if result.Launched || f.starter.Launches() != 1 {
		t.Errorf("Start relaunched the supervisor: %+v", result)
	}
	want := []string{
		"! Service 'alpha' is already running.",
		"✔ Service 'beta' started.",
		"✔ Service 'once' started.",
	}
	if got := f.out.take(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if state := f.status(t, "beta"); state.Status != supervisor.StatusRunning {
		t.Errorf("beta = %+v, want running", state)
	}
	if _, err := f.manager.Status(ctx, []string{"gamma"}); err == nil {
		t.Error("gamma was loaded without a reload")
	}
}

func TestStopValidationIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	f.out.take()

	err := f.manager.Stop(ctx, []string{"alpha", "ghost"})
	var validation *ValidationError
	if !errors.As(err, &validation) || err.Error() != "Service 'ghost' does not exist." {
		t.Fatalf("Stop(alpha, ghost) = %v, want a validation error naming ghost", err)
	}
	if state := f.status(t, "alpha"); state.Status != supervisor.StatusRunning {
		t.Errorf("alpha = %+v, want still running", state)
	}
	if got := f.out.take(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
}

func TestRestartValidationIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	before := f.status(t, "alpha")
	f.out.take()

	_, err := f.manager.Restart(ctx, []string{"alpha", "ghost"})
	var validation *ValidationError
	if !errors.As(err, &validation) || err.Error() != "Service 'ghost' does not exist." {
		t.Fatalf("Restart(alpha, ghost) = %v, want a validation error naming ghost", err)
	}
	after := f.status(t, "alpha")
	if after.PID != before.PID || after.Restarts != before.Restarts {
		t.Errorf("alpha was restarted: before %+v, after %+v", before, after)
	}
	if got := f.out.take(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
}

func TestRestartNamedKeepsLoadedConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatal(err)
	}
	client := supervisor.NewClient(f.manager.Instance.SocketPath())
	loaded, err := client.Config(ctx)
	if err != nil {
		t.Fatal(err)
	}

	changed := strings.Replace(testManifest, "[services.alpha]\ncommand = \"sleep 30\"", "[services.alpha]\ncommand = \"sleep 31\"", 1)
	updated, err := manifest.Parse([]byte(changed + "\n[services.gamma]\ncommand = \"sleep 30\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	f.manager.Manifest = updated
	before := f.status(t, "alpha").PID

	result, err := f.manager.Restart(ctx, []string{"alpha"})
	if err != nil {
		t.Fatalf("Restart(alpha): %v", err)
	}
	if result.Launched {
		t.Error("restart of a live supervisor reported a launch")
	}
	if f.starter.Launches() != 1 {
		t.Errorf("launches = %d, want 1", f.starter.Launches())
	}
	reloaded, err := client.Config(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Digest != loaded.Digest || strings.Join(reloaded.Services, ",") != strings.Join(loaded.Services, ",") {
		t.Errorf("config changed by restart: %+v, was %+v", reloaded, loaded)
	}
	if after := f.status(t, "alpha"); after.PID == before || after.Status != supervisor.StatusRunning {
		t.Errorf("alpha not restarted: %+v (before %d)", after, before)
	}
	if state := f.status(t, "beta"); state.Status != supervisor.StatusRunning {
		t.Errorf("restarting alpha affected beta: %+v", state)
	}
}

func TestStopAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)

	if _, err := f.manager.Status(ctx, nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Status before start = %v, want ErrNotStarted", err)
	}
	if err := f.manager.Stop(ctx, []string{"alpha"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop before start = %v, want ErrNotStarted", err)
	}
	if ErrNotStarted.Error() != "Services not started or quit unexpectedly." {
		t.Errorf("ErrNotStarted = %q", ErrNotStarted)
	}

	if _, err := f.manager.Start(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatal(err)
	}
	f.out.take()

	if err := f.manager.Stop(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.manager.Stop(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	want := []string{"✔ Service 'alpha' stopped.", "! Service 'alpha' is not running"}
	if got := f.out.take(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", got, want)
	}

	if state := f.status(t, "alpha"); !state.Status.Stopped() || state.PID != 0 {
		t.Errorf("alpha after stop = %+v", state)
	}
	if state := f.status(t, "beta"); state.Status != supervisor.StatusRunning {
		t.Errorf("stopping alpha affected beta: %+v", state)
	}

	err := f.manager.Stop(ctx, []string{"ghost"})
	if err == nil || err.Error() != "Service 'ghost' does not exist." {
		t.Errorf("Stop(ghost) = %v", err)
	}
}

func TestStartAfterAllStoppedRelaunches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Stop(ctx, nil); err != nil {
		t.Fatal(err)
	}

	result, err := f.manager.Start(ctx, []string{"beta"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !result.Launched || f.starter.Launches() != 2 {
		t.Errorf("expected a fresh supervisor: %+v, launches %d", result, f.starter.Launches())
	}
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(ctx, []string{"alpha", "once"}); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return f.status(t, "once").Status == supervisor.StatusCompleted
	}, "once never completed")
	before := f.status(t, "alpha").PID
	f.out.take()

	if _, err := f.manager.Restart(ctx, nil); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if f.starter.Launches() != 1 {
		t.Error("restart of a live supervisor must not relaunch it")
	}
	got := f.out.take()
	for _, name := range []string{"alpha", "beta", "once"} {
		message := "✔ Service '" + name + "' restarted."
		found := false
		for _, m := range got {
			found = found || m == message
		}
		if !found {
			t.Errorf("missing %q in %v", message, got)
		}
	}
	if after := f.status(t, "alpha"); after.PID == before || after.Status != supervisor.StatusRunning {
		t.Errorf("alpha not restarted: %+v (before %d)", after, before)
	}
}

func TestRestartNamedWithNoSupervisor(t *testing.T) {
	f := newFixture(t, testManifest)
	result, err := f.manager.Restart(context.Background(), []string{"beta"})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !result.Launched || f.starter.Launches() != 1 {
		t.Errorf("launches = %d", f.starter.Launches())
	}
	if got := f.out.take(); len(got) != 1 || got[0] != "✔ Service 'beta' restarted." {
		t.Errorf("messages = %v", got)
	}
	if state := f.status(t, "alpha"); state.Status != supervisor.StatusStopped {
		t.Errorf("restarting beta started alpha: %+v", state)
	}
}

func TestLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testManifest)

	var output bytes.Buffer
	if err := f.manager.Logs(ctx, nil, false, 5, &output); !errors.Is(err, ErrFollowNeedsName) {
		t.Fatalf("Logs without name = %v, want ErrFollowNeedsName", err)
	}
	if err := f.manager.Logs(ctx, []string{"a", "b"}, false, 5, &output); !errors.Is(err, ErrFollowNeedsName) {
		t.Fatalf("Logs with two names = %v, want ErrFollowNeedsName", err)
	}

	if _, err := f.manager.Start(ctx, []string{"once"}); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return f.status(t, "once").Status == supervisor.StatusCompleted
	}, "once never completed")

	if err := f.manager.Logs(ctx, []string{"once"}, false, DefaultTail, &output); err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if output.String() != "done\n" {
		t.Errorf("logs = %q", output.String())
	}

	output.Reset()
	followCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := f.manager.Logs(followCtx, []string{"once"}, true, DefaultTail, &output); err != nil {
		t.Fatalf("Logs follow: %v", err)
	}
	if followCtx.Err() == nil {
		t.Error("following a completed service returned before it was cancelled")
	}
	if output.String() != "once: done\n" {
		t.Errorf("followed logs = %q", output.String())
	}

	if _, err := os.Stat(filepath.Join(f.manager.Instance.LogDir(), "services.once.log")); err != nil {
		t.Errorf("service log file missing: %v", err)
	}
}

func TestLogsFollowCancel(t *testing.T) {
	f := newFixture(t, testManifest)
	if _, err := f.manager.Start(context.Background(), []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var output bytes.Buffer
	if err := f.manager.Logs(ctx, []string{"alpha"}, true, DefaultTail, &output); err != nil {
		t.Errorf("cancelled follow returned %v", err)
	}
}
