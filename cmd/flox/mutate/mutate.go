// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package mutate implements the commands that change an environment's
// manifest: install, uninstall, edit, upgrade and pull.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/generations"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/mutation"
)

// OpenEditor selects the environment named by flags and returns an
// editor recording the process's arguments in history.
func OpenEditor(flags *cli.EnvironmentFlags, logger *slog.Logger) (*mutation.Editor, error) {
	selection, err := flags.Select()
	if err != nil {
		return nil, err
	}
	return &mutation.Editor{
		Instance: selection.Instance,
		Chain:    selection.Chain,
		Args:     os.Args[1:],
		Logger:   logger,
	}, nil
}

// Categorize assigns CLI error categories to mutation failures.
func Categorize(err error) error {
	var (
		pinned      *activate.PinnedGenerationError
		notFound    *generations.NotFoundError
		alreadyLive *generations.AlreadyLiveError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pinned):
		return cli.Wrap(cli.CategoryForbidden, err)
	case errors.Is(err, activate.ErrGenerationsUnsupported),
		errors.Is(err, manifest.ErrInvalid),
		errors.Is(err, manifest.ErrNotInstalled):
		return cli.Wrap(cli.CategoryValidation, err)
	case errors.As(err, &notFound):
		return cli.Wrap(cli.CategoryNotFound, err)
	case errors.As(err, &alreadyLive), errors.Is(err, mutation.ErrNoPreviousGeneration):
		return cli.Wrap(cli.CategoryConflict, err)
	}
	return err
}

func generationSuffix(outcome mutation.Outcome) string {
	if outcome.Generation == 0 {
		return ""
	}
	return fmt.Sprintf(" (generation %d)", outcome.Generation)
}

func quoteAll(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	return strings.Join(quoted, ", ")
}

type environmentParams struct {
	cli.EnvironmentFlags
}

// InstallCommand returns "flox install".
func InstallCommand() *cli.Command {
	var params environmentParams
	return &cli.Command{
		Name:    "install",
		Summary: "Install packages into an environment",
		Usage:   "flox install [flags] <package>...",
		Params:  func() any { return &params },
		Examples: []cli.Example{
			{Command: "flox install hello"},
			{Description: "Install by attribute path", Command: "flox install python312Packages.pip"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("install requires at least one package")
			}
			editor, err := OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return Categorize(install(ctx, editor, args, cli.Stderr))
		},
	}
}

func install(ctx context.Context, editor *mutation.Editor, pkgPaths []string, out *cli.Messages) error {
	outcome, err := editor.Install(ctx, pkgPaths)
	if err != nil {
		return err
	}
	for _, id := range outcome.Skipped {
		out.Warning(fmt.Sprintf("Package '%s' is already installed.", id))
	}
	if !outcome.Changed {
		return nil
	}
	out.Success(fmt.Sprintf("%s installed to environment '%s'%s.",
		quoteAll(outcome.Added), editor.Instance.Description(), generationSuffix(outcome)))
	return nil
}

// UninstallCommand returns "flox uninstall".
func UninstallCommand() *cli.Command {
	var params environmentParams
	return &cli.Command{
		Name:    "uninstall",
		Summary: "Uninstall packages from an environment",
		Usage:   "flox uninstall [flags] <id>...",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("uninstall requires at least one package")
			}
			editor, err := OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return Categorize(uninstall(ctx, editor, args, cli.Stderr))
		},
	}
}

func uninstall(ctx context.Context, editor *mutation.Editor, ids []string, out *cli.Messages) error {
	outcome, err := editor.Uninstall(ctx, ids)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("%s uninstalled from environment '%s'%s.",
		quoteAll(ids), editor.Instance.Description(), generationSuffix(outcome)))
	return nil
}

type editParams struct {
	cli.EnvironmentFlags
	File string `flag:"file,f" desc:"replace the manifest with this file ('-' reads stdin) instead of opening an editor"`
}

// EditCommand returns "flox edit".
func EditCommand() *cli.Command {
	var params editParams
	return &cli.Command{
		Name:    "edit",
		Summary: "Edit the manifest",
		Description: `Edit the environment's manifest.

Opens $VISUAL or $EDITOR on a copy of the manifest and applies the result
when the editor exits. With --file, replaces the manifest without an
editor.`,
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected arguments: %s", strings.Join(args, " "))
			}
			editor, err := OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			var data []byte
			if params.File != "" {
				data, err = readInput(params.File, os.Stdin)
			} else {
				data, err = editInteractively(ctx, editor)
			}
			if err != nil {
				return err
			}
			return Categorize(replace(ctx, editor, data, cli.Stderr))
		},
	}
}

// readInput reads path, or stdin for "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading manifest from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cli.Wrap(cli.CategoryNotFound, fmt.Errorf("reading manifest: %w", err))
	}
	return data, nil
}

func editInteractively(ctx context.Context, editor *mutation.Editor) ([]byte, error) {
	current, err := editor.Instance.ReadManifest()
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "flox-edit-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "manifest.toml")
	if err := os.WriteFile(path, current, 0o644); err != nil {
		return nil, err
	}

	program := editorProgram(os.Getenv)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", program+` "$1"`, "flox-edit", path)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running editor %q: %w", program, err)
	}
	return os.ReadFile(path)
}

// editorProgram returns $VISUAL, then $EDITOR, then vi.
func editorProgram(getenv func(string) string) string {
	for _, name := range []string{"VISUAL", "EDITOR"} {
		if value := strings.TrimSpace(getenv(name)); value != "" {
			return value
		}
	}
	return "vi"
}

func replace(ctx context.Context, editor *mutation.Editor, data []byte, out *cli.Messages) error {
	outcome, err := editor.Replace(ctx, data)
	if err != nil {
		return err
	}
	if !outcome.Changed {
		out.Warning("No changes made to environment.")
		return nil
	}
	out.Success(fmt.Sprintf("Environment '%s' successfully updated%s.",
		editor.Instance.Description(), generationSuffix(outcome)))
	return nil
}

// UpgradeCommand returns "flox upgrade".
func UpgradeCommand() *cli.Command {
	var params environmentParams
	return &cli.Command{
		Name:    "upgrade",
		Summary: "Refresh the lockfile against the manifest",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			editor, err := OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return Categorize(upgrade(ctx, editor, cli.Stderr))
		},
	}
}

func upgrade(ctx context.Context, editor *mutation.Editor, out *cli.Messages) error {
	outcome, err := editor.Upgrade(ctx)
	if err != nil {
		return err
	}
	if !outcome.Changed {
		out.Plain(fmt.Sprintf("Environment '%s' is up to date.", editor.Instance.Description()))
		return nil
	}
	out.Success(fmt.Sprintf("Upgraded environment '%s'%s.", editor.Instance.Description(), generationSuffix(outcome)))
	return nil
}

// PullCommand returns "flox pull".
func PullCommand() *cli.Command {
	var params environmentParams
	return &cli.Command{
		Name:    "pull",
		Summary: "Reset the manifest to the live generation",
		Description: `Reset a FloxHub environment's working manifest and lockfile to its
live generation, discarding local edits.`,
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			editor, err := OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return Categorize(pull(ctx, editor, cli.Stderr))
		},
	}
}

func pull(ctx context.Context, editor *mutation.Editor, out *cli.Messages) error {
	live, err := editor.Pull(ctx)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Pulled environment '%s' at generation %d.", editor.Instance.Description(), live))
	return nil
}
