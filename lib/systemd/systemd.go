// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package systemd provides typed access to the systemctl CLI for the
// operations the lifecycle driver needs: restart, stop, liveness
// query, failure-counter reset, and unit-file reload. Stderr is
// captured and folded into error messages on failure.
package systemd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runFunc executes systemctl with the given arguments and returns
// stdout. Tests substitute a fake; production uses run.
type runFunc func(ctx context.Context, args ...string) (string, error)

// Systemctl wraps the host's systemctl binary.
type Systemctl struct {
	runner runFunc
}

// New returns a Systemctl backed by the real systemctl binary.
func New() *Systemctl {
	return &Systemctl{runner: run}
}

// run executes systemctl, capturing stdout and folding stderr into
// error messages.
func run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "systemctl", args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("systemctl %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Restart restarts the unit, starting it if not running.
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	_, err := s.runner(ctx, "restart", unit)
	return err
}

// Stop stops the unit. Stopping an already-stopped unit is a success
// at the systemctl level, preserving idempotence for callers.
func (s *Systemctl) Stop(ctx context.Context, unit string) error {
	_, err := s.runner(ctx, "stop", unit)
	return err
}

// IsActive reports whether the unit is in the active state. The error
// is non-nil only when the query's exit status is ambiguous (systemctl
// could not be executed); a clean "inactive" answer is (false, nil).
func (s *Systemctl) IsActive(ctx context.Context, unit string) (bool, error) {
	output, err := s.runner(ctx, "is-active", unit)
	if err != nil {
		// is-active exits non-zero for every non-active state, which
		// surfaces here as an *exec.ExitError. That is an answer, not
		// a failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(output) == "active", nil
}

// ResetFailed clears the unit's failure state and restart counter.
func (s *Systemctl) ResetFailed(ctx context.Context, unit string) error {
	_, err := s.runner(ctx, "reset-failed", unit)
	return err
}

// DaemonReload makes systemd re-read unit files and drop-ins. Required
// after writing or removing the override before a restart picks it up.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	_, err := s.runner(ctx, "daemon-reload")
	return err
}
