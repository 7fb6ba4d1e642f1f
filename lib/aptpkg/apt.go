// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package aptpkg installs the agent runtime's apt packages. Install is
// idempotent: packages already present are skipped, so repeated
// reconciliations do not touch the package manager once the host is
// provisioned.
package aptpkg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runFunc executes a package-manager command and returns stdout. Tests
// substitute a fake; production uses run.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

// Apt wraps the host's apt tooling.
type Apt struct {
	runner runFunc
}

// New returns an Apt backed by the real apt-get and dpkg-query
// binaries.
func New() *Apt {
	return &Apt{runner: run}
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	// Never prompt; the controller runs unattended.
	command.Env = append(command.Environ(), "DEBIAN_FRONTEND=noninteractive")
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// EnsureInstalled installs the listed packages that are not already
// present. The package index is refreshed only when at least one
// package is missing.
func (a *Apt) EnsureInstalled(ctx context.Context, packages []string) error {
	var missing []string
	for _, pkg := range packages {
		installed, err := a.isInstalled(ctx, pkg)
		if err != nil {
			return err
		}
		if !installed {
			missing = append(missing, pkg)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if _, err := a.runner(ctx, "apt-get", "update"); err != nil {
		return err
	}
	args := append([]string{"install", "--yes", "--no-install-recommends"}, missing...)
	if _, err := a.runner(ctx, "apt-get", args...); err != nil {
		return err
	}
	return nil
}

// isInstalled queries dpkg for the package's install state. A non-zero
// dpkg-query exit means "not installed", not a failure.
func (a *Apt) isInstalled(ctx context.Context, pkg string) (bool, error) {
	output, err := a.runner(ctx, "dpkg-query", "--show", "--showformat=${db:Status-Status}", pkg)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(output) == "installed", nil
}
