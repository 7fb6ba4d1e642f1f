// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package aptpkg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

// fakeRunner replays scripted per-package dpkg answers and records
// every command.
type fakeRunner struct {
	calls     []string
	installed map[string]bool
	aptErr    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	switch name {
	case "dpkg-query":
		pkg := args[len(args)-1]
		if f.installed[pkg] {
			return "installed", nil
		}
		return "", fmt.Errorf("dpkg-query: %w", &exec.ExitError{})
	case "apt-get":
		return "", f.aptErr
	}
	return "", fmt.Errorf("unexpected command %s", name)
}

func newFake() (*fakeRunner, *Apt) {
	fake := &fakeRunner{installed: map[string]bool{}}
	return fake, &Apt{runner: fake.run}
}

func TestEnsureInstalledSkipsPresentPackages(t *testing.T) {
	fake, apt := newFake()
	fake.installed["openjdk-17-jre-headless"] = true
	fake.installed["anvil-agent"] = true

	if err := apt.EnsureInstalled(context.Background(), []string{"openjdk-17-jre-headless", "anvil-agent"}); err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}

	for _, call := range fake.calls {
		if strings.HasPrefix(call, "apt-get") {
			t.Errorf("apt-get invoked although every package is installed: %q", call)
		}
	}
}

func TestEnsureInstalledInstallsOnlyMissing(t *testing.T) {
	fake, apt := newFake()
	fake.installed["openjdk-17-jre-headless"] = true

	if err := apt.EnsureInstalled(context.Background(), []string{"openjdk-17-jre-headless", "anvil-agent"}); err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}

	var sawUpdate, sawInstall bool
	for _, call := range fake.calls {
		if call == "apt-get update" {
			sawUpdate = true
		}
		if strings.HasPrefix(call, "apt-get install") {
			sawInstall = true
			if strings.Contains(call, "openjdk") {
				t.Errorf("installed an already-present package: %q", call)
			}
			if !strings.Contains(call, "anvil-agent") {
				t.Errorf("missing package not installed: %q", call)
			}
		}
	}
	if !sawUpdate || !sawInstall {
		t.Errorf("calls = %v, want update then install", fake.calls)
	}
}

func TestEnsureInstalledPropagatesAptFailure(t *testing.T) {
	fake, apt := newFake()
	fake.aptErr = fmt.Errorf("apt-get update: exit status 100 (stderr: no network)")

	if err := apt.EnsureInstalled(context.Background(), []string{"anvil-agent"}); err == nil {
		t.Fatal("EnsureInstalled swallowed the apt failure")
	}
}
