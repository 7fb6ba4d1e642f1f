// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anvil-agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Unit.Service != "anvil-agent" {
		t.Errorf("Unit.Service = %q, want anvil-agent", cfg.Unit.Service)
	}
	if got := cfg.Paths.OverridePath(); got != "/etc/systemd/system/anvil-agent.service.d/override.conf" {
		t.Errorf("OverridePath = %q", got)
	}
	if cfg.Timeouts.Probe.Std() != 5*time.Second {
		t.Errorf("Timeouts.Probe = %v, want 5s", cfg.Timeouts.Probe.Std())
	}
	if cfg.Policy.StopOnNoValidCredential {
		t.Error("StopOnNoValidCredential should default to false")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
unit:
  service: anvil-agent-beta
  packages: [anvil-agent-beta]
identity:
  name: builder-7
  labels: [amd64, docker]
  executors: 8
timeouts:
  probe: 2s
  readiness: 1m30s
policy:
  stop_on_no_valid_credential: true
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Unit.Service != "anvil-agent-beta" {
		t.Errorf("Unit.Service = %q", cfg.Unit.Service)
	}
	if cfg.Identity.Name != "builder-7" || cfg.Identity.Executors != 8 {
		t.Errorf("Identity = %+v", cfg.Identity)
	}
	if cfg.Timeouts.Readiness.Std() != 90*time.Second {
		t.Errorf("Timeouts.Readiness = %v, want 90s", cfg.Timeouts.Readiness.Std())
	}
	// Unset sections keep their defaults.
	if cfg.Timeouts.PollInterval.Std() != 2*time.Second {
		t.Errorf("Timeouts.PollInterval = %v, want default 2s", cfg.Timeouts.PollInterval.Std())
	}
	if !cfg.Policy.StopOnNoValidCredential {
		t.Error("StopOnNoValidCredential = false, want true")
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "timeouts:\n  probe: soon\n"))
	if err == nil {
		t.Fatal("LoadFile accepted an invalid duration")
	}
	if !strings.Contains(err.Error(), "soon") {
		t.Errorf("error %q does not name the bad value", err)
	}
}

func TestValidateRejectsNonPositiveTimeout(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "timeouts:\n  probe: 0s\n"))
	if err == nil {
		t.Fatal("LoadFile accepted a zero probe timeout")
	}
}

func TestValidateRejectsEmptyService(t *testing.T) {
	cfg := Default()
	cfg.Unit.Service = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted an empty unit.service")
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("ANVIL_AGENT_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without ANVIL_AGENT_CONFIG")
	}
}
