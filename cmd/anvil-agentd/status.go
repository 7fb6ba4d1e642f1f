// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/reconcile"
)

// Status is the daemon's published view of its last reconciliation
// pass, written as JSON for operators and monitoring scrapers. It
// never contains secrets.
type Status struct {
	// Agent is the agent name this controller manages.
	Agent string `json:"agent"`

	// Outcome is the last pass's outcome, e.g. "active" or
	// "no-valid-credential".
	Outcome string `json:"outcome"`

	// Error carries the failure message when Outcome is
	// "operation-failed".
	Error string `json:"error,omitempty"`

	// ConfigChecksum is the checksum of the applied configuration,
	// from the reconciler's state record. Empty until a pass has
	// configured the service.
	ConfigChecksum string `json:"config_checksum,omitempty"`

	// UpdatedAt is when the pass completed, RFC 3339 UTC.
	UpdatedAt string `json:"updated_at"`
}

// publishStatus writes the status file for the given outcome.
// Best-effort: a failure to publish is logged, never propagated — the
// status file is observability, not state.
func (d *Daemon) publishStatus(outcome reconcile.Outcome) {
	status := Status{
		Agent:     d.identity.Name,
		Outcome:   outcome.Kind.String(),
		UpdatedAt: d.clock.Now().UTC().Format(time.RFC3339),
	}
	if outcome.Err != nil {
		status.Error = outcome.Err.Error()
	}
	if record, err := reconcile.LoadRecord(d.cfg.Paths.StateRecordPath()); err == nil {
		status.ConfigChecksum = record.ConfigChecksum
	}

	if err := writeStatusFile(d.cfg.Paths.StatusPath(), status); err != nil {
		d.logger.Warn("publishing status", "error", err)
	}
}

// writeStatusFile writes the status JSON atomically so a concurrent
// reader never sees a partial document.
func writeStatusFile(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}
