// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

// State is the driver's view of the managed service. The driver is the
// sole owner: no other component may claim to know the service is
// active without having performed or observed a driver-level check.
type State int

const (
	// Uninstalled: agent packages not yet present.
	Uninstalled State = iota

	// Installed: packages present, no credential configured.
	Installed

	// Configured: a credential is rendered into the override, service
	// not yet confirmed running with it.
	Configured

	// Active: restart issued and readiness confirmed.
	Active

	// Failed: the last restart errored or its readiness wait timed
	// out.
	Failed
)

// String returns the state name for logs and status reporting.
func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	case Configured:
		return "configured"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
