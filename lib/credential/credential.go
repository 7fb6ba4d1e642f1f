// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements credential validation against the
// Anvil coordinator: the Credential type, the probe that dry-runs a
// registration attempt, and the selector that picks the first working
// candidate out of an ordered list.
//
// Probing is the only place in the controller that talks to the
// coordinator. It spawns the agent binary in one-shot mode and
// classifies the outcome from its output stream; nothing about a probe
// persists — the probed credential is not wired into the running
// service.
package credential

// Credential is one coordinator endpoint + registration secret pair.
// Immutable once constructed. Several credentials may exist as
// candidates at the same time; at most one is ever bound into the
// running service.
type Credential struct {
	// Address is the coordinator URL.
	Address string

	// Secret is the opaque registration secret for this agent.
	Secret string
}

// String renders the credential for logs with the secret redacted.
func (c Credential) String() string {
	return c.Address + " (secret redacted)"
}
