// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

// OutcomeKind enumerates the terminal results of one reconciliation
// pass.
type OutcomeKind int

const (
	// NoRelationYet: the agent has not been related to a coordinator.
	// The caller should present a "waiting for relation" status.
	NoRelationYet OutcomeKind = iota

	// CredentialsIncomplete: related, but the relation data carries no
	// usable candidates yet.
	CredentialsIncomplete

	// NoValidCredential: candidates exist but none validated. A
	// legitimate waiting state — the coordinator registers credentials
	// for different agents asynchronously.
	NoValidCredential

	// Active: the service is confirmed running with a validated
	// credential.
	Active

	// OperationFailed: an install, configure, or restart operation
	// failed; the cause is attached to the Outcome.
	OperationFailed
)

// String returns the outcome name used in logs and the status file.
func (k OutcomeKind) String() string {
	switch k {
	case NoRelationYet:
		return "no-relation-yet"
	case CredentialsIncomplete:
		return "credentials-incomplete"
	case NoValidCredential:
		return "no-valid-credential"
	case Active:
		return "active"
	case OperationFailed:
		return "operation-failed"
	default:
		return "unknown"
	}
}

// Outcome is the sole upward contract of a reconciliation pass. Err is
// set only for OperationFailed and carries the originating typed error.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// failed wraps an operational error into an Outcome.
func failed(err error) Outcome {
	return Outcome{Kind: OperationFailed, Err: err}
}
