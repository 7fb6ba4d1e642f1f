// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile implements the controller's top-level state
// machine: given the current relation inputs, decide whether to no-op,
// wait, (re)configure and restart the agent service, or report an
// operational failure.
//
// Reconcile is safe to call repeatedly with unchanged inputs — a
// healthy service is never restarted for nothing — but it is not
// re-entrant: the caller serializes passes against one driver (the
// daemon holds a mutex around the call).
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/clock"
	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
)

// Driver is the lifecycle surface the reconciler drives.
// *agentservice.Service is the production implementation.
type Driver interface {
	Install(ctx context.Context) error
	Configure(ctx context.Context, identity hostinfo.Identity, cred credential.Credential) (checksum string, err error)
	RenderChecksum(identity hostinfo.Identity, cred credential.Credential) string
	RestartAndWaitReady(ctx context.Context, timeout, pollInterval time.Duration) error
	Stop(ctx context.Context) error
	ResetFailureCounters(ctx context.Context)
	IsActive(ctx context.Context) bool
}

// Input is the relation data for one pass, supplied fresh by the
// caller each time. The reconciler never caches it.
type Input struct {
	// HasRelation is false until the agent is related to a
	// coordinator.
	HasRelation bool

	// Candidates is the ordered candidate credential list. Earlier
	// entries take precedence.
	Candidates []credential.Credential
}

// Reconciler ties the selector, renderer, and lifecycle driver
// together. Fields are set once at construction and not mutated.
type Reconciler struct {
	Driver   Driver
	Prober   credential.Prober
	Identity hostinfo.Identity

	ProbeTimeout     time.Duration
	ReadinessTimeout time.Duration
	PollInterval     time.Duration

	// StatePath locates the persisted Record.
	StatePath string

	// StopOnNoValidCredential stops an already-active service when no
	// candidate validates. Default false: transient probe failures
	// must not tear down a healthy agent.
	StopOnNoValidCredential bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Reconcile runs one complete pass and returns its outcome. Outcomes
// in the waiting family (NoRelationYet, CredentialsIncomplete,
// NoValidCredential) perform no side effects on the service, with the
// single policy-gated exception documented on StopOnNoValidCredential.
func (r *Reconciler) Reconcile(ctx context.Context, input Input) Outcome {
	if !input.HasRelation {
		return Outcome{Kind: NoRelationYet}
	}
	if len(input.Candidates) == 0 {
		return Outcome{Kind: CredentialsIncomplete}
	}

	selected, ok := credential.Select(ctx, r.Prober, r.Identity, input.Candidates, r.ProbeTimeout, r.Logger)
	if !ok {
		// No candidate validated. An active service keeps running on
		// its previously bound credential unless policy says otherwise
		// — the failed probes may be transient, and the other
		// candidates likely belong to other agents.
		if r.StopOnNoValidCredential && r.Driver.IsActive(ctx) {
			r.Logger.Info("no valid credential; stopping active service per policy")
			if err := r.Driver.Stop(ctx); err != nil {
				return failed(err)
			}
		}
		return Outcome{Kind: NoValidCredential}
	}

	record, err := LoadRecord(r.StatePath)
	if err != nil {
		// Unreadable memory means "assume changed": the pass below
		// reconfigures, which is safe, just not free.
		r.Logger.Warn("state record unreadable, reconfiguring", "error", err)
		record = Record{}
	}

	expected := r.Driver.RenderChecksum(r.Identity, selected)
	if r.Driver.IsActive(ctx) && record.ConfigChecksum == expected {
		return Outcome{Kind: Active}
	}

	if err := r.Driver.Install(ctx); err != nil {
		return failed(err)
	}
	checksum, err := r.Driver.Configure(ctx, r.Identity, selected)
	if err != nil {
		return failed(err)
	}
	if err := r.Driver.RestartAndWaitReady(ctx, r.ReadinessTimeout, r.PollInterval); err != nil {
		return failed(err)
	}
	r.Driver.ResetFailureCounters(ctx)

	if err := SaveRecord(r.StatePath, Record{
		AgentName:      r.Identity.Name,
		Coordinator:    selected.Address,
		ConfigChecksum: checksum,
		UpdatedAt:      r.Clock.Now(),
	}); err != nil {
		// The service is up; losing the record only costs an extra
		// restart on the next pass.
		r.Logger.Warn("saving state record failed", "error", err)
	}

	return Outcome{Kind: Active}
}
