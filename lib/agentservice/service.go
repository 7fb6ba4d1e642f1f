// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentservice drives the agent's OS service through its
// lifecycle: package install, credential configuration, restart with
// bounded readiness polling, stop, and failure-counter housekeeping.
//
// Every transition is idempotent. The driver blocks its caller until a
// restart resolves to active or failed — there is no observable
// "starting" state, and no operation ever hangs past its timeout.
package agentservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/clock"
	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
	"github.com/anvil-foundation/anvil-agent/lib/render"
)

// SystemManager is the service-manager surface the driver needs.
// *systemd.Systemctl is the production implementation.
type SystemManager interface {
	Restart(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) (bool, error)
	ResetFailed(ctx context.Context, unit string) error
	DaemonReload(ctx context.Context) error
}

// PackageManager installs the agent runtime packages. *aptpkg.Apt is
// the production implementation.
type PackageManager interface {
	EnsureInstalled(ctx context.Context, packages []string) error
}

// Params configures a Service driver.
type Params struct {
	// Unit is the systemd unit name of the agent service.
	Unit string

	// Packages are the apt packages the agent runtime requires.
	Packages []string

	// OverrideDir is the systemd drop-in directory; the rendered
	// override is written to <OverrideDir>/override.conf.
	OverrideDir string

	// OverridePath is the full path of the rendered override file.
	OverridePath string

	// ReadySentinel is the agent's handshake-complete marker file.
	// Empty disables the sentinel half of the readiness predicate.
	ReadySentinel string

	// Owner is the system user owning the rendered override.
	Owner string

	// Proxy is the optional outbound proxy environment rendered
	// alongside the credential.
	Proxy render.Proxy

	System   SystemManager
	Packager PackageManager
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Service is the lifecycle driver for the agent's OS service. It is
// the sole mutator of the rendered override file and the unit; callers
// must not invoke its mutating methods concurrently.
type Service struct {
	params Params
	state  State
}

// New returns a driver in the Uninstalled state. The real service may
// of course already be installed and running; the first operation or
// query observes that.
func New(params Params) *Service {
	return &Service{params: params}
}

// State returns the driver's current view of the service.
func (s *Service) State() State { return s.state }

// Install ensures the agent runtime packages are present. A second
// call when everything is installed is a no-op success.
func (s *Service) Install(ctx context.Context) error {
	if err := s.params.Packager.EnsureInstalled(ctx, s.params.Packages); err != nil {
		return &PackageInstallError{Err: err}
	}
	if s.state == Uninstalled {
		s.state = Installed
	}
	return nil
}

// Configure renders the credential into the systemd override and
// writes it atomically, creating the drop-in directory first. Returns
// the checksum of the rendered content. No retries: retry policy
// belongs to the next reconciliation.
func (s *Service) Configure(ctx context.Context, identity hostinfo.Identity, cred credential.Credential) (string, error) {
	_ = ctx

	if err := os.MkdirAll(s.params.OverrideDir, 0o755); err != nil {
		return "", &render.FileRenderError{Path: s.params.OverridePath, Err: err}
	}

	content := render.Render(identity, cred, s.params.Proxy)
	s.params.Logger.Info("rendering agent configuration",
		"path", s.params.OverridePath,
		"coordinator", cred.Address,
		"agent", identity.Name,
	)
	if err := render.WriteFile(s.params.OverridePath, content, 0o644, s.params.Owner); err != nil {
		return "", err
	}
	s.state = Configured
	return render.Checksum(content), nil
}

// RenderChecksum returns the checksum the override would have for the
// given inputs, without touching disk. The reconciler compares it
// against its state record to detect credential changes.
func (s *Service) RenderChecksum(identity hostinfo.Identity, cred credential.Credential) string {
	return render.Checksum(render.Render(identity, cred, s.params.Proxy))
}

// RestartAndWaitReady restarts the service and polls until it is
// confirmed ready or timeout elapses. The restart command failing
// returns immediately; otherwise the call blocks, sleeping
// pollInterval between checks, and resolves strictly within
// timeout + pollInterval.
//
// Readiness requires the service manager to report the unit active
// AND, when a sentinel path is configured, the agent's
// handshake-complete sentinel to exist. An active unit alone does not
// imply the agent finished registering with the coordinator.
func (s *Service) RestartAndWaitReady(ctx context.Context, timeout, pollInterval time.Duration) error {
	// Pick up the freshly written drop-in before restarting.
	if err := s.params.System.DaemonReload(ctx); err != nil {
		s.state = Failed
		return &ServiceRestartError{Unit: s.params.Unit, Err: err}
	}
	if err := s.params.System.Restart(ctx, s.params.Unit); err != nil {
		s.state = Failed
		return &ServiceRestartError{Unit: s.params.Unit, Err: err}
	}

	deadline := s.params.Clock.Now().Add(timeout)
	for {
		s.params.Clock.Sleep(pollInterval)
		if s.ready(ctx) {
			s.state = Active
			s.params.Logger.Info("agent service ready", "unit", s.params.Unit)
			return nil
		}
		if s.params.Clock.Now().After(deadline) {
			s.state = Failed
			return &ServiceRestartError{
				Unit: s.params.Unit,
				Err:  fmt.Errorf("%w after %v", ErrReadinessTimeout, timeout),
			}
		}
	}
}

// ready evaluates the readiness predicate once.
func (s *Service) ready(ctx context.Context) bool {
	active, err := s.params.System.IsActive(ctx, s.params.Unit)
	if err != nil {
		s.params.Logger.Debug("liveness query failed", "unit", s.params.Unit, "error", err)
		return false
	}
	if !active {
		return false
	}
	if s.params.ReadySentinel == "" {
		return true
	}
	if _, err := os.Stat(s.params.ReadySentinel); err != nil {
		return false
	}
	return true
}

// Stop stops the service and clears the rendered override. Both halves
// are idempotent: stopping a stopped unit and unlinking an absent file
// are successes.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.params.System.Stop(ctx, s.params.Unit); err != nil {
		return &ServiceStopError{Unit: s.params.Unit, Err: err}
	}
	if err := os.Remove(s.params.OverridePath); err != nil && !os.IsNotExist(err) {
		return &ServiceStopError{Unit: s.params.Unit, Err: err}
	}
	// The unit file set changed; reload so a later start does not pick
	// up the cleared credential. Best-effort: the next
	// RestartAndWaitReady reloads again.
	if err := s.params.System.DaemonReload(ctx); err != nil {
		s.params.Logger.Warn("daemon-reload after stop failed", "error", err)
	}
	if s.state != Uninstalled {
		s.state = Installed
	}
	return nil
}

// ResetFailureCounters clears the unit's failure state so systemd's
// start-limit accounting begins fresh. Best-effort housekeeping:
// failure is logged, never propagated, and never blocks an otherwise
// successful reconciliation.
func (s *Service) ResetFailureCounters(ctx context.Context) {
	if err := s.params.System.ResetFailed(ctx, s.params.Unit); err != nil {
		s.params.Logger.Warn("resetting failure counters failed",
			"unit", s.params.Unit,
			"error", err,
		)
	}
}

// IsActive reports whether the service manager considers the unit
// active. Pure query: any underlying error degrades to false, since
// callers treat this as a liveness probe, not a control operation.
func (s *Service) IsActive(ctx context.Context) bool {
	active, err := s.params.System.IsActive(ctx, s.params.Unit)
	if err != nil {
		s.params.Logger.Debug("liveness query failed", "unit", s.params.Unit, "error", err)
		return false
	}
	return active
}
