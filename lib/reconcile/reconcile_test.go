// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/clock"
	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
	"github.com/anvil-foundation/anvil-agent/lib/render"
)

// fakeDriver counts lifecycle calls and replays scripted failures.
// Checksums are derived from the credential so change detection works
// like the real renderer's.
type fakeDriver struct {
	active bool

	installErr   error
	configureErr error
	restartErr   error
	stopErr      error

	installs   int
	configures int
	restarts   int
	stops      int
	resets     int
}

func (d *fakeDriver) Install(context.Context) error {
	d.installs++
	return d.installErr
}

func (d *fakeDriver) Configure(_ context.Context, identity hostinfo.Identity, cred credential.Credential) (string, error) {
	d.configures++
	if d.configureErr != nil {
		return "", d.configureErr
	}
	return d.RenderChecksum(identity, cred), nil
}

func (d *fakeDriver) RenderChecksum(identity hostinfo.Identity, cred credential.Credential) string {
	return "cs:" + identity.Name + ":" + cred.Address + ":" + cred.Secret
}

func (d *fakeDriver) RestartAndWaitReady(context.Context, time.Duration, time.Duration) error {
	d.restarts++
	if d.restartErr != nil {
		return d.restartErr
	}
	d.active = true
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.stops++
	if d.stopErr != nil {
		return d.stopErr
	}
	d.active = false
	return nil
}

func (d *fakeDriver) ResetFailureCounters(context.Context) { d.resets++ }

func (d *fakeDriver) IsActive(context.Context) bool { return d.active }

// scriptedProber returns canned results keyed by secret; unknown
// secrets time out.
type scriptedProber struct {
	results map[string]credential.ProbeResult
	probes  int
}

func (p *scriptedProber) Probe(_ context.Context, _ hostinfo.Identity, candidate credential.Credential, _ time.Duration) credential.ProbeResult {
	p.probes++
	result, ok := p.results[candidate.Secret]
	if !ok {
		return credential.TimedOut
	}
	return result
}

type fixture struct {
	reconciler *Reconciler
	driver     *fakeDriver
	prober     *scriptedProber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	driver := &fakeDriver{}
	prober := &scriptedProber{results: map[string]credential.ProbeResult{}}
	return &fixture{
		reconciler: &Reconciler{
			Driver:           driver,
			Prober:           prober,
			Identity:         hostinfo.Identity{Name: "builder-0", Labels: []string{"x86_64"}, Executors: 4},
			ProbeTimeout:     5 * time.Second,
			ReadinessTimeout: 60 * time.Second,
			PollInterval:     2 * time.Second,
			StatePath:        filepath.Join(t.TempDir(), "reconcile-state.cbor"),
			Clock:            clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
			Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		driver: driver,
		prober: prober,
	}
}

func candidates(secrets ...string) []credential.Credential {
	var list []credential.Credential
	for _, secret := range secrets {
		list = append(list, credential.Credential{Address: "https://anvil.example.com", Secret: secret})
	}
	return list
}

func (f *fixture) assertDriverUntouched(t *testing.T) {
	t.Helper()
	d := f.driver
	if d.installs+d.configures+d.restarts+d.stops != 0 {
		t.Errorf("driver touched: installs=%d configures=%d restarts=%d stops=%d",
			d.installs, d.configures, d.restarts, d.stops)
	}
}

func TestNoRelationYet(t *testing.T) {
	f := newFixture(t)
	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: false, Candidates: candidates("s")})
	if outcome.Kind != NoRelationYet {
		t.Errorf("Kind = %v, want no-relation-yet", outcome.Kind)
	}
	f.assertDriverUntouched(t)
}

func TestCredentialsIncomplete(t *testing.T) {
	f := newFixture(t)
	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true})
	if outcome.Kind != CredentialsIncomplete {
		t.Errorf("Kind = %v, want credentials-incomplete", outcome.Kind)
	}
	f.assertDriverUntouched(t)
}

func TestNoValidCredentialLeavesActiveServiceAlone(t *testing.T) {
	f := newFixture(t)
	f.driver.active = true
	f.prober.results["bad"] = credential.Rejected

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("bad")})
	if outcome.Kind != NoValidCredential {
		t.Errorf("Kind = %v, want no-valid-credential", outcome.Kind)
	}
	if f.driver.stops != 0 {
		t.Error("active service stopped on a transient probe failure")
	}
	if !f.driver.active {
		t.Error("service no longer active")
	}
}

func TestNoValidCredentialStopPolicy(t *testing.T) {
	f := newFixture(t)
	f.reconciler.StopOnNoValidCredential = true
	f.driver.active = true
	f.prober.results["bad"] = credential.Rejected

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("bad")})
	if outcome.Kind != NoValidCredential {
		t.Errorf("Kind = %v, want no-valid-credential", outcome.Kind)
	}
	if f.driver.stops != 1 {
		t.Errorf("stops = %d, want 1 under the stop policy", f.driver.stops)
	}
}

func TestNoValidCredentialStopFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.reconciler.StopOnNoValidCredential = true
	f.driver.active = true
	f.driver.stopErr = errors.New("exit status 1")
	f.prober.results["bad"] = credential.Rejected

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("bad")})
	if outcome.Kind != OperationFailed {
		t.Errorf("Kind = %v, want operation-failed", outcome.Kind)
	}
	if outcome.Err == nil {
		t.Error("OperationFailed outcome carries no cause")
	}
}

func TestSecondCandidateWins(t *testing.T) {
	f := newFixture(t)
	f.prober.results["bad"] = credential.Rejected
	f.prober.results["good"] = credential.Connected

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("bad", "good")})
	if outcome.Kind != Active {
		t.Fatalf("Kind = %v (err=%v), want active", outcome.Kind, outcome.Err)
	}
	if f.driver.installs != 1 || f.driver.configures != 1 || f.driver.restarts != 1 {
		t.Errorf("installs=%d configures=%d restarts=%d, want 1 each",
			f.driver.installs, f.driver.configures, f.driver.restarts)
	}
	if f.driver.resets != 1 {
		t.Errorf("resets = %d, want failure counters cleared after success", f.driver.resets)
	}

	record, err := LoadRecord(f.reconciler.StatePath)
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if record.ConfigChecksum == "" || record.Coordinator != "https://anvil.example.com" {
		t.Errorf("record = %+v, want the selection persisted", record)
	}
}

func TestReconcileIdempotentUnderUnchangedInputs(t *testing.T) {
	f := newFixture(t)
	f.prober.results["good"] = credential.Connected
	input := Input{HasRelation: true, Candidates: candidates("good")}

	first := f.reconciler.Reconcile(context.Background(), input)
	if first.Kind != Active {
		t.Fatalf("first pass = %v (err=%v), want active", first.Kind, first.Err)
	}

	second := f.reconciler.Reconcile(context.Background(), input)
	if second.Kind != Active {
		t.Fatalf("second pass = %v, want active", second.Kind)
	}
	if f.driver.restarts != 1 {
		t.Errorf("restarts = %d after two passes with unchanged inputs, want 1", f.driver.restarts)
	}
	if f.driver.configures != 1 {
		t.Errorf("configures = %d after two passes with unchanged inputs, want 1", f.driver.configures)
	}
}

func TestChangedCredentialTriggersReconfigure(t *testing.T) {
	f := newFixture(t)
	f.prober.results["good"] = credential.Connected
	f.prober.results["rotated"] = credential.Connected

	if outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("good")}); outcome.Kind != Active {
		t.Fatalf("first pass = %v, want active", outcome.Kind)
	}
	if outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("rotated")}); outcome.Kind != Active {
		t.Fatalf("second pass = %v, want active", outcome.Kind)
	}
	if f.driver.restarts != 2 {
		t.Errorf("restarts = %d, want a second restart for the rotated credential", f.driver.restarts)
	}
}

func TestConfigureFailureReportedWithoutRestart(t *testing.T) {
	f := newFixture(t)
	f.prober.results["good"] = credential.Connected
	renderErr := &render.FileRenderError{Path: "/etc/systemd/system/anvil-agent.service.d/override.conf", Err: errors.New("read-only file system")}
	f.driver.configureErr = renderErr

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("good")})
	if outcome.Kind != OperationFailed {
		t.Fatalf("Kind = %v, want operation-failed", outcome.Kind)
	}
	var cause *render.FileRenderError
	if !errors.As(outcome.Err, &cause) {
		t.Errorf("Err = %v, want the FileRenderError cause attached", outcome.Err)
	}
	if f.driver.restarts != 0 {
		t.Errorf("restarts = %d, want no restart after a failed configure", f.driver.restarts)
	}
}

func TestRestartFailureReported(t *testing.T) {
	f := newFixture(t)
	f.prober.results["good"] = credential.Connected
	f.driver.restartErr = errors.New("readiness check timed out after 1m0s")

	outcome := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("good")})
	if outcome.Kind != OperationFailed {
		t.Fatalf("Kind = %v, want operation-failed", outcome.Kind)
	}

	// Retry after failure is safe and attempts the full sequence again.
	f.driver.restartErr = nil
	retry := f.reconciler.Reconcile(context.Background(), Input{HasRelation: true, Candidates: candidates("good")})
	if retry.Kind != Active {
		t.Errorf("retry = %v, want active", retry.Kind)
	}
	if f.driver.restarts != 2 || f.driver.configures != 2 {
		t.Errorf("restarts=%d configures=%d, want 2 each across fail+retry", f.driver.restarts, f.driver.configures)
	}
}
