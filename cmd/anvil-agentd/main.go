// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Anvil-agentd is the lifecycle controller for an Anvil build agent.
// It watches the coordinator relation snapshot, validates the
// candidate registration credentials against the real agent binary,
// renders the winning credential into a systemd drop-in, and drives
// the agent service to match.
//
// On each pass (periodic tick, SIGHUP, or startup):
//  1. Reads the relation snapshot from disk.
//  2. Builds the ordered candidate credential list for this agent.
//  3. Reconciles the service against it.
//  4. Publishes the outcome to the status file.
//
// The controller is stateless apart from a small on-disk record of the
// last applied configuration, used to keep repeated passes from
// restarting a healthy service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anvil-foundation/anvil-agent/lib/agentservice"
	"github.com/anvil-foundation/anvil-agent/lib/aptpkg"
	"github.com/anvil-foundation/anvil-agent/lib/clock"
	"github.com/anvil-foundation/anvil-agent/lib/config"
	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
	"github.com/anvil-foundation/anvil-agent/lib/process"
	"github.com/anvil-foundation/anvil-agent/lib/reconcile"
	"github.com/anvil-foundation/anvil-agent/lib/relation"
	"github.com/anvil-foundation/anvil-agent/lib/render"
	"github.com/anvil-foundation/anvil-agent/lib/systemd"
	"github.com/anvil-foundation/anvil-agent/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		once        bool
		install     bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to anvil-agent.yaml (default: $ANVIL_AGENT_CONFIG, else built-in defaults)")
	flag.BoolVar(&once, "once", false, "run a single reconciliation pass and exit")
	flag.BoolVar(&install, "install", false, "install the agent runtime packages before the first pass")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("anvil-agentd %s\n", version.Short())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := newDaemon(cfg, clock.Real(), logger)
	logger.Info("agent identity derived",
		"agent", daemon.identity.Name,
		"labels", daemon.identity.Labels,
		"executors", daemon.identity.Executors,
	)

	if install {
		logger.Info("installing agent runtime packages", "packages", cfg.Unit.Packages)
		if err := daemon.driver.Install(ctx); err != nil {
			return fmt.Errorf("installing agent packages: %w", err)
		}
	}

	if once {
		outcome := daemon.reconcilePass(ctx)
		if outcome.Kind == reconcile.OperationFailed {
			return fmt.Errorf("reconciliation failed: %w", outcome.Err)
		}
		return nil
	}

	daemon.loop(ctx)

	if cfg.Policy.StopOnShutdown {
		// The signal context is already canceled; stop under a fresh
		// one so teardown is not itself interrupted.
		logger.Info("stopping agent service on shutdown per policy")
		if err := daemon.driver.Stop(context.Background()); err != nil {
			logger.Error("stopping agent service on shutdown", "error", err)
		}
	}

	logger.Info("shutting down")
	return nil
}

// loadConfig resolves the configuration: the --config flag wins, then
// ANVIL_AGENT_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("ANVIL_AGENT_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// Daemon owns one reconciler and serializes passes against it.
type Daemon struct {
	cfg      *config.Config
	identity hostinfo.Identity
	driver   reconcile.Driver

	reconciler *reconcile.Reconciler

	// reconcileMu serializes passes: the tick loop and a SIGHUP can
	// otherwise race on the one underlying service.
	reconcileMu sync.Mutex

	clock  clock.Clock
	logger *slog.Logger
}

func newDaemon(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Daemon {
	identity := hostinfo.Derive(hostinfo.Overrides{
		Name:      cfg.Identity.Name,
		Labels:    cfg.Identity.Labels,
		Executors: cfg.Identity.Executors,
	})

	driver := agentservice.New(agentservice.Params{
		Unit:          cfg.Unit.Service,
		Packages:      cfg.Unit.Packages,
		OverrideDir:   cfg.Paths.OverrideDir,
		OverridePath:  cfg.Paths.OverridePath(),
		ReadySentinel: cfg.Paths.ReadySentinel,
		Owner:         cfg.Unit.Owner,
		Proxy: render.Proxy{
			HTTPProxy:  cfg.Proxy.HTTPProxy,
			HTTPSProxy: cfg.Proxy.HTTPSProxy,
			NoProxy:    cfg.Proxy.NoProxy,
		},
		System:   systemd.New(),
		Packager: aptpkg.New(),
		Clock:    clk,
		Logger:   logger,
	})

	return &Daemon{
		cfg:      cfg,
		identity: identity,
		driver:   driver,
		reconciler: &reconcile.Reconciler{
			Driver:                  driver,
			Prober:                  &credential.ExecProber{Binary: cfg.Unit.AgentBinary, Logger: logger},
			Identity:                identity,
			ProbeTimeout:            cfg.Timeouts.Probe.Std(),
			ReadinessTimeout:        cfg.Timeouts.Readiness.Std(),
			PollInterval:            cfg.Timeouts.PollInterval.Std(),
			StatePath:               cfg.Paths.StateRecordPath(),
			StopOnNoValidCredential: cfg.Policy.StopOnNoValidCredential,
			Clock:                   clk,
			Logger:                  logger,
		},
		clock:  clk,
		logger: logger,
	}
}

// loop runs reconciliation passes until ctx is canceled: one at
// startup, then one per tick, plus an immediate pass on SIGHUP.
func (d *Daemon) loop(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	d.reconcilePass(ctx)

	ticker := d.clock.NewTicker(d.cfg.Timeouts.Tick.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d.logger.Info("SIGHUP received, reconciling")
			d.reconcilePass(ctx)
		case <-ticker.C:
			d.reconcilePass(ctx)
		}
	}
}

// reconcilePass reads fresh relation inputs, runs one reconciliation,
// and publishes the outcome. Errors in the surrounding plumbing
// (unreadable snapshot, unwritable status file) are logged and
// reported through the status file rather than crashing the loop.
func (d *Daemon) reconcilePass(ctx context.Context) reconcile.Outcome {
	d.reconcileMu.Lock()
	defer d.reconcileMu.Unlock()

	snapshot, err := relation.Load(d.cfg.Paths.RelationSnapshot)
	if err != nil {
		d.logger.Error("loading relation snapshot", "error", err)
		outcome := reconcile.Outcome{Kind: reconcile.OperationFailed, Err: err}
		d.publishStatus(outcome)
		return outcome
	}

	outcome := d.reconciler.Reconcile(ctx, reconcile.Input{
		HasRelation: snapshot.HasRelation,
		Candidates:  snapshot.Candidates(d.identity.Name),
	})

	switch outcome.Kind {
	case reconcile.OperationFailed:
		d.logger.Error("reconciliation failed", "error", outcome.Err)
	default:
		d.logger.Info("reconciliation complete", "outcome", outcome.Kind.String())
	}

	d.publishStatus(outcome)
	return outcome
}
