// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Anvilctl is the operator CLI for the anvil-agent lifecycle
// controller. It inspects the controller's published status, runs
// one-shot reconciliation passes, probes candidate credentials, and
// drives individual service lifecycle operations for debugging.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/anvil-foundation/anvil-agent/lib/agentservice"
	"github.com/anvil-foundation/anvil-agent/lib/aptpkg"
	"github.com/anvil-foundation/anvil-agent/lib/clock"
	"github.com/anvil-foundation/anvil-agent/lib/config"
	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
	"github.com/anvil-foundation/anvil-agent/lib/reconcile"
	"github.com/anvil-foundation/anvil-agent/lib/relation"
	"github.com/anvil-foundation/anvil-agent/lib/render"
	"github.com/anvil-foundation/anvil-agent/lib/systemd"
	"github.com/anvil-foundation/anvil-agent/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *command {
	return &command{
		Name:    "anvilctl",
		Summary: "Operator CLI for the anvil-agent lifecycle controller.",
		Subcommands: []*command{
			statusCommand(),
			reconcileCommand(),
			probeCommand(),
			installCommand(),
			stopCommand(),
			resetFailedCommand(),
			versionCommand(),
		},
	}
}

// controller bundles the wired-up lifecycle pieces for one-shot
// commands.
type controller struct {
	cfg        *config.Config
	identity   hostinfo.Identity
	driver     *agentservice.Service
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// newController loads configuration and wires the production
// implementations, mirroring the daemon's wiring.
func newController(configPath string) (*controller, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Keep command output clean: only surface warnings and errors.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	identity := hostinfo.Derive(hostinfo.Overrides{
		Name:      cfg.Identity.Name,
		Labels:    cfg.Identity.Labels,
		Executors: cfg.Identity.Executors,
	})

	clk := clock.Real()
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

	return &controller{
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
		logger: logger,
	}, nil
}

// loadConfig resolves configuration the same way the daemon does:
// --config wins, then ANVIL_AGENT_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("ANVIL_AGENT_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// configFlag registers the shared --config flag on a fresh flag set.
func configFlag(name string, configPath *string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVar(configPath, "config", "", "path to anvil-agent.yaml")
	return flags
}

func statusCommand() *command {
	var (
		configPath string
		asJSON     bool
	)
	return &command{
		Name:    "status",
		Summary: "Show the controller's last reconciliation outcome.",
		Description: "Status reads the controller's published status file and prints\n" +
			"the outcome of the most recent reconciliation pass.",
		Flags: func() *pflag.FlagSet {
			flags := configFlag("status", &configPath)
			flags.BoolVar(&asJSON, "json", false, "print the raw status document")
			return flags
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			path := cfg.Paths.StatusPath()
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				return fmt.Errorf("no status file at %s (is anvil-agentd running?)", path)
			}
			if err != nil {
				return err
			}

			if asJSON {
				os.Stdout.Write(data)
				return nil
			}

			var status struct {
				Agent          string `json:"agent"`
				Outcome        string `json:"outcome"`
				Error          string `json:"error"`
				ConfigChecksum string `json:"config_checksum"`
				UpdatedAt      string `json:"updated_at"`
			}
			if err := json.Unmarshal(data, &status); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}

			identity := hostinfo.Derive(hostinfo.Overrides{
				Name:      cfg.Identity.Name,
				Labels:    cfg.Identity.Labels,
				Executors: cfg.Identity.Executors,
			})

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "Agent:\t%s\n", status.Agent)
			fmt.Fprintf(tw, "Labels:\t%s\n", strings.Join(identity.Labels, " "))
			fmt.Fprintf(tw, "Executors:\t%d\n", identity.Executors)
			fmt.Fprintf(tw, "Outcome:\t%s\n", status.Outcome)
			if status.Error != "" {
				fmt.Fprintf(tw, "Error:\t%s\n", status.Error)
			}
			if status.ConfigChecksum != "" {
				fmt.Fprintf(tw, "Config:\t%s\n", status.ConfigChecksum)
			}
			fmt.Fprintf(tw, "Updated:\t%s\n", status.UpdatedAt)
			return tw.Flush()
		},
	}
}

func reconcileCommand() *command {
	var configPath string
	return &command{
		Name:    "reconcile",
		Summary: "Run one reconciliation pass against the current relation snapshot.",
		Flags: func() *pflag.FlagSet {
			return configFlag("reconcile", &configPath)
		},
		Run: func(args []string) error {
			ctl, err := newController(configPath)
			if err != nil {
				return err
			}

			snapshot, err := relation.Load(ctl.cfg.Paths.RelationSnapshot)
			if err != nil {
				return err
			}

			outcome := ctl.reconciler.Reconcile(context.Background(), reconcile.Input{
				HasRelation: snapshot.HasRelation,
				Candidates:  snapshot.Candidates(ctl.identity.Name),
			})
			fmt.Println(outcome.Kind)
			if outcome.Kind == reconcile.OperationFailed {
				return outcome.Err
			}
			return nil
		},
	}
}

func probeCommand() *command {
	var (
		configPath string
		url        string
		secret     string
	)
	return &command{
		Name:    "probe",
		Summary: "Probe candidate credentials against the agent binary.",
		Description: "Probe validates credentials by running the agent binary in\n" +
			"one-shot mode. Without flags it probes every candidate from the\n" +
			"relation snapshot; --url and --secret probe a single explicit\n" +
			"credential instead.",
		Flags: func() *pflag.FlagSet {
			flags := configFlag("probe", &configPath)
			flags.StringVar(&url, "url", "", "coordinator URL to probe (requires --secret)")
			flags.StringVar(&secret, "secret", "", "registration secret to probe (requires --url)")
			return flags
		},
		Run: func(args []string) error {
			if (url == "") != (secret == "") {
				return fmt.Errorf("--url and --secret must be given together")
			}

			ctl, err := newController(configPath)
			if err != nil {
				return err
			}

			var candidates []credential.Credential
			if url != "" {
				candidates = []credential.Credential{{Address: url, Secret: secret}}
			} else {
				snapshot, err := relation.Load(ctl.cfg.Paths.RelationSnapshot)
				if err != nil {
					return err
				}
				candidates = snapshot.Candidates(ctl.identity.Name)
				if len(candidates) == 0 {
					return fmt.Errorf("no candidate credentials in %s", ctl.cfg.Paths.RelationSnapshot)
				}
			}

			prober := &credential.ExecProber{Binary: ctl.cfg.Unit.AgentBinary, Logger: ctl.logger}
			anyConnected := false
			for i, candidate := range candidates {
				result := prober.Probe(context.Background(), ctl.identity, candidate, ctl.cfg.Timeouts.Probe.Std())
				fmt.Printf("candidate %d (%s): %s\n", i+1, candidate.Address, result)
				if result == credential.Connected {
					anyConnected = true
				}
			}
			if !anyConnected {
				return fmt.Errorf("no candidate validated")
			}
			return nil
		},
	}
}

func installCommand() *command {
	var configPath string
	return &command{
		Name:    "install",
		Summary: "Install the agent runtime packages.",
		Flags: func() *pflag.FlagSet {
			return configFlag("install", &configPath)
		},
		Run: func(args []string) error {
			ctl, err := newController(configPath)
			if err != nil {
				return err
			}
			if err := ctl.driver.Install(context.Background()); err != nil {
				return err
			}
			fmt.Println("installed")
			return nil
		},
	}
}

func stopCommand() *command {
	var configPath string
	return &command{
		Name:    "stop",
		Summary: "Stop the agent service and clear its rendered credential.",
		Flags: func() *pflag.FlagSet {
			return configFlag("stop", &configPath)
		},
		Run: func(args []string) error {
			ctl, err := newController(configPath)
			if err != nil {
				return err
			}
			if err := ctl.driver.Stop(context.Background()); err != nil {
				return err
			}
			fmt.Println("stopped")
			return nil
		},
	}
}

func resetFailedCommand() *command {
	var configPath string
	return &command{
		Name:    "reset-failed",
		Summary: "Clear the agent unit's failure counters.",
		Flags: func() *pflag.FlagSet {
			return configFlag("reset-failed", &configPath)
		},
		Run: func(args []string) error {
			ctl, err := newController(configPath)
			if err != nil {
				return err
			}
			ctl.driver.ResetFailureCounters(context.Background())
			return nil
		},
	}
}

func versionCommand() *command {
	return &command{
		Name:    "version",
		Summary: "Print version information.",
		Run: func(args []string) error {
			fmt.Printf("anvilctl %s\n", version.Short())
			return nil
		},
	}
}
