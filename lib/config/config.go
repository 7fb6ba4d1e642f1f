// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the anvil-agent
// lifecycle controller.
//
// Configuration is loaded from a single YAML file specified by:
//   - ANVIL_AGENT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Every field has a
// working default, so an empty file (or no file at all, for commands
// that accept that) configures a stock installation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the controller configuration.
type Config struct {
	// Unit configures the managed systemd service and its packages.
	Unit UnitConfig `yaml:"unit"`

	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Identity overrides fields of the derived agent identity.
	Identity IdentityConfig `yaml:"identity"`

	// Timeouts bounds the probe and readiness operations.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Policy selects reconciliation behavior that is deliberately not
	// hard-coded.
	Policy PolicyConfig `yaml:"policy"`

	// Proxy configures outbound proxy settings rendered into the
	// agent's environment. All fields optional.
	Proxy ProxyConfig `yaml:"proxy"`
}

// UnitConfig configures the managed systemd service.
type UnitConfig struct {
	// Service is the systemd unit name of the agent service.
	// Default: anvil-agent
	Service string `yaml:"service"`

	// Packages are the apt packages required for the agent runtime,
	// installed in order. Default: openjdk-17-jre-headless, anvil-agent.
	Packages []string `yaml:"packages"`

	// AgentBinary is the agent executable used for credential probing.
	// Default: anvil-agent (resolved via PATH).
	AgentBinary string `yaml:"agent_binary"`

	// Owner is the system user that owns the rendered override file.
	// Default: root.
	Owner string `yaml:"owner"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// OverrideDir is the systemd drop-in directory for the agent
	// service. Default: /etc/systemd/system/anvil-agent.service.d
	OverrideDir string `yaml:"override_dir"`

	// ReadySentinel is the file the agent creates once its coordinator
	// handshake completes. Empty disables the sentinel half of the
	// readiness predicate (for agent packages that predate it).
	// Default: /var/lib/anvil-agent/agents/.ready
	ReadySentinel string `yaml:"ready_sentinel"`

	// State is the controller's own state directory (state record,
	// status file). Default: /var/lib/anvil-agent/controller
	State string `yaml:"state"`

	// RelationSnapshot is the relation data file maintained by the
	// event layer. Default: /var/lib/anvil-agent/controller/relation.jsonc
	RelationSnapshot string `yaml:"relation_snapshot"`
}

// OverridePath returns the full path of the rendered override file.
// The file name matters: systemd only reads *.conf drop-ins, and
// "override.conf" is the conventional name for operator overrides.
func (p PathsConfig) OverridePath() string {
	return filepath.Join(p.OverrideDir, "override.conf")
}

// StateRecordPath returns the path of the reconciler state record.
func (p PathsConfig) StateRecordPath() string {
	return filepath.Join(p.State, "reconcile-state.cbor")
}

// StatusPath returns the path of the daemon's status file.
func (p PathsConfig) StatusPath() string {
	return filepath.Join(p.State, "status.json")
}

// IdentityConfig overrides derived identity fields.
type IdentityConfig struct {
	// Name overrides the agent name. Default: the hostname.
	Name string `yaml:"name"`

	// Labels are the agent labels advertised to the coordinator.
	// Default: the machine hardware name from uname(2).
	Labels []string `yaml:"labels"`

	// Executors overrides the executor count. Default: the CPU count.
	Executors int `yaml:"executors"`
}

// TimeoutsConfig bounds the long-running operations.
type TimeoutsConfig struct {
	// Probe bounds a single credential probe. Default: 5s.
	Probe Duration `yaml:"probe"`

	// Readiness bounds the post-restart readiness poll. Default: 60s.
	Readiness Duration `yaml:"readiness"`

	// PollInterval is the sleep between readiness checks. Default: 2s.
	PollInterval Duration `yaml:"poll_interval"`

	// Tick is the daemon's periodic reconciliation interval.
	// Default: 30s.
	Tick Duration `yaml:"tick"`
}

// PolicyConfig selects reconciliation behavior.
type PolicyConfig struct {
	// StopOnNoValidCredential stops an already-active service when no
	// candidate credential validates. Default false: a transient probe
	// failure must not tear down a healthy agent.
	StopOnNoValidCredential bool `yaml:"stop_on_no_valid_credential"`

	// StopOnShutdown stops the agent service when the daemon exits.
	// Default false: the agent keeps building through controller
	// restarts.
	StopOnShutdown bool `yaml:"stop_on_shutdown"`
}

// ProxyConfig configures outbound proxy environment for the agent.
type ProxyConfig struct {
	HTTPProxy  string `yaml:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy"`
	NoProxy    string `yaml:"no_proxy"`
}

// Default returns the stock configuration for a packaged installation.
func Default() *Config {
	return &Config{
		Unit: UnitConfig{
			Service:     "anvil-agent",
			Packages:    []string{"openjdk-17-jre-headless", "anvil-agent"},
			AgentBinary: "anvil-agent",
			Owner:       "root",
		},
		Paths: PathsConfig{
			OverrideDir:      "/etc/systemd/system/anvil-agent.service.d",
			ReadySentinel:    "/var/lib/anvil-agent/agents/.ready",
			State:            "/var/lib/anvil-agent/controller",
			RelationSnapshot: "/var/lib/anvil-agent/controller/relation.jsonc",
		},
		Timeouts: TimeoutsConfig{
			Probe:        Duration(5 * time.Second),
			Readiness:    Duration(60 * time.Second),
			PollInterval: Duration(2 * time.Second),
			Tick:         Duration(30 * time.Second),
		},
	}
}

// Load loads configuration from the ANVIL_AGENT_CONFIG environment
// variable. Fails if the variable is not set; commands that accept a
// default installation should fall back to Default() explicitly.
func Load() (*Config, error) {
	path := os.Getenv("ANVIL_AGENT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("ANVIL_AGENT_CONFIG environment variable not set; " +
			"set it to the path of your anvil-agent.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging the
// file over Default() and validating the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints that the YAML decoder cannot.
func (c *Config) Validate() error {
	if c.Unit.Service == "" {
		return fmt.Errorf("unit.service must not be empty")
	}
	if c.Unit.AgentBinary == "" {
		return fmt.Errorf("unit.agent_binary must not be empty")
	}
	if len(c.Unit.Packages) == 0 {
		return fmt.Errorf("unit.packages must list at least the agent package")
	}
	if c.Paths.OverrideDir == "" {
		return fmt.Errorf("paths.override_dir must not be empty")
	}
	if c.Paths.State == "" {
		return fmt.Errorf("paths.state must not be empty")
	}
	if c.Identity.Executors < 0 {
		return fmt.Errorf("identity.executors must not be negative")
	}
	for _, field := range []struct {
		name  string
		value Duration
	}{
		{"timeouts.probe", c.Timeouts.Probe},
		{"timeouts.readiness", c.Timeouts.Readiness},
		{"timeouts.poll_interval", c.Timeouts.PollInterval},
		{"timeouts.tick", c.Timeouts.Tick},
	} {
		if field.value <= 0 {
			return fmt.Errorf("%s must be positive", field.name)
		}
	}
	return nil
}
