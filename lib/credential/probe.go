// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
)

// Output markers printed by the agent runtime's remoting library. The
// connect marker is the only positive signal: a probe that produces
// neither marker before its deadline has not connected, no matter how
// cleanly the process exited.
const (
	connectedMarker  = "INFO: Connected"
	terminatedMarker = "INFO: Terminated"
)

// ProbeResult classifies one credential probe.
type ProbeResult int

const (
	// Connected: the agent completed its handshake and was not torn
	// down. The only success state.
	Connected ProbeResult = iota

	// Rejected: the agent connected but the coordinator terminated the
	// session (connect followed by terminate — typically a secret that
	// belongs to a different agent name).
	Rejected

	// TimedOut: no marker was observed before the deadline, or the
	// probe process could not be spawned at all.
	TimedOut

	// Terminated: the coordinator refused the session outright.
	Terminated
)

// String returns the result name for logs.
func (r ProbeResult) String() string {
	switch r {
	case Connected:
		return "connected"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed-out"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Prober validates one candidate credential against the coordinator.
// The single production implementation shells out to the agent binary;
// tests substitute fakes.
type Prober interface {
	// Probe dry-runs a registration with the candidate credential,
	// bounded by timeout. Classification outcomes are values, never
	// errors: a failed probe is an expected state while the
	// coordinator converges.
	Probe(ctx context.Context, identity hostinfo.Identity, candidate Credential, timeout time.Duration) ProbeResult
}

// ExecProber probes by spawning the agent binary in one-shot mode
// (--once: connect, report, exit; no retry loop, no persistence).
type ExecProber struct {
	// Binary is the agent executable, resolved via PATH if relative.
	Binary string

	Logger *slog.Logger
}

// Probe spawns the agent binary against the candidate's coordinator
// and classifies the outcome from its combined output. The process is
// killed when the timeout elapses.
func (p *ExecProber) Probe(ctx context.Context, identity hostinfo.Identity, candidate Credential, timeout time.Duration) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := exec.CommandContext(ctx, p.Binary,
		"--url", candidate.Address,
		"--secret", candidate.Secret,
		"--name", identity.Name,
		"--once",
	)

	// The remoting library logs to stderr; merge both streams into one
	// pipe so marker scanning sees every line in order.
	reader, writer, err := os.Pipe()
	if err != nil {
		p.Logger.Warn("probe pipe creation failed", "error", err)
		return TimedOut
	}
	command.Stdout = writer
	command.Stderr = writer

	if err := command.Start(); err != nil {
		writer.Close()
		reader.Close()
		p.Logger.Warn("probe spawn failed",
			"binary", p.Binary,
			"coordinator", candidate.Address,
			"error", err,
		)
		return TimedOut
	}
	// The child holds its own copy of the write end; closing ours lets
	// the scan loop see EOF when the child exits.
	writer.Close()

	connected, terminated := scanMarkers(reader, p.Logger)
	reader.Close()

	// The process exits on its own (connection refusal, --once
	// completion) or is killed by the context deadline. Its exit code
	// carries no signal beyond the markers, so the error is dropped.
	_ = command.Wait()

	return classify(connected, terminated)
}

// scanMarkers reads output line by line until EOF, recording which
// markers appeared. Every line is logged at debug level for
// registration troubleshooting.
func scanMarkers(reader io.Reader, logger *slog.Logger) (connected, terminated bool) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("probe output", "line", line)
		if strings.Contains(line, connectedMarker) {
			connected = true
		}
		if strings.Contains(line, terminatedMarker) {
			terminated = true
		}
	}
	return connected, terminated
}

// classify maps observed markers to a ProbeResult. Connected requires
// the positive signal alone: a connect followed by a terminate means
// the coordinator accepted the transport and then rejected the
// registration.
func classify(connected, terminated bool) ProbeResult {
	switch {
	case connected && terminated:
		return Rejected
	case connected:
		return Connected
	case terminated:
		return Terminated
	default:
		return TimedOut
	}
}
