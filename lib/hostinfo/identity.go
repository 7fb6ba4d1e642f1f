// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostinfo derives the agent's identity from local host facts.
// The identity describes this agent to the coordinator: a name, an
// ordered label set, and an executor count sized to the CPU count.
//
// Derivation never fails. Missing or unreadable facts degrade to
// conservative fallbacks rather than errors: a freshly imaged host
// with a broken hostname is still a valid agent that should register.
package hostinfo

import (
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Identity describes this agent to the coordinator. Derived once at
// process startup and treated as immutable for the process lifetime.
type Identity struct {
	// Name is the agent name registered with the coordinator. Must be
	// unique per coordinator; secrets in relation data are keyed by it.
	Name string

	// Labels are the capability labels advertised to the coordinator,
	// in a fixed order.
	Labels []string

	// Executors is the number of concurrent builds this agent offers.
	// Always positive.
	Executors int
}

// Overrides are operator-supplied replacements for derived fields.
// Zero values mean "derive from the host".
type Overrides struct {
	Name      string
	Labels    []string
	Executors int
}

// Derive computes the agent identity from host facts, applying any
// overrides.
func Derive(overrides Overrides) Identity {
	identity := Identity{
		Name:      overrides.Name,
		Labels:    overrides.Labels,
		Executors: overrides.Executors,
	}

	if identity.Name == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "anvil-agent"
		}
		// Coordinator agent names are flat identifiers; hostnames on
		// some platforms carry a domain suffix.
		identity.Name = strings.SplitN(hostname, ".", 2)[0]
	}

	if len(identity.Labels) == 0 {
		identity.Labels = []string{machineLabel()}
	}

	if identity.Executors <= 0 {
		identity.Executors = runtime.NumCPU()
		if identity.Executors <= 0 {
			identity.Executors = 1
		}
	}

	return identity
}

// machineLabel returns the hardware name from uname(2), e.g. "x86_64"
// or "aarch64". Falls back to the Go architecture name if the syscall
// fails.
func machineLabel() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return runtime.GOARCH
	}
	machine := charsToString(utsname.Machine[:])
	if machine == "" {
		return runtime.GOARCH
	}
	return machine
}

// charsToString converts a NUL-terminated byte field from
// unix.Utsname to a Go string.
func charsToString(field []byte) string {
	for i, value := range field {
		if value == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}
