// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package render produces the agent service's runtime configuration: a
// systemd drop-in that binds the selected credential and agent name
// into the service environment, written atomically with fixed
// permissions and ownership.
//
// Rendering is pure and byte-stable: the same inputs always produce
// identical bytes, so the rendered file's checksum doubles as the
// credential-change signal for the reconciler.
package render

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/anvil-foundation/anvil-agent/lib/credential"
	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
)

// Environment variable names consumed by the agent service. These are
// a versioned contract with the anvil-agent package: renaming one
// breaks every installed unit file.
const (
	urlVariable    = "ANVIL_URL"
	secretVariable = "ANVIL_SECRET"
	agentVariable  = "ANVIL_AGENT"
)

// Proxy is the optional outbound proxy environment for the agent.
// Empty fields are omitted from the rendered output.
type Proxy struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// Render produces the systemd override for the given identity and
// credential. The three core bindings appear first in fixed order;
// proxy bindings, when configured, follow them.
func Render(identity hostinfo.Identity, cred credential.Credential, proxy Proxy) []byte {
	var b strings.Builder
	b.WriteString("[Service]\n")
	writeBinding(&b, urlVariable, cred.Address)
	writeBinding(&b, secretVariable, cred.Secret)
	writeBinding(&b, agentVariable, identity.Name)
	if proxy.HTTPProxy != "" {
		writeBinding(&b, "HTTP_PROXY", proxy.HTTPProxy)
	}
	if proxy.HTTPSProxy != "" {
		writeBinding(&b, "HTTPS_PROXY", proxy.HTTPSProxy)
	}
	if proxy.NoProxy != "" {
		writeBinding(&b, "NO_PROXY", proxy.NoProxy)
	}
	return []byte(b.String())
}

// writeBinding emits one systemd Environment= assignment. The value is
// quoted, with embedded quotes and backslashes escaped per
// systemd.syntax(7).
func writeBinding(b *strings.Builder, name, value string) {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	fmt.Fprintf(b, "Environment=\"%s=%s\"\n", name, escaped)
}

// Checksum returns the hex-encoded BLAKE3 digest of rendered content.
// This is the canonical change-detection token stored in the
// reconciler's state record and the daemon's status file.
func Checksum(content []byte) string {
	digest := blake3.Sum256(content)
	return hex.EncodeToString(digest[:])
}
