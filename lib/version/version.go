// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version of the anvil-agent
// binaries. The version string is injected at build time via
// -ldflags; development builds report "devel".
package version

// value is overwritten by the linker:
//
//	-ldflags "-X github.com/anvil-foundation/anvil-agent/lib/version.value=v0.4.1"
var value = "devel"

// Short returns the bare version string, e.g. "v0.4.1" or "devel".
func Short() string { return value }
