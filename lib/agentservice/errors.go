// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package agentservice

import (
	"errors"
	"fmt"
)

// ErrReadinessTimeout marks a restart whose readiness poll exhausted
// its deadline. Wrapped inside a *ServiceRestartError; match with
// errors.Is.
var ErrReadinessTimeout = errors.New("readiness check timed out")

// PackageInstallError reports a failure to install the agent runtime
// packages.
type PackageInstallError struct {
	Err error
}

func (e *PackageInstallError) Error() string {
	return fmt.Sprintf("installing agent packages: %v", e.Err)
}

func (e *PackageInstallError) Unwrap() error { return e.Err }

// ServiceRestartError reports a failed restart: either the restart
// command itself, or the readiness wait that follows it.
type ServiceRestartError struct {
	Unit string
	Err  error
}

func (e *ServiceRestartError) Error() string {
	return fmt.Sprintf("restarting %s: %v", e.Unit, e.Err)
}

func (e *ServiceRestartError) Unwrap() error { return e.Err }

// ServiceStopError reports a failed stop or a failure to clear the
// rendered configuration during stop.
type ServiceStopError struct {
	Unit string
	Err  error
}

func (e *ServiceStopError) Error() string {
	return fmt.Sprintf("stopping %s: %v", e.Unit, e.Err)
}

func (e *ServiceStopError) Unwrap() error { return e.Err }
