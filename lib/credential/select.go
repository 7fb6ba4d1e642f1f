// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/hostinfo"
)

// Select probes candidates in input order and returns the first one
// that validates. Earlier entries take precedence purely by position;
// no probing happens past the first success.
//
// Returns false if no candidate validates. That is not an error: the
// coordinator registers credentials for different agents
// asynchronously, and candidates belonging to other agents are
// expected to fail.
func Select(ctx context.Context, prober Prober, identity hostinfo.Identity, candidates []Credential, timeout time.Duration, logger *slog.Logger) (Credential, bool) {
	for i, candidate := range candidates {
		result := prober.Probe(ctx, identity, candidate, timeout)
		logger.Info("credential probe finished",
			"index", i,
			"coordinator", candidate.Address,
			"result", result,
		)
		if result == Connected {
			return candidate, true
		}
	}
	return Credential{}, false
}
