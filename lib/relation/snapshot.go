// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package relation reads the coordinator relation snapshot — the
// boundary file through which the surrounding event layer hands the
// controller its inputs. The snapshot carries the coordinator URL and
// the per-agent registration secrets the coordinator has published so
// far.
//
// The file is JSONC (JSON extended with comments and trailing commas):
// the coordinator integration writes plain JSON, and operators
// hand-edit annotated snapshots in development.
package relation

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/anvil-foundation/anvil-agent/lib/credential"
)

// Snapshot is the relation data for one reconciliation pass. Read
// fresh from disk per pass; the controller never caches it.
type Snapshot struct {
	// HasRelation is false until the agent has been related to a
	// coordinator at all.
	HasRelation bool `json:"has_relation"`

	// URL is the coordinator address. May be empty while the relation
	// converges.
	URL string `json:"url"`

	// Secrets maps agent name to registration secret. The coordinator
	// publishes entries one agent at a time, so secrets for other
	// agents routinely appear here.
	Secrets map[string]string `json:"secrets"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the snapshot.
func Parse(data []byte) (*Snapshot, error) {
	stripped := jsonc.ToJSON(data)

	var snapshot Snapshot
	if err := json.Unmarshal(stripped, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing relation snapshot: %w", err)
	}
	return &snapshot, nil
}

// Load reads the snapshot file at path. A missing file is a valid
// "no relation yet" state, not an error.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	snapshot, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snapshot, nil
}

// Candidates builds the ordered candidate list for the named agent:
// the secret published under the agent's own name first, then the
// remaining secrets in sorted name order. The tail entries are
// expected to fail probing — they exist because the coordinator may
// have keyed this agent's secret under a stale name after a rename.
//
// Returns nil when the snapshot has no URL or no secrets, which the
// reconciler reports as incomplete relation data.
func (s *Snapshot) Candidates(agentName string) []credential.Credential {
	if s.URL == "" || len(s.Secrets) == 0 {
		return nil
	}

	var candidates []credential.Credential
	if secret, ok := s.Secrets[agentName]; ok {
		candidates = append(candidates, credential.Credential{Address: s.URL, Secret: secret})
	}

	names := make([]string, 0, len(s.Secrets))
	for name := range s.Secrets {
		if name != agentName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		candidates = append(candidates, credential.Credential{Address: s.URL, Secret: s.Secrets[name]})
	}
	return candidates
}
