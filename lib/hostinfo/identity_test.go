// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package hostinfo

import "testing"

func TestDeriveDefaults(t *testing.T) {
	identity := Derive(Overrides{})

	if identity.Name == "" {
		t.Error("derived Name is empty")
	}
	if identity.Executors <= 0 {
		t.Errorf("Executors = %d, want positive", identity.Executors)
	}
	if len(identity.Labels) == 0 {
		t.Error("derived Labels is empty")
	}
	for _, label := range identity.Labels {
		if label == "" {
			t.Error("derived label is empty")
		}
	}
}

func TestDeriveOverrides(t *testing.T) {
	identity := Derive(Overrides{
		Name:      "builder-3",
		Labels:    []string{"amd64", "docker", "nested-virt"},
		Executors: 12,
	})

	if identity.Name != "builder-3" {
		t.Errorf("Name = %q, want builder-3", identity.Name)
	}
	if identity.Executors != 12 {
		t.Errorf("Executors = %d, want 12", identity.Executors)
	}
	if len(identity.Labels) != 3 || identity.Labels[0] != "amd64" {
		t.Errorf("Labels = %v, want override order preserved", identity.Labels)
	}
}

func TestDeriveStripsDomainFromHostname(t *testing.T) {
	// Overridden names are taken verbatim; only derived hostnames are
	// stripped. This pins the override path.
	identity := Derive(Overrides{Name: "builder.internal.example"})
	if identity.Name != "builder.internal.example" {
		t.Errorf("Name = %q, want override verbatim", identity.Name)
	}
}

func TestDeriveIsStable(t *testing.T) {
	first := Derive(Overrides{})
	second := Derive(Overrides{})

	if first.Name != second.Name || first.Executors != second.Executors {
		t.Errorf("Derive not stable: %+v vs %+v", first, second)
	}
}
