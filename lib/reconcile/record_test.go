// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "reconcile-state.cbor")
	want := Record{
		AgentName:      "builder-0",
		Coordinator:    "https://anvil.example.com",
		ConfigChecksum: "9f2c",
		UpdatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := SaveRecord(path, want); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("mode = %v, want 0600", mode)
	}

	got, err := LoadRecord(path)
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if got.AgentName != want.AgentName || got.Coordinator != want.Coordinator ||
		got.ConfigChecksum != want.ConfigChecksum || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("LoadRecord = %+v, want %+v", got, want)
	}
}

func TestLoadRecordMissingFile(t *testing.T) {
	record, err := LoadRecord(filepath.Join(t.TempDir(), "absent.cbor"))
	if err != nil {
		t.Fatalf("LoadRecord on a missing file: %v", err)
	}
	if record != (Record{}) {
		t.Errorf("record = %+v, want the zero record", record)
	}
}
