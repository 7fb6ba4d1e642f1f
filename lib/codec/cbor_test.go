// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name     string `cbor:"name"`
	Checksum string `cbor:"checksum"`
	Count    int    `cbor:"count"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := sample{Name: "agent-0", Checksum: "abc123", Count: 4}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("identical inputs produced different bytes:\n%x\n%x", first, second)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	extended := map[string]any{
		"name":      "agent-0",
		"checksum":  "abc123",
		"count":     4,
		"new_field": "from a newer writer",
	}
	data, err := Marshal(extended)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got sample
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "agent-0" || got.Checksum != "abc123" || got.Count != 4 {
		t.Errorf("Unmarshal = %+v, want fields preserved", got)
	}
}
