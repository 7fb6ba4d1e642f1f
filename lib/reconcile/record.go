// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anvil-foundation/anvil-agent/lib/codec"
)

// Record is the reconciler's memory of its last successful pass,
// persisted across controller restarts so an unchanged credential does
// not trigger a service restart after the daemon itself restarts.
//
// The record never holds the secret: the credential is identified by
// the checksum of the rendered override it produced.
type Record struct {
	// AgentName is the identity the credential was selected for.
	AgentName string `cbor:"agent_name"`

	// Coordinator is the coordinator URL of the bound credential.
	Coordinator string `cbor:"coordinator"`

	// ConfigChecksum is the BLAKE3 checksum of the rendered override.
	ConfigChecksum string `cbor:"config_checksum"`

	// UpdatedAt is when the pass that wrote this record completed.
	UpdatedAt time.Time `cbor:"updated_at"`
}

// LoadRecord reads the state record at path. A missing file yields the
// zero record: the conservative answer, since a zero checksum never
// matches and the next pass reconfigures.
func LoadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading state record: %w", err)
	}

	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decoding state record %s: %w", path, err)
	}
	return record, nil
}

// SaveRecord atomically writes the state record: temporary file in the
// same directory, fsync, rename. The record contains no secret
// material but is still controller-internal, hence mode 0600.
func SaveRecord(path string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing state record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing state record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing state record: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state record into place: %w", err)
	}
	return nil
}
