// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// FileRenderError reports a failure to materialize rendered
// configuration on disk. The file is never left partially written: the
// write goes to a temporary path and only a fully synced file is
// renamed into place.
type FileRenderError struct {
	Path string
	Err  error
}

func (e *FileRenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", e.Path, e.Err)
}

func (e *FileRenderError) Unwrap() error { return e.Err }

// WriteFile atomically writes content to path with the given
// permission bits, owned by the named system user. The temporary file
// is created in the target directory, synced, chmodded, chowned, and
// renamed into place, so a reader at path never observes a partial
// write.
//
// Any I/O, permission, or unknown-owner failure returns a
// *FileRenderError carrying the cause. Retrying is the caller's
// business; this function performs exactly one attempt.
func WriteFile(path string, content []byte, mode os.FileMode, owner string) error {
	uid, gid, err := lookupOwner(owner)
	if err != nil {
		return &FileRenderError{Path: path, Err: err}
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &FileRenderError{Path: path, Err: err}
	}

	// Write, sync, close — in that order. On any failure, remove the
	// temporary file and report the first error.
	if _, err := file.Write(content); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}

	// O_CREATE honors the umask; the contract is exact permission bits.
	if err := os.Chmod(temporaryPath, mode); err != nil {
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}
	if err := os.Chown(temporaryPath, uid, gid); err != nil {
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return &FileRenderError{Path: path, Err: err}
	}
	return nil
}

// lookupOwner resolves a system user name to numeric uid/gid.
func lookupOwner(owner string) (int, int, error) {
	account, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("looking up owner %q: %w", owner, err)
	}
	uid, err := strconv.Atoi(account.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uid %q for %q: %w", account.Uid, owner, err)
	}
	gid, err := strconv.Atoi(account.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing gid %q for %q: %w", account.Gid, owner, err)
	}
	return uid, gid, nil
}
