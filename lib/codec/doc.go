// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the repository's standard CBOR encoding: Core
// Deterministic Encoding (RFC 8949 §4.2) on the way out, lenient
// decoding on the way in. Deterministic output means the same logical
// state record always produces identical bytes, so rewrites of an
// unchanged record are no-ops at the file level.
package codec
