// Package ir provides the canonical trace representation for timeline runs.
//
// This package contains type definitions and their canonical encoding only.
// All other internal packages may import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in trace values: times are integer microseconds
//   - Ordering comes from Seq, never from comparing timestamps
//   - All JSON tags use snake_case
//   - Canonical JSON (sorted keys, NFC strings) is the only encoding used
//     for digests and golden files
package ir
