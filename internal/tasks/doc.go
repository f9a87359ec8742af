// Package tasks implements the per-user sync engine with real-time progress reporting.
//
// # Core Operations
//
//  1. [Engine.SyncUser] : one run for one user
//     - Computes the window from the stored watermark minus the lookback overlap
//     - Drains the [Fetcher] up to the page cap before committing anything
//     - Resolves track, artist and album metadata through the [MetadataCache]
//     - Skips plays already in the [Ledger], appends the rest, records their keys
//     - Saves the advanced watermark last
//
//  2. [Engine.SyncAll] : every enabled user through a bounded worker pool
//
//  3. [Engine.Backfill] : warms the metadata cache from recent log rows
//
// # Crash Consistency
//
// A row is appended before its dedupe key is recorded and the state is saved
// after both. A crash between append and record costs at most one duplicate row
// on the next run; the watermark never passes a play whose key is unrecorded.
// Log stores implementing [AtomicCommitter] close that gap entirely.
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate]. Sends never block:
// updates are dropped when the channel is full.
//
// # Storage
//
// The engine keeps no storage of its own. Each call receives [Stores], so tests
// use in-memory fakes and the CLI binds [SQLiteStores].
package tasks
