// Package repositories implements SQLite persistence for the sync engine.
//
// Key Implementations:
//   - [UserRepository] : Registry of users with enabled flag and last-run status
//   - [LogRepository] : Append-only play log, optionally committing a row and its dedupe key in one transaction
//   - [LedgerRepository] : Recorded dedupe keys, pruned to a recent window
//   - [CacheRepository] : Track, artist and album descriptors stored as snappy-compressed JSON
//   - [StateRepository] : Watermark, last error and the run marker used to detect concurrent runs
//
// Instants owned by the engine (played-at, fetched-at, watermarks) are stored as unix milliseconds.
// User timestamps use SQLite TIMESTAMP columns, and users are soft deleted via deleted_at.
package repositories
