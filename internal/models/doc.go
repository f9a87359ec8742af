// Package models defines domain entities and persistence interfaces for the spotlog play-history sync engine.
//
// The package contains two categories of types:
//
// 1. Value types produced and consumed by a sync run:
//   - [PlaybackEvent] : One played-track instance as returned by the history API
//   - [LogRow] : The five-field row appended to a user's play log
//   - [DedupeKey] : Stable identifier of an event, recorded once it is committed
//   - [Descriptor] / [CacheEntry] : Track, artist and album metadata with its fetch time
//   - [SyncState] : Per-user watermark and last error
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [User] : Registry entry for a user whose history is mirrored
//
// Persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
