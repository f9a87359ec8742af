// Package services defines the external collaborators of a sync run and implements them for Spotify.
//
// # Interfaces
//
// [HistorySource] pages through a user's play history for a time window, and
// [MetadataSource] resolves track, artist and album descriptors. [Source]
// combines both and is what the sync engine receives for each user.
//
// # Spotify Implementation
//
// [SpotifyService] authorizes with the user's refresh token through an
// [oauth2] token source that refreshes access tokens automatically. Requests
// are paced with a [rate.Limiter] and responses decoded with goccy/go-json.
//
// # Error Handling
//
// Responses are mapped onto the shared sync taxonomy:
//   - 401/403 or a rejected refresh : [shared.ErrAuthFailure]
//   - 429 : [shared.RateLimitError] carrying Retry-After
//   - 5xx, network errors and undecodable bodies : [shared.ErrTransientIO]
//   - 404 : [shared.ErrNotFound]
//   - other 4xx : [shared.ErrAPIRequest]
//
// Retrying is left to the caller.
//
// # Circuit Breaker
//
// [CircuitBreaker] wraps a [Source] with sony/gobreaker. Open-circuit
// rejections surface as [shared.ErrServiceUnavailable].
package services
