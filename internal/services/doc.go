// Package services defines the [Service] interface for music provider Web APIs and implements it for Spotify.
//
// # Spotify Implementation
//
// [SpotifyService] is built from an already obtained [auth.Token]. Requests go through an [oauth2.StaticTokenSource]
// client, so every call carries "Authorization: Bearer". No refresh is attempted: the flow issues no refresh token.
//
// Calls are paced by a [rate.Limiter] and bounded by a per-request timeout.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrTokenInvalid] : HTTP 401, the cached token must be invalidated and the flow restarted
//   - [shared.ErrAPIRequest] : any other non-2xx response, see [APIError]
//   - [shared.ErrInvalidInput] : empty search query
//
// # API Mappings
//
// Provider JSON ([SpotifyUser], [SpotifyArtist], [SpotifyTrack]) is converted to [models.Profile], [models.Artist]
// and [models.Track]. The first image of each item is kept.
package services
