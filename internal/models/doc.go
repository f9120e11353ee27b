// Package models defines the service-neutral entities read from the Web API.
//
//   - [Profile] : the signed-in user's account
//   - [Artist] : an artist the user follows
//   - [Track] : a track returned by a search
//
// Services convert provider JSON into these types; the formatter and TUI only consume them.
package models
