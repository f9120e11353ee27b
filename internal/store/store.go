// Package store persists the authorization flow's state between process runs.
//
// A [TokenStore] is a plain key/value surface. The flow uses four keys ([KeyVerifier], [KeyState],
// [KeyAccessToken], [KeyTokenExpiresAt]) and never relies on atomicity across them: readers must
// tolerate a token without an expiry, or the reverse, and treat it as absent.
//
// Backends: [MemoryStore] for tests, [FileStore] (default), [SQLiteStore] and [RedisStore].
package store

import (
	"context"
	"io"
)

const (
	KeyVerifier       = "verifier"
	KeyState          = "state"
	KeyAccessToken    = "access_token"
	KeyTokenExpiresAt = "token_expires_at"
)

// Keys lists every key the authorization flow writes.
var Keys = []string{KeyVerifier, KeyState, KeyAccessToken, KeyTokenExpiresAt}

// TokenStore is a durable key/value surface.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, bool, error) // Get returns the value and whether it was present
	Set(ctx context.Context, key, value string) error          // Set overwrites; last write wins
	Delete(ctx context.Context, key string) error              // Delete is a no-op for missing keys
	io.Closer
}

// Event is one recorded flow transition.
type Event struct {
	ID        string
	Kind      string
	Detail    string
	CreatedAt string
}

// EventRecorder is implemented by stores that keep an audit trail of flow transitions.
type EventRecorder interface {
	Record(ctx context.Context, kind, detail string) error
	Events(ctx context.Context, limit int) ([]Event, error)
}

// Clear deletes every key in keys, returning the first error after attempting all of them.
func Clear(ctx context.Context, s TokenStore, keys ...string) error {
	var first error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
