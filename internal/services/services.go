// package services defines interface Service for reading from music provider Web APIs
package services

import (
	"context"

	"github.com/desertthunder/spotauth/internal/models"
)

// Service is the read surface the CLI and TUI consume once a bearer token is available.
type Service interface {
	// UserProfile returns the signed-in user's account.
	UserProfile(ctx context.Context) (*models.Profile, error)

	// FollowedArtists returns up to limit artists the user follows.
	FollowedArtists(ctx context.Context, limit int) ([]models.Artist, error)

	// SearchTracks returns up to limit tracks matching query.
	SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error)

	// Name returns the name of the service (e.g., "Spotify")
	Name() string
}
