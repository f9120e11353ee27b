package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/spotauth/internal/formatter"
	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// allArtists is implemented by services that can walk the whole followed-artists cursor.
type allArtists interface {
	AllFollowedArtists(ctx context.Context) ([]models.Artist, error)
}

// Me shows the signed-in user's profile, optionally saving the avatar.
func (r *Runner) Me(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	var profile *models.Profile
	if err := r.withService(ctx, func(svc services.Service) (err error) {
		profile, err = svc.UserProfile(ctx)
		return err
	}); err != nil {
		return err
	}

	if path := cmd.String("avatar"); path != "" {
		if err := r.saveAvatar(ctx, profile, path); err != nil {
			return err
		}
	}

	if format == formatter.FormatJSON {
		return r.writeJSON(profile, true)
	}
	out, err := formatter.Profile(profile, format)
	if err != nil {
		return err
	}
	return r.writeBytes(out)
}

func (r *Runner) saveAvatar(ctx context.Context, profile *models.Profile, path string) error {
	if profile.ImageURL == "" || profile.ImageURL == models.PlaceholderImage {
		r.logger.Warn("profile has no image, skipping avatar download")
		return nil
	}

	data, err := formatter.DownloadImage(ctx, r.httpClient, profile.ImageURL)
	if err != nil {
		return err
	}

	expanded, err := shared.ExpandHome(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create avatar directory: %w", err)
	}
	if err := os.WriteFile(expanded, data, 0644); err != nil {
		return fmt.Errorf("failed to write avatar: %w", err)
	}

	r.logger.Info("avatar saved", "path", expanded, "bytes", len(data))
	return nil
}

// Artists lists followed artists.
func (r *Runner) Artists(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	limit := cmd.Int("limit")
	all := cmd.Bool("all")

	var artists []models.Artist
	if err := r.withService(ctx, func(svc services.Service) (err error) {
		if pager, ok := svc.(allArtists); ok && all {
			artists, err = pager.AllFollowedArtists(ctx)
			return err
		}
		artists, err = svc.FollowedArtists(ctx, limit)
		return err
	}); err != nil {
		return err
	}

	r.logger.Debug("fetched followed artists", "count", len(artists))

	if format == formatter.FormatJSON {
		return r.writeJSON(artists, true)
	}
	out, err := formatter.Artists(artists, format)
	if err != nil {
		return err
	}
	return r.writeBytes(out)
}

// Search looks up tracks matching the query argument.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	limit := cmd.Int("limit")

	var tracks []models.Track
	if err := r.withService(ctx, func(svc services.Service) (err error) {
		tracks, err = svc.SearchTracks(ctx, query, limit)
		return err
	}); err != nil {
		return err
	}

	r.logger.Debug("search complete", "query", query, "count", len(tracks))

	if format == formatter.FormatJSON {
		return r.writeJSON(tracks, true)
	}
	out, err := formatter.Tracks(tracks, format)
	if err != nil {
		return err
	}
	return r.writeBytes(out)
}

// service returns an API client for the cached token, running the login flow when there is none.
func (r *Runner) service(ctx context.Context) (services.Service, error) {
	controller, err := r.Controller(ctx)
	if err != nil {
		return nil, err
	}

	token, err := controller.Token(ctx)
	if errors.Is(err, shared.ErrNotAuthenticated) || errors.Is(err, shared.ErrTokenExpired) {
		if errors.Is(err, shared.ErrTokenExpired) {
			r.writePlain("%s\n", ui.Warn("⚠ Authentication token expired. Starting reauthorization..."))
		}
		token, err = r.login(ctx)
	}
	if err != nil {
		return nil, err
	}

	return r.newService(token)
}

// withService calls fn with an API client. When the API rejects the token, fn is retried once
// after reauthorization.
func (r *Runner) withService(ctx context.Context, fn func(services.Service) error) error {
	svc, err := r.service(ctx)
	if err != nil {
		return err
	}

	err = fn(svc)
	if reauthed, authErr := r.handleSpotifyAuthError(ctx, err); reauthed {
		if authErr != nil {
			return authErr
		}
		if svc, err = r.service(ctx); err != nil {
			return err
		}
		return fn(svc)
	}
	return err
}

// handleSpotifyAuthError checks if an error means the token was rejected and, if so, invalidates the
// cache and reauthorizes. The first return reports whether reauthorization was attempted.
func (r *Runner) handleSpotifyAuthError(ctx context.Context, err error) (bool, error) {
	if err == nil || !services.IsAuthError(err) {
		return false, nil
	}

	r.writePlainln("%s", ui.Warn("⚠ Spotify rejected the access token. Starting reauthorization..."))

	controller, cerr := r.Controller(ctx)
	if cerr != nil {
		return true, cerr
	}
	if ierr := controller.Invalidate(ctx); ierr != nil {
		return true, fmt.Errorf("failed to invalidate token: %w", ierr)
	}
	if _, lerr := r.login(ctx); lerr != nil {
		return true, fmt.Errorf("reauthorization failed: %w", lerr)
	}

	r.writePlain("%s\n", ui.OK("✓ Successfully reauthenticated. Retrying operation..."))
	return true, nil
}
