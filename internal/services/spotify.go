// Spotify Web API implementation of [Service]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/auth"
	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.spotify.com/v1"
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 5 // requests per second
	DefaultLimit     = 20
	MaxLimit         = 50
)

type followers struct {
	Total int `json:"total"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email"`
	Country      string         `json:"country"`
	Product      string         `json:"product"` // premium, free, etc.
	Followers    followers      `json:"followers"`
	Images       []SpotifyImage `json:"images"`
	URI          string         `json:"uri"`
	Href         string         `json:"href"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Genres       []string       `json:"genres"`
	Followers    followers      `json:"followers"`
	Popularity   int            `json:"popularity"`
	Images       []SpotifyImage `json:"images"`
	URI          string         `json:"uri"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	URI          string          `json:"uri"`
	ExternalURLs externalURLs    `json:"external_urls"`
}

type cursors struct {
	After string `json:"after"`
}

// followedArtistsResponse is the cursor-paginated body of GET /me/following.
type followedArtistsResponse struct {
	Artists struct {
		Items   []SpotifyArtist `json:"items"`
		Next    *string         `json:"next"`
		Total   int             `json:"total"`
		Cursors cursors         `json:"cursors"`
	} `json:"artists"`
}

// searchResponse is the body of GET /search?type=track.
type searchResponse struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
		Total int            `json:"total"`
	} `json:"tracks"`
}

// APIError is a non-2xx Web API response other than 401.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

func (e *APIError) Is(target error) bool { return target == shared.ErrAPIRequest }

// SpotifyService implements [Service] against the Spotify Web API with a fixed bearer token.
type SpotifyService struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// Option configures a [SpotifyService].
type Option func(*spotifyOptions)

type spotifyOptions struct {
	baseURL   string
	timeout   time.Duration
	rateLimit float64
	transport http.RoundTripper
	logger    *log.Logger
}

// WithBaseURL sets the API root, without a trailing slash.
func WithBaseURL(baseURL string) Option {
	return func(o *spotifyOptions) { o.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTimeout sets the per-request deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(o *spotifyOptions) { o.timeout = timeout }
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(o *spotifyOptions) { o.rateLimit = requestsPerSecond }
}

// WithTransport sets the base transport under the bearer token transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *spotifyOptions) { o.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *spotifyOptions) { o.logger = logger }
}

// FromConfig maps the [shared.APIConfig] section and API root onto options.
func FromConfig(c *shared.Config) []Option {
	opts := []Option{WithTimeout(c.API.TimeoutDuration())}
	if c.Spotify.APIURL != "" {
		opts = append(opts, WithBaseURL(c.Spotify.APIURL))
	}
	if c.API.RateLimit > 0 {
		opts = append(opts, WithRateLimit(c.API.RateLimit))
	}
	return opts
}

// NewSpotifyService creates a service that authenticates every request with token.
func NewSpotifyService(token *auth.Token, opts ...Option) (*SpotifyService, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: an access token is required", shared.ErrNotAuthenticated)
	}

	o := spotifyOptions{
		baseURL:   DefaultBaseURL,
		timeout:   DefaultTimeout,
		rateLimit: DefaultRateLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = shared.NewLogger(io.Discard)
	}

	ctx := context.Background()
	if o.transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: o.transport})
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token.OAuth2()))
	client.Timeout = o.timeout

	burst := int(o.rateLimit)
	if burst < 1 {
		burst = 1
	}

	return &SpotifyService{
		baseURL:    o.baseURL,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(o.rateLimit), burst),
		logger:     o.logger,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// get performs a rate-limited GET request and decodes the JSON body into result.
func (s *SpotifyService) get(ctx context.Context, endpoint string, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	path, _, _ := strings.Cut(endpoint, "?")
	s.logger.Debug("spotify API request", "endpoint", path)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", shared.ErrAPIRequest, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned 401", shared.ErrTokenInvalid, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newAPIError(resp, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", shared.ErrAPIRequest, path, err)
	}
	return nil
}

func newAPIError(resp *http.Response, endpoint string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := strings.TrimSpace(string(body))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	e := &APIError{StatusCode: resp.StatusCode, Message: message, Endpoint: endpoint}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func clamp(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*models.Profile, error) {
	var user SpotifyUser
	if err := s.get(ctx, "/me", &user); err != nil {
		return nil, err
	}
	p := user.toModel()
	return &p, nil
}

// FollowedArtists retrieves one page of the user's followed artists. limit is clamped to 1..50 with 20 as default.
func (s *SpotifyService) FollowedArtists(ctx context.Context, limit int) ([]models.Artist, error) {
	page, err := s.followedArtistsPage(ctx, clamp(limit), "")
	if err != nil {
		return nil, err
	}
	return artistsToModels(page.Artists.Items), nil
}

// AllFollowedArtists follows the "after" cursor until every followed artist is retrieved.
func (s *SpotifyService) AllFollowedArtists(ctx context.Context) ([]models.Artist, error) {
	var all []models.Artist
	after := ""
	for {
		page, err := s.followedArtistsPage(ctx, MaxLimit, after)
		if err != nil {
			return nil, err
		}
		all = append(all, artistsToModels(page.Artists.Items)...)

		if page.Artists.Next == nil || page.Artists.Cursors.After == "" {
			return all, nil
		}
		after = page.Artists.Cursors.After
	}
}

func (s *SpotifyService) followedArtistsPage(ctx context.Context, limit int, after string) (*followedArtistsResponse, error) {
	q := url.Values{"type": {"artist"}, "limit": {strconv.Itoa(limit)}}
	if after != "" {
		q.Set("after", after)
	}

	var resp followedArtistsResponse
	if err := s.get(ctx, "/me/following?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchTracks searches the catalogue for tracks matching query. limit is clamped to 1..50 with 20 as default.
func (s *SpotifyService) SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is empty", shared.ErrInvalidInput)
	}

	q := url.Values{"q": {query}, "type": {"track"}, "limit": {strconv.Itoa(clamp(limit))}}

	var resp searchResponse
	if err := s.get(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(resp.Tracks.Items))
	for _, t := range resp.Tracks.Items {
		tracks = append(tracks, t.toModel())
	}
	return tracks, nil
}

// IsAuthError reports whether err means the bearer token can no longer be used.
func IsAuthError(err error) bool {
	return errors.Is(err, shared.ErrTokenInvalid) || errors.Is(err, shared.ErrTokenExpired)
}

func firstImage(images []SpotifyImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func (u SpotifyUser) toModel() models.Profile {
	return models.Profile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Country:     u.Country,
		Product:     u.Product,
		Followers:   u.Followers.Total,
		URI:         u.URI,
		URL:         u.ExternalURLs.Spotify,
		Href:        u.Href,
		ImageURL:    firstImage(u.Images),
	}
}

func (a SpotifyArtist) toModel() models.Artist {
	return models.Artist{
		ID:         a.ID,
		Name:       a.Name,
		Genres:     a.Genres,
		Followers:  a.Followers.Total,
		Popularity: a.Popularity,
		URL:        a.ExternalURLs.Spotify,
		ImageURL:   firstImage(a.Images),
	}
}

func artistsToModels(items []SpotifyArtist) []models.Artist {
	artists := make([]models.Artist, 0, len(items))
	for _, a := range items {
		artists = append(artists, a.toModel())
	}
	return artists
}

func (t SpotifyTrack) toModel() models.Track {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}

	u := t.ExternalURLs.Spotify
	if u == "" && t.ID != "" {
		u = "https://open.spotify.com/track/" + t.ID
	}

	return models.Track{
		ID:       t.ID,
		Title:    t.Name,
		Artists:  names,
		Album:    t.Album.Name,
		Duration: t.DurationMS / 1000,
		Explicit: t.Explicit,
		URL:      u,
		ImageURL: firstImage(t.Album.Images),
	}
}
