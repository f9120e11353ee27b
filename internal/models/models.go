package models

import "strings"

// PlaceholderImage is shown when an item has no artwork.
const PlaceholderImage = "https://via.placeholder.com/150"

// Profile is the current user's account.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country,omitempty"`
	Product     string `json:"product,omitempty"`
	Followers   int    `json:"followers"`
	URI         string `json:"uri"`
	URL         string `json:"url"`  // public profile page
	Href        string `json:"href"` // API resource
	ImageURL    string `json:"image_url,omitempty"`
}

// Artist is a followed artist.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	Followers  int      `json:"followers"`
	Popularity int      `json:"popularity"`
	URL        string   `json:"url"`
	ImageURL   string   `json:"image_url,omitempty"`
}

// Track is a search result.
type Track struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album"`
	Duration int      `json:"duration"` // seconds
	Explicit bool     `json:"explicit"`
	URL      string   `json:"url"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ArtistNames joins the track's artists with ", ".
func (t Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// EmbedURL is the embeddable player URL for the track.
func (t Track) EmbedURL() string {
	return "https://open.spotify.com/embed/track/" + t.ID
}

// Image returns url, or [PlaceholderImage] when it is empty.
func Image(url string) string {
	if url == "" {
		return PlaceholderImage
	}
	return url
}
