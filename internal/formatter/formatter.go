// package formatter renders profiles, artists and tracks as plain text, Markdown or CSV
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/desertthunder/spotauth/internal/models"
	"github.com/desertthunder/spotauth/internal/shared"
)

// Format names an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// Formats lists every accepted format name.
var Formats = []Format{FormatText, FormatMarkdown, FormatCSV, FormatJSON}

// ParseFormat accepts a format name, case-insensitively. "md" is an alias for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	case FormatMarkdown, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want text, markdown, csv or json)", shared.ErrInvalidFlag, s)
	}
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Profile renders p in f. JSON is left to the caller.
func Profile(p *models.Profile, f Format) ([]byte, error) {
	switch f {
	case FormatText:
		return ProfileToText(p), nil
	case FormatMarkdown:
		return ProfileToMarkdown(p), nil
	case FormatCSV:
		return toCSV(
			[]string{"ID", "Name", "Email", "Country", "Product", "Followers", "URI", "URL", "Image"},
			[][]string{{p.ID, p.DisplayName, p.Email, p.Country, p.Product, strconv.Itoa(p.Followers), p.URI, p.URL, models.Image(p.ImageURL)}},
		)
	default:
		return nil, unsupported(f)
	}
}

// Artists renders artists in f. JSON is left to the caller.
func Artists(artists []models.Artist, f Format) ([]byte, error) {
	switch f {
	case FormatText:
		return ArtistsToText(artists), nil
	case FormatMarkdown:
		return ArtistsToMarkdown(artists), nil
	case FormatCSV:
		rows := make([][]string, 0, len(artists))
		for _, a := range artists {
			rows = append(rows, []string{
				a.ID, a.Name, strings.Join(a.Genres, ";"), strconv.Itoa(a.Followers), strconv.Itoa(a.Popularity), a.URL, models.Image(a.ImageURL),
			})
		}
		return toCSV([]string{"ID", "Name", "Genres", "Followers", "Popularity", "URL", "Image"}, rows)
	default:
		return nil, unsupported(f)
	}
}

// Tracks renders tracks in f. JSON is left to the caller.
func Tracks(tracks []models.Track, f Format) ([]byte, error) {
	switch f {
	case FormatText:
		return TracksToText(tracks), nil
	case FormatMarkdown:
		return TracksToMarkdown(tracks), nil
	case FormatCSV:
		rows := make([][]string, 0, len(tracks))
		for _, t := range tracks {
			rows = append(rows, []string{
				t.ID, t.Title, t.ArtistNames(), t.Album, strconv.Itoa(t.Duration), strconv.FormatBool(t.Explicit), t.URL, models.Image(t.ImageURL),
			})
		}
		return toCSV([]string{"ID", "Title", "Artists", "Album", "Duration", "Explicit", "URL", "Image"}, rows)
	default:
		return nil, unsupported(f)
	}
}

// ProfileToText renders the profile as labelled lines.
func ProfileToText(p *models.Profile) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Name: %s\n", p.DisplayName)
	fmt.Fprintf(&buf, "ID: %s\n", p.ID)
	fmt.Fprintf(&buf, "Email: %s\n", p.Email)
	if p.Country != "" {
		fmt.Fprintf(&buf, "Country: %s\n", p.Country)
	}
	if p.Product != "" {
		fmt.Fprintf(&buf, "Plan: %s\n", p.Product)
	}
	fmt.Fprintf(&buf, "Followers: %d\n", p.Followers)
	fmt.Fprintf(&buf, "URI: %s\n", p.URI)
	if p.URL != "" {
		fmt.Fprintf(&buf, "Profile: %s\n", p.URL)
	}
	if p.Href != "" {
		fmt.Fprintf(&buf, "API: %s\n", p.Href)
	}
	fmt.Fprintf(&buf, "Image: %s\n", models.Image(p.ImageURL))
	return buf.Bytes()
}

// ProfileToMarkdown renders the profile with its avatar.
func ProfileToMarkdown(p *models.Profile) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", p.DisplayName)
	fmt.Fprintf(&buf, "![Avatar](%s)\n\n", models.Image(p.ImageURL))
	fmt.Fprintf(&buf, "- **ID**: %s\n", p.ID)
	fmt.Fprintf(&buf, "- **Email**: %s\n", p.Email)
	fmt.Fprintf(&buf, "- **Followers**: %d\n", p.Followers)
	if p.URL != "" {
		fmt.Fprintf(&buf, "- **Profile**: [%s](%s)\n", p.URI, p.URL)
	} else {
		fmt.Fprintf(&buf, "- **URI**: %s\n", p.URI)
	}
	return buf.Bytes()
}

// ArtistsToText renders one numbered entry per artist.
func ArtistsToText(artists []models.Artist) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Followed artists: %d\n\n", len(artists))
	for i, a := range artists {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, a.Name)
		if len(a.Genres) > 0 {
			fmt.Fprintf(&buf, "   Genres: %s\n", strings.Join(a.Genres, ", "))
		}
		if a.URL != "" {
			fmt.Fprintf(&buf, "   URL: %s\n", a.URL)
		}
	}
	return buf.Bytes()
}

// ArtistsToMarkdown renders a table with one row per artist.
func ArtistsToMarkdown(artists []models.Artist) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Followed Artists\n\n")
	buf.WriteString("| | Name | Genres | Followers |\n")
	buf.WriteString("|---|---|---|---|\n")
	for _, a := range artists {
		name := escapeCell(a.Name)
		if a.URL != "" {
			name = fmt.Sprintf("[%s](%s)", name, a.URL)
		}
		fmt.Fprintf(&buf, "| ![%s](%s) | %s | %s | %d |\n",
			escapeCell(a.Name), models.Image(a.ImageURL), name, escapeCell(strings.Join(a.Genres, ", ")), a.Followers)
	}
	return buf.Bytes()
}

// TracksToText renders one numbered "artists - title" line per track.
func TracksToText(tracks []models.Track) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(tracks))
	for i, t := range tracks {
		fmt.Fprintf(&buf, "%d. %s - %s [%s]\n", i+1, t.ArtistNames(), t.Title, FormatDuration(t.Duration))
		if t.Album != "" {
			fmt.Fprintf(&buf, "   Album: %s\n", t.Album)
		}
	}
	return buf.Bytes()
}

// TracksToMarkdown renders a numbered list with embed player links.
func TracksToMarkdown(tracks []models.Track) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Tracks\n\n")
	for i, t := range tracks {
		albumPart := ""
		if t.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", t.Album)
		}
		fmt.Fprintf(&buf, "%d. [%s](%s) - %s%s [%s]\n", i+1, t.Title, t.EmbedURL(), t.ArtistNames(), albumPart, FormatDuration(t.Duration))
	}
	return buf.Bytes()
}

// DownloadImage fetches url with client and returns the raw bytes.
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty image URL", shared.ErrInvalidInput)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

func toCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func unsupported(f Format) error {
	return fmt.Errorf("%w: format %q is not rendered by the formatter", shared.ErrInvalidFlag, f)
}
