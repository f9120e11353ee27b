package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/spotauth/internal/pkce"
	"github.com/desertthunder/spotauth/internal/shared"
	"golang.org/x/oauth2"
)

// State is one of the three observable flow states.
type State int

const (
	Unauthenticated State = iota
	CodeReceived
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case CodeReceived:
		return "code_received"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config is the static client registration and tuning for a [Controller].
type Config struct {
	ClientID        string
	RedirectURI     string
	Scopes          []string
	AuthURL         string
	TokenURL        string
	VerifierLength  int
	UseState        bool
	ExchangeTimeout time.Duration
}

// FromConfig maps the file configuration onto a [Config].
func FromConfig(c *shared.Config) Config {
	return Config{
		ClientID:        c.Spotify.ClientID,
		RedirectURI:     c.Spotify.RedirectURI,
		Scopes:          c.Spotify.Scopes,
		AuthURL:         c.Spotify.AuthURL,
		TokenURL:        c.Spotify.TokenURL,
		VerifierLength:  c.Auth.VerifierLength,
		UseState:        c.Auth.UseState,
		ExchangeTimeout: c.Auth.ExchangeTimeoutDuration(),
	}
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.ClientID) == "":
		return fmt.Errorf("%w: client id is required", shared.ErrInvalidConfig)
	case c.RedirectURI == "":
		return fmt.Errorf("%w: redirect URI is required", shared.ErrInvalidConfig)
	case c.AuthURL == "" || c.TokenURL == "":
		return fmt.Errorf("%w: authorization and token endpoints are required", shared.ErrInvalidConfig)
	case c.VerifierLength < pkce.MinLength || c.VerifierLength > pkce.MaxLength:
		return fmt.Errorf("%w: verifier length %d outside [%d, %d]",
			shared.ErrInvalidConfig, c.VerifierLength, pkce.MinLength, pkce.MaxLength)
	}
	return nil
}

func (c Config) oauth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURI,
		Scopes:      c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Token is a cached bearer token with its absolute expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token is usable at now. A token is valid up to and including its expiry
// millisecond.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.UnixMilli() <= t.ExpiresAt.UnixMilli()
}

// OAuth2 converts the token for use with [oauth2.StaticTokenSource].
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}
}

// Result is the outcome of [Controller.Resolve].
type Result struct {
	State       State
	RedirectURL string // set when State is Unauthenticated
	Token       *Token // set when State is Authenticated
	Exchanged   bool   // the token was obtained by a code exchange during this call
	Expired     bool   // a cached token was found expired and the flow was reset
}
