package shared

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Spotify  SpotifyConfig  `toml:"spotify"`
	Auth     AuthConfig     `toml:"auth"`
	Store    StoreConfig    `toml:"store"`
	Database DatabaseConfig `toml:"database"`
	API      APIConfig      `toml:"api"`
}

// SpotifyConfig contains the public client registration and endpoints.
type SpotifyConfig struct {
	ClientID    string   `toml:"client_id"`
	RedirectURI string   `toml:"redirect_uri"`
	Scopes      []string `toml:"scopes"`
	AuthURL     string   `toml:"auth_url"`
	TokenURL    string   `toml:"token_url"`
	APIURL      string   `toml:"api_url"`
}

// AuthConfig tunes the PKCE flow.
type AuthConfig struct {
	VerifierLength  int  `toml:"verifier_length"`
	UseState        bool `toml:"use_state"`
	ExchangeTimeout int  `toml:"exchange_timeout"` // seconds
	CallbackTimeout int  `toml:"callback_timeout"` // seconds
}

// StoreConfig selects and configures the token store backend.
type StoreConfig struct {
	Backend string      `toml:"backend"` // file, sqlite, redis, memory
	Path    string      `toml:"path"`
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig contains connection settings for the redis token store.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// APIConfig contains Web API client settings.
type APIConfig struct {
	RateLimit float64 `toml:"rate_limit"` // requests per second
	Timeout   int     `toml:"timeout"`    // seconds
}

// ExchangeTimeoutDuration returns the token exchange deadline.
func (a AuthConfig) ExchangeTimeoutDuration() time.Duration {
	return seconds(a.ExchangeTimeout, 10)
}

// CallbackTimeoutDuration returns how long the login command waits for the browser.
func (a AuthConfig) CallbackTimeoutDuration() time.Duration {
	return seconds(a.CallbackTimeout, 120)
}

// TimeoutDuration returns the per-request API deadline.
func (a APIConfig) TimeoutDuration() time.Duration {
	return seconds(a.Timeout, 15)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ResolveConfig loads the config at path when it exists, falling back to defaults, then applies
// the environment (including a .env file in the working directory).
func ResolveConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	_ = godotenv.Load()
	config.ApplyEnv(os.Getenv)
	return config, nil
}

// ApplyEnv overrides config values with environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		c.Spotify.RedirectURI = v
	}
	if v := getenv("SPOTAUTH_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := getenv("SPOTAUTH_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := getenv("SPOTAUTH_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := getenv("SPOTAUTH_VERIFIER_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.VerifierLength = n
		}
	}
}

// Validate reports the first problem that would prevent the authorization flow from running.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Spotify.ClientID) == "" {
		return fmt.Errorf("%w: spotify.client_id must be set (config.toml or SPOTIFY_CLIENT_ID)", ErrInvalidConfig)
	}

	for name, raw := range map[string]string{
		"spotify.redirect_uri": c.Spotify.RedirectURI,
		"spotify.auth_url":     c.Spotify.AuthURL,
		"spotify.token_url":    c.Spotify.TokenURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %s must be an absolute http(s) URL, got %q", ErrInvalidConfig, name, raw)
		}
	}

	if n := c.Auth.VerifierLength; n < MinVerifierLength || n > MaxVerifierLength {
		return fmt.Errorf("%w: auth.verifier_length must be between %d and %d, got %d",
			ErrInvalidConfig, MinVerifierLength, MaxVerifierLength, n)
	}

	switch c.Store.Backend {
	case "file", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}

	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading "~" in path with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
