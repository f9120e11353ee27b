package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/spotauth/internal/pkce"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
	tu "github.com/desertthunder/spotauth/internal/testing"
)

const epoch = int64(1_700_000_000_000)

type fixture struct {
	ctrl  *Controller
	store *store.MemoryStore
	doer  *tu.Doer
	now   time.Time

	mu   sync.Mutex
	form url.Values
}

// newFixture wires a controller to an in-memory store, a fixed clock and a stub token endpoint.
func newFixture(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{store: store.NewMemoryStore(), now: time.UnixMilli(epoch)}
	if handler == nil {
		handler = tokenHandler(http.StatusOK, `{"access_token":"T","token_type":"Bearer","expires_in":3600}`)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			f.mu.Lock()
			f.form = r.PostForm
			f.mu.Unlock()
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	f.doer = tu.NewDoer(srv.Client())

	config := Config{
		ClientID:        "client-123",
		RedirectURI:     "http://127.0.0.1:5173/callback",
		Scopes:          []string{"user-read-private", "user-read-email"},
		AuthURL:         "https://accounts.example.com/authorize",
		TokenURL:        srv.URL + "/api/token",
		VerifierLength:  pkce.DefaultLength,
		UseState:        true,
		ExchangeTimeout: 2 * time.Second,
	}
	for _, m := range mutate {
		m(&config)
	}

	ctrl, err := NewController(config, Options{
		Store:  f.store,
		Client: f.doer,
		Logger: shared.NewLogger(io.Discard),
		Clock:  func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func tokenHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fixture) get(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("store get %s: %v", key, err)
	}
	return v, ok
}

func (f *fixture) seedToken(t *testing.T, token string, expiresAt int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.Set(ctx, store.KeyAccessToken, token); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, store.KeyTokenExpiresAt, strconv.FormatInt(expiresAt, 10)); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

// startFlow runs a redirect and returns the state embedded in the authorization URL.
func (f *fixture) startFlow(t *testing.T) string {
	t.Helper()
	raw, err := f.ctrl.Redirect(context.Background())
	if err != nil {
		t.Fatalf("redirect failed: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid authorization URL: %v", err)
	}
	return u.Query().Get("state")
}

type failingStore struct {
	*store.MemoryStore
	failSet bool
	failGet bool
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failSet {
		return errors.New("disk full")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGet {
		return "", false, errors.New("connection reset")
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestNewController(t *testing.T) {
	valid := Config{
		ClientID:       "client-123",
		RedirectURI:    "http://127.0.0.1:5173/callback",
		AuthURL:        "https://accounts.example.com/authorize",
		TokenURL:       "https://accounts.example.com/api/token",
		VerifierLength: 64,
	}

	t.Run("Defaults", func(t *testing.T) {
		c, err := NewController(valid, Options{Store: store.NewMemoryStore()})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if c.client == nil || c.logger == nil || c.now == nil {
			t.Error("expected default collaborators to be filled in")
		}
		if c.config.ExchangeTimeout != 10*time.Second {
			t.Errorf("expected default exchange timeout, got %v", c.config.ExchangeTimeout)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Missing Client ID", func(c *Config) { c.ClientID = " " }},
		{"Missing Redirect URI", func(c *Config) { c.RedirectURI = "" }},
		{"Missing Token URL", func(c *Config) { c.TokenURL = "" }},
		{"Verifier Too Short", func(c *Config) { c.VerifierLength = 42 }},
		{"Verifier Too Long", func(c *Config) { c.VerifierLength = 129 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			_, err := NewController(config, Options{Store: store.NewMemoryStore()})
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	t.Run("Missing Store", func(t *testing.T) {
		if _, err := NewController(valid, Options{}); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestFromConfig(t *testing.T) {
	config := shared.DefaultConfig()
	config.Spotify.ClientID = "abc"

	c := FromConfig(config)
	if c.ClientID != "abc" || c.VerifierLength != 128 || !c.UseState {
		t.Errorf("unexpected mapping: %+v", c)
	}
	if c.ExchangeTimeout != 10*time.Second {
		t.Errorf("expected 10s exchange timeout, got %v", c.ExchangeTimeout)
	}
	if c.TokenURL != "https://accounts.spotify.com/api/token" {
		t.Errorf("unexpected token URL %q", c.TokenURL)
	}
}

func TestRedirect(t *testing.T) {
	t.Run("Builds Authorization URL", func(t *testing.T) {
		f := newFixture(t, nil)
		raw, err := f.ctrl.Redirect(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("invalid URL: %v", err)
		}
		if u.Host != "accounts.example.com" || u.Path != "/authorize" {
			t.Errorf("unexpected endpoint %s%s", u.Host, u.Path)
		}

		verifier, ok := f.get(t, store.KeyVerifier)
		if !ok {
			t.Fatal("expected verifier to be persisted")
		}
		if len(verifier) != pkce.DefaultLength {
			t.Errorf("expected verifier of length %d, got %d", pkce.DefaultLength, len(verifier))
		}

		state, _ := f.get(t, store.KeyState)
		q := u.Query()
		want := map[string]string{
			"response_type":         "code",
			"client_id":             "client-123",
			"redirect_uri":          "http://127.0.0.1:5173/callback",
			"scope":                 "user-read-private user-read-email",
			"code_challenge_method": "S256",
			"code_challenge":        pkce.DeriveChallenge(verifier),
			"state":                 state,
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("expected %s=%q, got %q", k, v, got)
			}
		}
		if q.Has("code_verifier") {
			t.Error("verifier must never appear in the authorization URL")
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected no network calls, got %d", f.doer.Calls())
		}
	})

	t.Run("Without State", func(t *testing.T) {
		f := newFixture(t, nil, func(c *Config) { c.UseState = false })
		if state := f.startFlow(t); state != "" {
			t.Errorf("expected no state parameter, got %q", state)
		}
		if _, ok := f.get(t, store.KeyState); ok {
			t.Error("expected no persisted state")
		}
	})

	t.Run("Each Redirect Replaces Verifier", func(t *testing.T) {
		f := newFixture(t, nil)
		f.startFlow(t)
		first, _ := f.get(t, store.KeyVerifier)
		f.startFlow(t)
		second, _ := f.get(t, store.KeyVerifier)
		if first == second {
			t.Error("expected a fresh verifier per redirect")
		}
	})

	t.Run("Store Failure Returns No URL", func(t *testing.T) {
		fs := &failingStore{MemoryStore: store.NewMemoryStore(), failSet: true}
		ctrl, err := NewController(Config{
			ClientID:       "client-123",
			RedirectURI:    "http://127.0.0.1:5173/callback",
			AuthURL:        "https://accounts.example.com/authorize",
			TokenURL:       "https://accounts.example.com/api/token",
			VerifierLength: 43,
		}, Options{Store: fs, Logger: shared.NewLogger(io.Discard)})
		if err != nil {
			t.Fatal(err)
		}

		u, err := ctrl.Redirect(context.Background())
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
		if u != "" {
			t.Errorf("expected no URL when the verifier could not be persisted, got %q", u)
		}
	})
}

func TestExchange(t *testing.T) {
	t.Run("Stores Token And Expiry", func(t *testing.T) {
		f := newFixture(t, nil)
		f.startFlow(t)
		verifier, _ := f.get(t, store.KeyVerifier)

		tok, err := f.ctrl.Exchange(context.Background(), "auth-code")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tok.AccessToken != "T" {
			t.Errorf("expected token T, got %q", tok.AccessToken)
		}

		if v, _ := f.get(t, store.KeyAccessToken); v != "T" {
			t.Errorf("expected stored token T, got %q", v)
		}
		want := strconv.FormatInt(epoch+3_600_000, 10)
		if v, _ := f.get(t, store.KeyTokenExpiresAt); v != want {
			t.Errorf("expected stored expiry %s, got %s", want, v)
		}
		if _, ok := f.get(t, store.KeyVerifier); ok {
			t.Error("expected verifier to be cleared after exchange")
		}
		if _, ok := f.get(t, store.KeyState); ok {
			t.Error("expected state to be cleared after exchange")
		}

		wantForm := map[string]string{
			"grant_type":    "authorization_code",
			"code":          "auth-code",
			"client_id":     "client-123",
			"redirect_uri":  "http://127.0.0.1:5173/callback",
			"code_verifier": verifier,
		}
		form := f.lastForm()
		for k, v := range wantForm {
			if got := form.Get(k); got != v {
				t.Errorf("expected form %s=%q, got %q", k, v, got)
			}
		}
		if form.Has("client_secret") || form.Has("state") {
			t.Error("token request must not carry a client secret or state")
		}
		if f.doer.Calls() != 1 {
			t.Errorf("expected exactly one token request, got %d", f.doer.Calls())
		}
	})

	t.Run("Missing Verifier", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ctrl.Exchange(context.Background(), "auth-code")
		if !errors.Is(err, shared.ErrFlowStateLost) {
			t.Errorf("expected ErrFlowStateLost, got %v", err)
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected no network calls, got %d", f.doer.Calls())
		}
		if IsRetryable(err) {
			t.Error("lost flow state is not retryable")
		}
	})

	t.Run("Rejected Grant", func(t *testing.T) {
		f := newFixture(t, tokenHandler(http.StatusBadRequest,
			`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
		f.startFlow(t)

		_, err := f.ctrl.Exchange(context.Background(), "bad-code")
		if !errors.Is(err, shared.ErrTokenEndpoint) {
			t.Fatalf("expected ErrTokenEndpoint, got %v", err)
		}

		var te *TokenEndpointError
		if !errors.As(err, &te) {
			t.Fatalf("expected *TokenEndpointError, got %T", err)
		}
		if te.StatusCode != http.StatusBadRequest || te.Code != "invalid_grant" {
			t.Errorf("unexpected error details: %+v", te)
		}
		if !strings.Contains(err.Error(), "Invalid authorization code") {
			t.Errorf("expected description in message, got %q", err.Error())
		}
		if IsRetryable(err) {
			t.Error("a rejected grant is not retryable")
		}
		if _, ok := f.get(t, store.KeyAccessToken); ok {
			t.Error("expected no token to be stored")
		}
		if _, ok := f.get(t, store.KeyVerifier); !ok {
			t.Error("expected verifier to survive a failed exchange")
		}
	})

	t.Run("Server Error Is Retryable", func(t *testing.T) {
		f := newFixture(t, tokenHandler(http.StatusServiceUnavailable, `upstream down`))
		f.startFlow(t)

		_, err := f.ctrl.Exchange(context.Background(), "auth-code")
		if !errors.Is(err, shared.ErrTokenEndpoint) {
			t.Fatalf("expected ErrTokenEndpoint, got %v", err)
		}
		if !IsRetryable(err) {
			t.Error("expected 503 to be retryable")
		}
	})

	defaultClient := []struct {
		name      string
		status    int
		body      string
		code      string
		retryable bool
	}{
		{"Default Client Surfaces 503", http.StatusServiceUnavailable, `{"error":"server_error"}`, "server_error", true},
		{"Default Client Surfaces Rejected Grant", http.StatusBadRequest, `{"error":"invalid_grant"}`, "invalid_grant", false},
	}
	for _, tt := range defaultClient {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = io.Copy(io.Discard, r.Body)
				tokenHandler(tt.status, tt.body)(w, r)
			}))
			defer srv.Close()

			s := store.NewMemoryStore()
			if err := s.Set(context.Background(), store.KeyVerifier, strings.Repeat("v", pkce.DefaultLength)); err != nil {
				t.Fatal(err)
			}
			ctrl, err := NewController(Config{
				ClientID:        "client-123",
				RedirectURI:     "http://127.0.0.1:5173/callback",
				AuthURL:         "https://accounts.example.com/authorize",
				TokenURL:        srv.URL + "/api/token",
				VerifierLength:  pkce.DefaultLength,
				ExchangeTimeout: 5 * time.Second,
			}, Options{Store: s, Logger: shared.NewLogger(io.Discard)})
			if err != nil {
				t.Fatalf("failed to create controller: %v", err)
			}

			start := time.Now()
			_, err = ctrl.Exchange(context.Background(), "auth-code")
			elapsed := time.Since(start)

			var te *TokenEndpointError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TokenEndpointError, got %v", err)
			}
			if te.StatusCode != tt.status || te.Code != tt.code {
				t.Errorf("expected status %d code %q, got %+v", tt.status, tt.code, te)
			}
			if errors.Is(err, shared.ErrTimeout) {
				t.Errorf("expected the status to surface, not a timeout: %v", err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("expected retryable=%v for %v", tt.retryable, err)
			}
			if n := hits.Load(); n != 1 {
				t.Errorf("expected the code to be sent once, server saw %d requests", n)
			}
			if elapsed > time.Second {
				t.Errorf("expected an immediate answer, took %s", elapsed)
			}
		})
	}

	malformed := []struct {
		name string
		body string
	}{
		{"Not JSON", `<html>oops</html>`},
		{"Missing Access Token", `{"expires_in":3600}`},
		{"Missing Expires In", `{"access_token":"T"}`},
		{"Negative Expires In", `{"access_token":"T","expires_in":-5}`},
		{"Zero Expires In", `{"access_token":"T","expires_in":0}`},
		{"Wrong Type", `{"access_token":"T","expires_in":"soon"}`},
		{"Not Bearer", `{"access_token":"T","token_type":"mac","expires_in":3600}`},
		{"Expires In Overflows", `{"access_token":"T","expires_in":9223372036854775807}`},
		{"Expires In Past Max Time", `{"access_token":"T","expires_in":9223372036854775}`},
	}
	for _, tt := range malformed {
		t.Run("Malformed "+tt.name, func(t *testing.T) {
			f := newFixture(t, tokenHandler(http.StatusOK, tt.body))
			f.startFlow(t)

			_, err := f.ctrl.Exchange(context.Background(), "auth-code")
			if !errors.Is(err, shared.ErrMalformedTokenResponse) {
				t.Errorf("expected ErrMalformedTokenResponse, got %v", err)
			}
			if _, ok := f.get(t, store.KeyAccessToken); ok {
				t.Error("expected no token to be stored")
			}
		})
	}

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}, func(c *Config) { c.ExchangeTimeout = 50 * time.Millisecond })
		defer close(release)
		f.startFlow(t)

		_, err := f.ctrl.Exchange(context.Background(), "auth-code")
		if !errors.Is(err, shared.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if !IsRetryable(err) {
			t.Error("expected timeout to be retryable")
		}
	})

	t.Run("Transport Failure", func(t *testing.T) {
		f := newFixture(t, nil, func(c *Config) { c.TokenURL = "http://127.0.0.1:1/api/token" })
		f.startFlow(t)

		_, err := f.ctrl.Exchange(context.Background(), "auth-code")
		var te *TokenEndpointError
		if !errors.As(err, &te) {
			t.Fatalf("expected *TokenEndpointError, got %v", err)
		}
		if te.StatusCode != 0 || !te.Retryable() {
			t.Errorf("expected retryable transport failure, got %+v", te)
		}
	})
}

func TestToken(t *testing.T) {
	t.Run("Empty Store", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.ctrl.Token(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Token Without Expiry", func(t *testing.T) {
		f := newFixture(t, nil)
		_ = f.store.Set(context.Background(), store.KeyAccessToken, "T")
		if _, err := f.ctrl.Token(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Expiry Without Token", func(t *testing.T) {
		f := newFixture(t, nil)
		_ = f.store.Set(context.Background(), store.KeyTokenExpiresAt, strconv.FormatInt(epoch+1000, 10))
		if _, err := f.ctrl.Token(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Valid At Expiry Instant", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedToken(t, "T", epoch)
		tok, err := f.ctrl.Token(context.Background())
		if err != nil {
			t.Fatalf("expected token at its expiry instant, got %v", err)
		}
		if !tok.ExpiresAt.Equal(time.UnixMilli(epoch)) {
			t.Errorf("unexpected expiry %v", tok.ExpiresAt)
		}
	})

	t.Run("Expired One Millisecond Later", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedToken(t, "T", epoch-1)
		_ = f.store.Set(context.Background(), store.KeyVerifier, "leftover")

		if _, err := f.ctrl.Token(context.Background()); !errors.Is(err, shared.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
		if snap := f.store.Snapshot(); len(snap) != 0 {
			t.Errorf("expected every key cleared, got %v", snap)
		}
	})

	t.Run("Unreadable Expiry", func(t *testing.T) {
		f := newFixture(t, nil)
		_ = f.store.Set(context.Background(), store.KeyAccessToken, "T")
		_ = f.store.Set(context.Background(), store.KeyTokenExpiresAt, "tomorrow")

		if _, err := f.ctrl.Token(context.Background()); !errors.Is(err, shared.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
		if _, ok := f.get(t, store.KeyAccessToken); ok {
			t.Error("expected token to be cleared")
		}
	})

	t.Run("Store Failure", func(t *testing.T) {
		fs := &failingStore{MemoryStore: store.NewMemoryStore(), failGet: true}
		ctrl, err := NewController(Config{
			ClientID:       "client-123",
			RedirectURI:    "http://127.0.0.1:5173/callback",
			AuthURL:        "https://accounts.example.com/authorize",
			TokenURL:       "https://accounts.example.com/api/token",
			VerifierLength: 43,
		}, Options{Store: fs, Logger: shared.NewLogger(io.Discard)})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ctrl.Token(context.Background()); !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("No Code No Token", func(t *testing.T) {
		f := newFixture(t, nil)
		res, err := f.ctrl.Resolve(ctx, url.Values{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.State != Unauthenticated || res.RedirectURL == "" {
			t.Errorf("expected redirect, got %+v", res)
		}
		if _, ok := f.get(t, store.KeyVerifier); !ok {
			t.Error("expected verifier to be persisted")
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected no network calls, got %d", f.doer.Calls())
		}
	})

	t.Run("Valid Token Wins", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedToken(t, "cached", epoch+60_000)

		for _, params := range []url.Values{{}, {"code": {"abc"}, "state": {"whatever"}}} {
			res, err := f.ctrl.Resolve(ctx, params)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if res.State != Authenticated || res.Token.AccessToken != "cached" || res.Exchanged {
				t.Errorf("expected cached token, got %+v", res)
			}
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected zero token exchanges, got %d", f.doer.Calls())
		}
	})

	t.Run("Expired Token Restarts Flow", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedToken(t, "stale", epoch-1)
		if err := f.store.Set(ctx, store.KeyVerifier, "old-verifier"); err != nil {
			t.Fatal(err)
		}

		res, err := f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.State != Unauthenticated || !res.Expired || res.RedirectURL == "" {
			t.Errorf("expected redirect after expiry, got %+v", res)
		}
		if _, ok := f.get(t, store.KeyAccessToken); ok {
			t.Error("expected stale token to be cleared")
		}
		if _, ok := f.get(t, store.KeyTokenExpiresAt); ok {
			t.Error("expected stale expiry to be cleared")
		}
		verifier, ok := f.get(t, store.KeyVerifier)
		if !ok || verifier == "old-verifier" {
			t.Errorf("expected a fresh verifier for the new flow, got %q", verifier)
		}
		u, _ := url.Parse(res.RedirectURL)
		if got, want := u.Query().Get("code_challenge"), pkce.DeriveChallenge(verifier); got != want {
			t.Errorf("expected redirect to carry the challenge of the stored verifier, got %q want %q", got, want)
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected the stale code to be ignored, got %d calls", f.doer.Calls())
		}
	})

	t.Run("Unreadable Token File Restarts Flow", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.json")
		if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
			t.Fatal(err)
		}
		fs, err := store.NewFileStore(path)
		if err != nil {
			t.Fatal(err)
		}
		fs.SetLogger(shared.NewLogger(io.Discard))

		ctrl, err := NewController(Config{
			ClientID:       "client-123",
			RedirectURI:    "http://127.0.0.1:5173/callback",
			AuthURL:        "https://accounts.example.com/authorize",
			TokenURL:       "http://127.0.0.1:1/api/token",
			VerifierLength: pkce.DefaultLength,
		}, Options{Store: fs, Logger: shared.NewLogger(io.Discard)})
		if err != nil {
			t.Fatal(err)
		}

		res, err := ctrl.Resolve(ctx, url.Values{})
		if err != nil {
			t.Fatalf("expected the flow to restart, got %v", err)
		}
		if res.State != Unauthenticated || res.RedirectURL == "" {
			t.Errorf("expected a redirect, got %+v", res)
		}
		if _, ok, err := fs.Get(ctx, store.KeyVerifier); err != nil || !ok {
			t.Errorf("expected the verifier to be written over the bad file, ok=%v err=%v", ok, err)
		}
	})

	t.Run("Full Round Trip", func(t *testing.T) {
		f := newFixture(t, nil)

		res, err := f.ctrl.Resolve(ctx, url.Values{})
		if err != nil {
			t.Fatal(err)
		}
		u, _ := url.Parse(res.RedirectURL)
		state := u.Query().Get("state")

		res, err = f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}, "state": {state}})
		if err != nil {
			t.Fatalf("expected exchange to succeed, got %v", err)
		}
		if res.State != Authenticated || !res.Exchanged || res.Token.AccessToken != "T" {
			t.Errorf("unexpected result %+v", res)
		}

		f.now = f.now.Add(30 * time.Minute)
		res, err = f.ctrl.Resolve(ctx, url.Values{})
		if err != nil || res.State != Authenticated || res.Exchanged {
			t.Errorf("expected cached token on the next run, got %+v, %v", res, err)
		}
		if f.doer.Calls() != 1 {
			t.Errorf("expected exactly one exchange, got %d", f.doer.Calls())
		}

		f.now = f.now.Add(31 * time.Minute)
		res, err = f.ctrl.Resolve(ctx, url.Values{})
		if err != nil || res.State != Unauthenticated || !res.Expired {
			t.Errorf("expected redirect once the hour is up, got %+v, %v", res, err)
		}
	})

	t.Run("State Mismatch", func(t *testing.T) {
		f := newFixture(t, nil)
		f.startFlow(t)

		_, err := f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}, "state": {"forged"}})
		if !errors.Is(err, shared.ErrStateMismatch) {
			t.Errorf("expected ErrStateMismatch, got %v", err)
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected no exchange, got %d", f.doer.Calls())
		}
	})

	t.Run("Missing Persisted State", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}, "state": {"s"}})
		if !errors.Is(err, shared.ErrFlowStateLost) {
			t.Errorf("expected ErrFlowStateLost, got %v", err)
		}
	})

	t.Run("State Disabled", func(t *testing.T) {
		f := newFixture(t, nil, func(c *Config) { c.UseState = false })
		f.startFlow(t)

		res, err := f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}})
		if err != nil {
			t.Fatalf("expected exchange without state, got %v", err)
		}
		if !res.Exchanged {
			t.Errorf("expected exchange, got %+v", res)
		}
	})

	t.Run("Code Without Verifier", func(t *testing.T) {
		f := newFixture(t, nil, func(c *Config) { c.UseState = false })
		_, err := f.ctrl.Resolve(ctx, url.Values{"code": {"abc"}})
		if !errors.Is(err, shared.ErrFlowStateLost) {
			t.Errorf("expected ErrFlowStateLost, got %v", err)
		}
		if f.doer.Calls() != 0 {
			t.Errorf("expected no network calls, got %d", f.doer.Calls())
		}
	})

	t.Run("Authorization Denied", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ctrl.Resolve(ctx, url.Values{"error": {"access_denied"}, "error_description": {"user said no"}})
		if !errors.Is(err, shared.ErrAuthorizationDenied) {
			t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
		}
		if !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("expected error code in message, got %q", err.Error())
		}
	})
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, nil)
	f.startFlow(t)
	f.seedToken(t, "T", epoch+1000)

	if err := f.ctrl.Invalidate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snap := f.store.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty store, got %v", snap)
	}
}

func TestEvents(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:", 1, 1)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	srv := httptest.NewServer(tokenHandler(http.StatusOK, `{"access_token":"T","expires_in":60,"scope":"user-read-private"}`))
	defer srv.Close()

	ctrl, err := NewController(Config{
		ClientID:       "client-123",
		RedirectURI:    "http://127.0.0.1:5173/callback",
		AuthURL:        "https://accounts.example.com/authorize",
		TokenURL:       srv.URL,
		VerifierLength: 43,
	}, Options{Store: s, Client: tu.NewDoer(srv.Client()), Logger: shared.NewLogger(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := ctrl.Redirect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Exchange(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}

	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	got := strings.Join(kinds, ",")
	for _, want := range []string{"redirect", "exchanged", "invalidated"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %s event, got %s", want, got)
		}
	}
}

func TestTokenEndpointError(t *testing.T) {
	tests := []struct {
		name      string
		err       *TokenEndpointError
		retryable bool
		contains  string
	}{
		{"Transport", &TokenEndpointError{Err: errors.New("connection refused")}, true, "connection refused"},
		{"Bad Request", &TokenEndpointError{StatusCode: 400, Code: "invalid_grant"}, false, "status 400: invalid_grant"},
		{"Too Many Requests", &TokenEndpointError{StatusCode: 429}, true, "status 429"},
		{"Bad Gateway", &TokenEndpointError{StatusCode: 502}, true, "status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Retryable() != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, tt.err.Error())
			}
			if !errors.Is(tt.err, shared.ErrTokenEndpoint) {
				t.Error("expected errors.Is ErrTokenEndpoint")
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Unauthenticated: "unauthenticated",
		CodeReceived:    "code_received",
		Authenticated:   "authenticated",
		State(9):        "state(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
