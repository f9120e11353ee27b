package auth

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/pkce"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
	"golang.org/x/oauth2"
)

// Doer sends HTTP requests bound to a context. [retry.Client] satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Options carries the collaborators of a [Controller]. Only Store is required.
type Options struct {
	Store  store.TokenStore
	Client Doer
	Logger *log.Logger
	Clock  func() time.Time
}

// Controller drives the PKCE flow against a single authorization server.
type Controller struct {
	config Config
	oauth  *oauth2.Config
	store  store.TokenStore
	client Doer
	logger *log.Logger
	now    func() time.Time
}

// NewHTTPClient returns the default token endpoint client: a go-httpretry client over an
// [http.Client] bounded by timeout that sends each request exactly once.
//
// An authorization code is single-use and the request body is consumed by the first attempt, so
// failures surface to the caller as [TokenEndpointError] and [IsRetryable] decides what happens next.
func NewHTTPClient(timeout time.Duration) (*retry.Client, error) {
	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return retry.NewBackgroundClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(func(error, *http.Response) bool { return false }),
	)
}

// NewController validates config and wires opts, filling in defaults for the optional collaborators.
func NewController(config Config, opts Options) (*Controller, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: a token store is required", shared.ErrInvalidConfig)
	}
	if config.ExchangeTimeout <= 0 {
		config.ExchangeTimeout = 10 * time.Second
	}

	c := &Controller{
		config: config,
		oauth:  config.oauth2(),
		store:  opts.Store,
		client: opts.Client,
		logger: opts.Logger,
		now:    opts.Clock,
	}

	if c.client == nil {
		client, err := NewHTTPClient(config.ExchangeTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create token endpoint client: %w", err)
		}
		c.client = client
	}
	if c.logger == nil {
		c.logger = shared.NewLogger(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Resolve runs one step of the flow for the given callback query parameters.
//
// A valid cached token always wins. Otherwise a "code" parameter is exchanged for a token, and
// without one (or when the cached token just expired) a new authorization URL is produced.
func (c *Controller) Resolve(ctx context.Context, params url.Values) (*Result, error) {
	if e := params.Get("error"); e != "" {
		c.record(ctx, "denied", e)
		return nil, denied(e, params.Get("error_description"))
	}

	tok, err := c.Token(ctx)
	expired := false
	switch {
	case err == nil:
		c.logger.Debug("cached token is valid", "expires_at", tok.ExpiresAt.Format(time.RFC3339))
		return &Result{State: Authenticated, Token: tok}, nil
	case errors.Is(err, shared.ErrTokenExpired):
		expired = true
	case errors.Is(err, shared.ErrNotAuthenticated):
	default:
		return nil, err
	}

	code := params.Get("code")
	if code == "" || expired {
		if expired && code != "" {
			c.logger.Warn("ignoring authorization code received alongside an expired token")
		}
		u, err := c.Redirect(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{State: Unauthenticated, RedirectURL: u, Expired: expired}, nil
	}

	if c.config.UseState {
		if err := c.checkState(ctx, params.Get("state")); err != nil {
			return nil, err
		}
	}

	tok, err = c.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return &Result{State: Authenticated, Token: tok, Exchanged: true}, nil
}

// Redirect starts a new flow: it generates and persists a verifier (and state, when enabled)
// and returns the authorization URL carrying the derived challenge.
//
// Nothing is returned unless the verifier was persisted first.
func (c *Controller) Redirect(ctx context.Context) (string, error) {
	params, err := pkce.New(c.config.VerifierLength)
	if err != nil {
		return "", err
	}

	if err := c.store.Set(ctx, store.KeyVerifier, params.Verifier); err != nil {
		return "", fmt.Errorf("%w: failed to persist verifier: %w", shared.ErrStoreUnavailable, err)
	}

	state := ""
	if c.config.UseState {
		state = shared.GenerateState()
		if err := c.store.Set(ctx, store.KeyState, state); err != nil {
			return "", fmt.Errorf("%w: failed to persist state: %w", shared.ErrStoreUnavailable, err)
		}
	} else if err := c.store.Delete(ctx, store.KeyState); err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}

	u := c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge_method", params.Method),
		oauth2.SetAuthURLParam("code_challenge", params.Challenge),
	)

	c.logger.Info("authorization flow started", "verifier_length", len(params.Verifier), "state", state != "")
	c.record(ctx, "redirect", c.config.AuthURL)
	return u, nil
}

// Token returns the cached token when it is present and unexpired.
//
// An expired (or unreadable) cached token clears every flow key and yields [shared.ErrTokenExpired].
// A missing token, or a token without an expiry, yields [shared.ErrNotAuthenticated].
func (c *Controller) Token(ctx context.Context) (*Token, error) {
	access, ok, err := c.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	if !ok || access == "" {
		return nil, shared.ErrNotAuthenticated
	}

	raw, ok, err := c.store.Get(ctx, store.KeyTokenExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, shared.ErrNotAuthenticated
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("discarding token with unreadable expiry", "value", raw)
		return nil, c.reset(ctx, "unreadable expiry")
	}

	tok := &Token{AccessToken: access, ExpiresAt: time.UnixMilli(ms)}
	if !tok.Valid(c.now()) {
		c.logger.Info("cached token expired", "expired_at", tok.ExpiresAt.Format(time.RFC3339))
		return nil, c.reset(ctx, "expired")
	}
	return tok, nil
}

// Invalidate forgets the cached token and any in-flight flow state.
func (c *Controller) Invalidate(ctx context.Context) error {
	if err := store.Clear(ctx, c.store, store.Keys...); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	c.logger.Info("cached credentials cleared")
	c.record(ctx, "invalidated", "")
	return nil
}

// reset clears all flow keys after an expiry and returns [shared.ErrTokenExpired].
func (c *Controller) reset(ctx context.Context, reason string) error {
	if err := store.Clear(ctx, c.store, store.Keys...); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	c.record(ctx, "expired", reason)
	return shared.ErrTokenExpired
}

func (c *Controller) checkState(ctx context.Context, got string) error {
	want, ok, err := c.store.Get(ctx, store.KeyState)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	if !ok || want == "" {
		return fmt.Errorf("%w: no state was persisted for this callback", shared.ErrFlowStateLost)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		c.record(ctx, "state_mismatch", "")
		return shared.ErrStateMismatch
	}
	return nil
}

// record appends to the store's audit trail when it keeps one.
func (c *Controller) record(ctx context.Context, kind, detail string) {
	r, ok := c.store.(store.EventRecorder)
	if !ok {
		return
	}
	if err := r.Record(ctx, kind, detail); err != nil {
		c.logger.Warn("failed to record auth event", "kind", kind, "error", err)
	}
}

func denied(code, description string) error {
	if description != "" {
		return fmt.Errorf("%w: %s (%s)", shared.ErrAuthorizationDenied, code, description)
	}
	return fmt.Errorf("%w: %s", shared.ErrAuthorizationDenied, code)
}
