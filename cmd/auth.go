package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/desertthunder/spotauth/internal/auth"
	"github.com/desertthunder/spotauth/internal/server"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
	"github.com/desertthunder/spotauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the whole authorization flow in one process.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	token, err := r.login(ctx)
	if err != nil {
		return err
	}

	r.writePlainln("%s", ui.OK("✓ Authorization successful"))
	return r.writePlain("Token expires at %s\n", token.ExpiresAt.Local().Format(time.RFC1123))
}

// login returns the cached token when it is still valid. Otherwise it starts a callback server on the
// redirect URI, opens the browser at the authorization URL and waits for the callback.
func (r *Runner) login(ctx context.Context) (*auth.Token, error) {
	controller, err := r.Controller(ctx)
	if err != nil {
		return nil, err
	}

	result, err := controller.Resolve(ctx, nil)
	if err != nil {
		return nil, err
	}
	if result.State == auth.Authenticated {
		r.logger.Debug("using cached token")
		return result.Token, nil
	}
	if result.Expired {
		r.writePlain("%s\n", ui.Warn("⚠ Cached token expired, starting a new authorization"))
	}

	config := r.Config()
	redirect, err := url.Parse(config.Spotify.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	logger := shared.WithLogger(r.logger, "component", "callback")
	handler := server.NewCallbackHandler(controller, redirect.Path, logger)
	router := server.NewBasicRouter()
	router.Use(server.Logging(logger), server.NoStore)
	router.Handler(handler)

	srv, serverErrors, err := server.Start(listenAddr(redirect), router)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down callback server", "error", err)
		}
	}()
	r.logger.Info("waiting for authorization callback", "addr", srv.Addr, "path", redirect.Path)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := r.openBrowser(result.RedirectURL); err != nil {
		r.logger.Warn("failed to open browser automatically", "error", err)
		r.writePlainln("%s", ui.Warn("⚠ Could not open browser automatically."))
		r.writePlain("Please open this URL in your browser:\n%s\n\n", result.RedirectURL)
	}

	timeout := config.Auth.CallbackTimeoutDuration()
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-handler.Result():
		if err := res.Error(); err != nil {
			return nil, fmt.Errorf("authorization failed: %w", err)
		}
		if res.Token == nil {
			return nil, fmt.Errorf("%w: no token received", shared.ErrNotAuthenticated)
		}
		return res.Token, nil
	case err, ok := <-serverErrors:
		if !ok {
			return nil, fmt.Errorf("callback server stopped before authorization completed")
		}
		return nil, fmt.Errorf("callback server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization not completed after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// listenAddr returns the host:port the redirect URI points at, defaulting the port by scheme.
func listenAddr(redirect *url.URL) string {
	if redirect.Port() != "" {
		return redirect.Host
	}
	port := "80"
	if redirect.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(redirect.Hostname(), port)
}

// AuthAuthorize starts a flow and prints the authorization URL. The verifier is persisted so that
// "auth callback" can finish the flow from another process.
func (r *Runner) AuthAuthorize(ctx context.Context, cmd *cli.Command) error {
	controller, err := r.Controller(ctx)
	if err != nil {
		return err
	}

	result, err := controller.Resolve(ctx, nil)
	if err != nil {
		return err
	}
	if result.State == auth.Authenticated {
		return r.writePlain("%s (expires %s)\n", ui.OK("✓ Already authenticated"),
			result.Token.ExpiresAt.Local().Format(time.RFC1123))
	}

	if cmd.Bool("open") {
		if err := r.openBrowser(result.RedirectURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
		}
	}

	r.writePlain("%s\n", result.RedirectURL)
	r.writePlainln("After approving, finish with:")
	return r.writePlain("  spotauth auth callback --url '<the URL your browser was redirected to>'\n")
}

// AuthCallback finishes a flow with the parameters the authorization server redirected with.
func (r *Runner) AuthCallback(ctx context.Context, cmd *cli.Command) error {
	params, err := callbackParams(cmd.String("url"), cmd.String("code"), cmd.String("state"))
	if err != nil {
		return err
	}

	controller, err := r.Controller(ctx)
	if err != nil {
		return err
	}

	result, err := controller.Resolve(ctx, params)
	if errors.Is(err, shared.ErrFlowStateLost) {
		return fmt.Errorf("%w; run \"spotauth auth authorize\" first", err)
	}
	if err != nil {
		return err
	}

	switch {
	case result.State == auth.Unauthenticated:
		r.writePlain("%s\n", ui.Warn("⚠ Cached token expired; a new authorization was started:"))
		return r.writePlain("%s\n", result.RedirectURL)
	case result.Exchanged:
		return r.writePlain("%s (expires %s)\n", ui.OK("✓ Authorization successful"),
			result.Token.ExpiresAt.Local().Format(time.RFC1123))
	default:
		return r.writePlain("%s (expires %s)\n", ui.OK("✓ Already authenticated"),
			result.Token.ExpiresAt.Local().Format(time.RFC1123))
	}
}

// callbackParams builds the query parameters from either a full redirect URL or an explicit code.
func callbackParams(rawURL, code, state string) (url.Values, error) {
	switch {
	case rawURL != "" && code != "":
		return nil, fmt.Errorf("%w: cannot specify both --url and --code", shared.ErrInvalidArgument)
	case rawURL != "":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: --url: %v", shared.ErrInvalidArgument, err)
		}
		params := u.Query()
		if params.Get("code") == "" && params.Get("error") == "" {
			return nil, fmt.Errorf("%w: --url has no code or error parameter", shared.ErrInvalidArgument)
		}
		return params, nil
	case code != "":
		params := url.Values{"code": {code}}
		if state != "" {
			params.Set("state", state)
		}
		return params, nil
	default:
		return nil, fmt.Errorf("%w: either --url or --code must be provided", shared.ErrMissingArgument)
	}
}

type tokenOutput struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthToken prints the cached access token.
func (r *Runner) AuthToken(ctx context.Context, cmd *cli.Command) error {
	controller, err := r.Controller(ctx)
	if err != nil {
		return err
	}

	token, err := controller.Token(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(tokenOutput{AccessToken: token.AccessToken, ExpiresAt: token.ExpiresAt.UTC()}, true)
	}
	return r.writePlain("%s\n", token.AccessToken)
}

// AuthStatus reports whether a valid token is cached and whether a flow is pending.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	controller, err := r.Controller(ctx)
	if err != nil {
		return err
	}

	r.writePlain("Store: %s\n", r.Config().Store.Backend)

	token, err := controller.Token(ctx)
	switch {
	case err == nil:
		remaining := time.Until(token.ExpiresAt).Round(time.Second)
		return r.writePlain("Authentication: %s (expires %s, in %s)\n", ui.OK("✓ Authenticated"),
			token.ExpiresAt.Local().Format(time.RFC1123), remaining)
	case errors.Is(err, shared.ErrTokenExpired):
		return r.writePlain("Authentication: %s\n", ui.Warn("✗ Token expired, cache cleared"))
	case errors.Is(err, shared.ErrNotAuthenticated):
		r.writePlain("Authentication: %s\n", ui.Err("✗ Not authenticated"))
	default:
		return err
	}

	s, err := r.Store(ctx)
	if err != nil {
		return err
	}
	if _, pending, err := s.Get(ctx, store.KeyVerifier); err == nil && pending {
		r.writePlain("%s\n", ui.Muted("An authorization is pending; finish it with \"spotauth auth callback\"."))
	}
	return nil
}

// AuthLogout removes the cached token and any pending flow state.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	controller, err := r.Controller(ctx)
	if err != nil {
		return err
	}

	if err := controller.Invalidate(ctx); err != nil {
		return err
	}
	return r.writePlain("%s\n", ui.OK("✓ Logged out"))
}

// AuthHistory prints the flow transitions recorded by stores that keep an audit trail.
func (r *Runner) AuthHistory(ctx context.Context, cmd *cli.Command) error {
	s, err := r.Store(ctx)
	if err != nil {
		return err
	}

	recorder, ok := s.(store.EventRecorder)
	if !ok {
		return fmt.Errorf("%w: history requires store.backend = \"sqlite\", got %q",
			shared.ErrInvalidConfig, r.Config().Store.Backend)
	}

	events, err := recorder.Events(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return r.writePlain("No events recorded.\n")
	}

	for _, e := range events {
		if e.Detail != "" {
			r.writePlain("%s  %-12s %s\n", e.CreatedAt, e.Kind, e.Detail)
		} else {
			r.writePlain("%s  %s\n", e.CreatedAt, e.Kind)
		}
	}
	return nil
}
