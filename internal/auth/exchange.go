package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
)

const maxTokenResponseSize = 1 << 20

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int64 `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenEndpointError describes a failed token request. StatusCode is zero for transport failures.
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *TokenEndpointError) Error() string {
	var b strings.Builder
	b.WriteString(shared.ErrTokenEndpoint.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, " (%s)", e.Description)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TokenEndpointError) Unwrap() error { return e.Err }

func (e *TokenEndpointError) Is(target error) bool { return target == shared.ErrTokenEndpoint }

// Retryable reports whether repeating the same request could succeed.
func (e *TokenEndpointError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is transient: a timeout, a transport failure, a 429 or a 5xx.
// Flow errors such as a lost verifier or a rejected grant are not.
func IsRetryable(err error) bool {
	if errors.Is(err, shared.ErrTimeout) {
		return true
	}
	var te *TokenEndpointError
	return errors.As(err, &te) && te.Retryable()
}

// Exchange trades code and the persisted verifier for an access token, caches the token with its
// absolute expiry, and forgets the verifier.
//
// Without a persisted verifier it fails with [shared.ErrFlowStateLost] before any network call.
func (c *Controller) Exchange(ctx context.Context, code string) (*Token, error) {
	verifier, ok, err := c.store.Get(ctx, store.KeyVerifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	if !ok || verifier == "" {
		return nil, fmt.Errorf("%w: no code verifier was persisted", shared.ErrFlowStateLost)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ExchangeTimeout)
	defer cancel()

	form := url.Values{
		"client_id":     {c.config.ClientID},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.config.RedirectURI},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenEndpointError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.client.DoWithContext(ctx, req)
	if err != nil && resp != nil {
		c.logger.Debug("token endpoint answered with an error", "status", resp.StatusCode, "error", err)
	} else if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: token exchange exceeded %s: %w",
				shared.ErrTimeout, c.config.ExchangeTimeout, &TokenEndpointError{Err: err})
		}
		return nil, &TokenEndpointError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reading token response: %w", shared.ErrTimeout, err)
		}
		return nil, &TokenEndpointError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TokenEndpointError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			te.Code, te.Description = er.Error, er.ErrorDescription
		}
		c.logger.Error("token exchange rejected", "status", resp.StatusCode, "error", te.Code)
		c.record(ctx, "exchange_failed", strconv.Itoa(resp.StatusCode))
		return nil, te
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrMalformedTokenResponse, err)
	}
	now := c.now().UnixMilli()
	switch {
	case tr.AccessToken == "":
		return nil, fmt.Errorf("%w: missing access_token", shared.ErrMalformedTokenResponse)
	case tr.ExpiresIn == nil:
		return nil, fmt.Errorf("%w: missing expires_in", shared.ErrMalformedTokenResponse)
	case *tr.ExpiresIn <= 0:
		return nil, fmt.Errorf("%w: non-positive expires_in %d", shared.ErrMalformedTokenResponse, *tr.ExpiresIn)
	case *tr.ExpiresIn > (math.MaxInt64-now)/1000:
		return nil, fmt.Errorf("%w: expires_in %d out of range", shared.ErrMalformedTokenResponse, *tr.ExpiresIn)
	case tr.TokenType != "" && !strings.EqualFold(tr.TokenType, "bearer"):
		return nil, fmt.Errorf("%w: unsupported token_type %q", shared.ErrMalformedTokenResponse, tr.TokenType)
	}

	expiresAt := now + *tr.ExpiresIn*1000
	if err := c.store.Set(ctx, store.KeyAccessToken, tr.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: failed to persist token: %w", shared.ErrStoreUnavailable, err)
	}
	if err := c.store.Set(ctx, store.KeyTokenExpiresAt, strconv.FormatInt(expiresAt, 10)); err != nil {
		return nil, fmt.Errorf("%w: failed to persist token expiry: %w", shared.ErrStoreUnavailable, err)
	}
	if err := store.Clear(ctx, c.store, store.KeyVerifier, store.KeyState); err != nil {
		c.logger.Warn("failed to clear verifier after exchange", "error", err)
	}

	tok := &Token{AccessToken: tr.AccessToken, ExpiresAt: time.UnixMilli(expiresAt)}
	c.logger.Info("token exchanged",
		"token", shared.Redact(tok.AccessToken),
		"expires_at", tok.ExpiresAt.Format(time.RFC3339),
		"duration", c.now().Sub(start).Round(time.Millisecond),
	)
	c.record(ctx, "exchanged", tr.Scope)
	return tok, nil
}
