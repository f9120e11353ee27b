package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/auth"
	"github.com/desertthunder/spotauth/internal/shared"
)

// Resolver runs one step of the authorization flow. [auth.Controller] implements it.
type Resolver interface {
	Resolve(ctx context.Context, params url.Values) (*auth.Result, error)
}

// CallbackResult is the outcome of the authorization callback.
type CallbackResult struct {
	Token *auth.Token
	err   error
}

func (c *CallbackResult) Error() error {
	return c.err
}

// CallbackHandler handles the authorization server's redirect to the loopback redirect URI.
// Implements the Handler interface for registration with a Router.
type CallbackHandler struct {
	resolver   Resolver
	path       string
	logger     *log.Logger
	resultChan chan CallbackResult
	once       sync.Once
	handled    bool
	mu         sync.Mutex
}

// NewCallbackHandler creates a handler serving path that resolves callbacks with resolver.
func NewCallbackHandler(resolver Resolver, path string, logger *log.Logger) *CallbackHandler {
	if path == "" {
		path = "/callback"
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CallbackHandler{
		resolver:   resolver,
		path:       path,
		logger:     logger,
		resultChan: make(chan CallbackResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP handles the callback request.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	final := query.Get("code") != "" || query.Get("error") != ""

	h.mu.Lock()
	if h.handled {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	if final {
		h.handled = true
	}
	h.mu.Unlock()

	// The exchange must finish even if the browser goes away.
	ctx := context.WithoutCancel(r.Context())
	res, err := h.resolver.Resolve(ctx, query)
	if err != nil {
		h.logger.Error("authorization callback failed", "error", err)
		h.Send(CallbackResult{err: err})
		render(w, statusFor(err), page{Title: "Authorization Failed", Message: err.Error()})
		return
	}

	switch res.State {
	case auth.Unauthenticated:
		h.logger.Info("no authorization code on callback, redirecting to authorization server")
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	default:
		h.Send(CallbackResult{Token: res.Token})
		render(w, http.StatusOK, page{
			Title:   "Authorization Successful",
			Message: "You can close this window and return to the terminal.",
			OK:      true,
		})
	}
}

// Send sends the callback result through the channel (only once).
func (h *CallbackHandler) Send(result CallbackResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *CallbackHandler) Result() <-chan CallbackResult {
	return h.resultChan
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, shared.ErrTokenEndpoint), errors.Is(err, shared.ErrMalformedTokenResponse):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrStoreUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type page struct {
	Title   string
	Message string
	OK      bool
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { margin: 0 0 1rem 0; }
        .ok { color: #1DB954; }
        .err { color: #E22134; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1 class="{{if .OK}}ok{{else}}err{{end}}">{{if .OK}}✓{{else}}✗{{end}} {{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>
`))

func render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, p)
}
