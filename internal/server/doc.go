// Package server provides HTTP routing, middleware, and the loopback callback handler for the PKCE flow.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Callback Handler
//
// [CallbackHandler] receives the authorization server's redirect on the loopback redirect URI and
// hands the query parameters to a [Resolver] (the auth controller), which validates state, exchanges
// the code with the persisted verifier and caches the token.
//
// A request without a code is answered with a redirect to a fresh authorization URL, so opening the
// callback address in a browser starts the flow. Only the first request carrying a code or an error
// is processed; the outcome is delivered once on [CallbackHandler.Result].
//
// # Current Usage
//
// The "auth login" command starts a temporary server on the redirect URI's host and port, opens the
// browser, waits for one result and shuts the server down.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
