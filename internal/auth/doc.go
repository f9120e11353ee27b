// Package auth implements the client side of the OAuth 2.0 Authorization Code flow with PKCE.
//
// # States
//
// The [Controller] observes two inputs, the callback query parameters and the cached token, and
// lands in one of three states:
//
//   - [Unauthenticated]: no code was supplied (or the cached token just expired). A verifier is
//     generated and persisted, and the caller receives the authorization URL to open.
//   - [CodeReceived]: a code was supplied and no valid token is cached. The persisted verifier is
//     exchanged together with the code at the token endpoint and the resulting token is cached.
//   - [Authenticated]: a valid token is cached and is returned without any network call.
//
// The persisted verifier is the only thing carried from the redirect to the callback, so the two
// halves may run in different processes.
//
// # Errors
//
// Failures are returned as values wrapping the sentinels in the shared package:
//   - [shared.ErrFlowStateLost]: no verifier (or state) was persisted for this callback
//   - [shared.ErrStateMismatch]: the callback state differs from the persisted one
//   - [shared.ErrAuthorizationDenied]: the authorization server redirected back with an error
//   - [shared.ErrTokenEndpoint]: transport failure or non-2xx response, see [TokenEndpointError]
//   - [shared.ErrMalformedTokenResponse]: the token endpoint answered 2xx with an unusable body
//   - [shared.ErrTimeout]: the exchange exceeded its deadline
//   - [shared.ErrTokenExpired], [shared.ErrNotAuthenticated]: no usable cached token
//
// [IsRetryable] tells callers which of these are worth retrying.
package auth
