package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authorization flow errors
	ErrFlowStateLost          = fmt.Errorf("authorization flow state lost")
	ErrStateMismatch          = fmt.Errorf("state parameter mismatch")
	ErrAuthorizationDenied    = fmt.Errorf("authorization denied")
	ErrTokenEndpoint          = fmt.Errorf("token endpoint request failed")
	ErrMalformedTokenResponse = fmt.Errorf("malformed token response")
	ErrTimeout                = fmt.Errorf("operation timed out")

	// Token cache errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTokenInvalid     = fmt.Errorf("access token rejected")

	// Storage errors
	ErrStoreUnavailable = fmt.Errorf("token store unavailable")
	ErrUnknownBackend   = fmt.Errorf("unknown token store backend")

	// API and service errors
	ErrAPIRequest = fmt.Errorf("API request failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
