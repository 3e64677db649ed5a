package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidEndpoint    = fmt.Errorf("invalid proxy endpoint")
	ErrDuplicateEndpoint  = fmt.Errorf("duplicate proxy endpoint")
	ErrEndpointNotFound   = fmt.Errorf("proxy endpoint not found")

	// Routing errors
	ErrRoutingUnavailable = fmt.Errorf("no reachable proxy endpoint")
	ErrIPLookup           = fmt.Errorf("ip lookup failed")

	// Local callback server errors
	ErrServerStart   = fmt.Errorf("failed to start local server")
	ErrServerRunning = fmt.Errorf("local server already running")
	ErrStateMismatch = fmt.Errorf("invalid state parameter")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrAuthTimeout      = fmt.Errorf("authentication timed out or was cancelled")
	ErrTokenExchange    = fmt.Errorf("failed to exchange authorization code for tokens")
	ErrLoginFailed      = fmt.Errorf("login failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
