package backend

import (
	"errors"
	"fmt"
)

// Common errors returned by backing services.
var (
	// ErrNotFound indicates the requested publication or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthError indicates a missing or rejected API key.
	ErrAuthError = errors.New("backing service authentication error")

	// ErrRateLimited indicates the backing service throttled the request.
	ErrRateLimited = errors.New("backing service rate limit exceeded")

	// ErrUnavailable indicates the backing service could not be reached.
	ErrUnavailable = errors.New("backing service unavailable")

	// ErrInvalidResponse indicates a response that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response from backing service")

	// ErrInvalidRequest indicates a request rejected before any I/O.
	ErrInvalidRequest = errors.New("invalid request")
)

// APIError represents an error status returned by the backing service.
type APIError struct {
	StatusCode int
	Message    string // "detail" field of the error body, or the status text
	Path       string // Request path, for context
}

func (e *APIError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("backing service error (status %d) on %s: %s", e.StatusCode, e.Path, e.Message)
	}
	return fmt.Sprintf("backing service error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// IsRateLimited returns true if the error indicates throttling.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// IsUnavailable returns true if the backing service could not be reached or
// failed on its side.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
