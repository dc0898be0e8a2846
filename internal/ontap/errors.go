package ontap

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrVolumeNotFound indicates the volume disappeared between listing and snapshot listing
	ErrVolumeNotFound = errors.New("volume not found")

	// ErrPaginationLoop indicates the server returned the same next link twice
	ErrPaginationLoop = errors.New("pagination did not advance")
)

// APIError represents a non-2xx response from the ONTAP REST API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ontap api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ontap api error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuth reports rejected credentials or missing privileges.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports a 404 response.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// mapStatusToError maps an error response onto a typed error.
func mapStatusToError(statusCode int, code, message string) error {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

// isNonRetryableError checks if an error should not be retried
func isNonRetryableError(err error) bool {
	// Don't retry on 4xx errors except 408 (timeout) and 429 (rate limit)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode != http.StatusRequestTimeout && apiErr.StatusCode != http.StatusTooManyRequests
		}
	}

	return errors.Is(err, ErrVolumeNotFound) || errors.Is(err, ErrPaginationLoop)
}

// isRetryableStatus reports server-side failures worth another attempt.
func isRetryableStatus(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 500 ||
		apiErr.StatusCode == http.StatusRequestTimeout ||
		apiErr.StatusCode == http.StatusTooManyRequests
}
