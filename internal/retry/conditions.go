package retry

import (
	"errors"
	"fmt"
	"net"
)

// HTTPStatusError carries an HTTP status code through the retry loop so
// conditions can distinguish retryable server failures from terminal
// client failures.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// NewHTTPStatusError creates an HTTPStatusError.
func NewHTTPStatusError(statusCode int, url string) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: statusCode, URL: url}
}

// nonRetryableStatuses are terminal: retrying an unauthorized or missing
// endpoint cannot succeed.
var nonRetryableStatuses = map[int]bool{
	401: true,
	403: true,
	404: true,
}

// ShouldRetryHTTP reports whether an outbound HTTP failure is worth
// retrying. Network errors and 5xx/429/408 responses retry; 401, 403,
// and 404 do not.
func ShouldRetryHTTP(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if nonRetryableStatuses[statusErr.StatusCode] {
			return false
		}
		return statusErr.StatusCode == 408 ||
			statusErr.StatusCode == 429 ||
			(statusErr.StatusCode >= 500 && statusErr.StatusCode < 600)
	}

	// Transport-level failures (timeouts, refused connections) retry.
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, errTransient)
}

// errTransient marks errors explicitly tagged as transient by callers.
var errTransient = errors.New("transient error")

// MarkTransient wraps an error so ShouldRetryHTTP treats it as retryable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errTransient, err)
}
