package cloud

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrEndpointNotFound is returned when the named endpoint is not configured.
var ErrEndpointNotFound = errors.New("cloud endpoint not configured")

// FormatError marks a response body that is not valid JSON.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cloud response format error: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ServerError carries a non-2xx response.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("cloud server error: status %d: %s", e.StatusCode, e.Body)
}

// ConnectionError marks a transport-level failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cloud connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError marks a request that exceeded the per-request timeout.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cloud timeout: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ImageDownloadError marks a failed media download.
type ImageDownloadError struct {
	URL string
	Err error
}

func (e *ImageDownloadError) Error() string {
	return fmt.Sprintf("image download failed for %s: %v", e.URL, e.Err)
}

func (e *ImageDownloadError) Unwrap() error { return e.Err }

// LogError logs a failed cloud call with a message per error family.
func LogError(logger *slog.Logger, op string, err error) {
	var serverErr *ServerError
	var connErr *ConnectionError
	var timeoutErr *TimeoutError
	var formatErr *FormatError
	var imageErr *ImageDownloadError
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		logger.Error("Cloud API is not configured", "op", op)
	case errors.As(err, &formatErr):
		logger.Error("Cloud API returned malformed response", "op", op, "error", formatErr.Err)
	case errors.As(err, &serverErr):
		logger.Error("Cloud server returned error status", "op", op,
			"status", serverErr.StatusCode, "body", serverErr.Body)
	case errors.As(err, &timeoutErr):
		logger.Error("Cloud call timed out", "op", op)
	case errors.As(err, &connErr):
		logger.Error("Unable to connect to the cloud", "op", op, "error", connErr.Err)
	case errors.As(err, &imageErr):
		logger.Error("Failed to download image", "op", op, "url", imageErr.URL, "error", imageErr.Err)
	default:
		logger.Error("Cloud call failed", "op", op, "error", err)
	}
}
