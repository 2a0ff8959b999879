package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string // e.g. "503 Service Unavailable"
}

func (e *HTTPError) Error() string { return "HTTP " + e.Status }

func newHTTPError(code int, status string) *HTTPError {
	if status == "" {
		status = fmt.Sprintf("%d", code)
	}
	return &HTTPError{StatusCode: code, Status: status}
}

// Retryable reports whether err is transient: a timeout, a reset
// connection, HTTP 429 or any 5xx.
func Retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == 429 || he.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
