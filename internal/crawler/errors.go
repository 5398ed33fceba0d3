package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies a page failure in the summary.
type ErrorKind string

// Failure kinds recorded in CrawlSummary.
const (
	KindFetch          ErrorKind = "fetch"
	KindAuthentication ErrorKind = "authentication"
	KindNoContent      ErrorKind = "no_content"
	KindWrite          ErrorKind = "write"
)

var (
	// ErrInvalidRoot aborts a run whose root URL cannot be crawled.
	ErrInvalidRoot = errors.New("invalid root url")
	// ErrStrategyUnavailable signals that a fetch strategy cannot serve a URL
	// and the next fallback should be tried.
	ErrStrategyUnavailable = errors.New("fetch strategy unavailable")
)

// FetchError wraps network, timeout and HTTP status failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AuthenticationError reports missing or rejected credentials for a host.
type AuthenticationError struct {
	Host       string
	StatusCode int
	Reason     string
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed for %s: status %d", e.Host, e.StatusCode)
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Host, e.Reason)
}

// NoContentError means every extraction strategy came back empty.
// ScriptShell is set when the page looked like a client-rendered app shell.
type NoContentError struct {
	URL         string
	ScriptShell bool
}

func (e *NoContentError) Error() string {
	if e.ScriptShell {
		return fmt.Sprintf("no extractable content at %s (page appears to need JavaScript)", e.URL)
	}
	return fmt.Sprintf("no extractable content at %s", e.URL)
}

// StatusError maps a non-2xx response onto the error taxonomy.
func StatusError(rawURL, host string, code int) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return &AuthenticationError{Host: host, StatusCode: code}
	}
	return &FetchError{URL: rawURL, StatusCode: code}
}

// IsTransient reports whether a fetch failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return false
	}
	var noContent *NoContentError
	if errors.As(err, &noContent) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		return fetchErr.StatusCode >= 500 || fetchErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// KindOf maps an error onto the summary taxonomy.
func KindOf(err error) ErrorKind {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return KindAuthentication
	}
	var noContent *NoContentError
	if errors.As(err, &noContent) {
		return KindNoContent
	}
	var writeErr *writeError
	if errors.As(err, &writeErr) {
		return KindWrite
	}
	return KindFetch
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return fmt.Sprintf("write page: %v", e.err)
}

func (e *writeError) Unwrap() error {
	return e.err
}
