package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrEmptyCollection is returned when an operation needs at least one record and finds none.
	ErrEmptyCollection = errors.New("collection is empty")

	ErrNotFound                  = errors.New("record not found")
	ErrServerMetadataUnsupported = errors.New("server metadata discovery is not supported")
	ErrIdentityAssigned          = errors.New("id is assigned by the server")
	ErrDetached                  = errors.New("entity is not attached to a session")
)

// NetworkError is a failed round trip: the request could not be sent, timed out, or the
// service answered with a non-success status.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Message    string
	ContentID  string
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	case e.ContentID != "":
		return fmt.Sprintf("%s %s: status %d: %s (change %s)", e.Op, e.URL, e.StatusCode, e.Message, e.ContentID)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Message)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether sending the same request again may succeed.
func (e *NetworkError) Retryable() bool {
	if e.Err != nil {
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(e.Err, &ne) && ne.Timeout()
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}
