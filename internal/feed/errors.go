package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned before any network call when a feed
	// endpoint or its credentials are unset.
	ErrNotConfigured = errors.New("feed: not configured")

	// ErrUndecodable marks a response body that is not the expected JSON shape.
	ErrUndecodable = errors.New("feed: undecodable response body")

	// ErrNoRow marks a store response without the requested row.
	ErrNoRow = errors.New("feed: no row returned")
)

// TransportError is any failure to obtain a usable response from a feed:
// network errors, timeouts, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Feed       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s feed: status %d: %v", e.Feed, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s feed: %v", e.Feed, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
