package transcripts

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FetchConversationByID for unknown ids. It is a
// valid empty result rather than a failure.
var ErrNotFound = errors.New("transcripts: conversation not found")

// UnavailableError reports that the provider could not be reached or
// rejected the request (network, auth, server errors, undecodable bodies).
type UnavailableError struct {
	Provider   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider unavailable (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}
