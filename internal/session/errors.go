package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStorageUnavailable means the durable medium could not be read or written
	ErrStorageUnavailable = errors.New("session storage unavailable")

	// ErrRemoteUnreachable means the identity server could not be reached
	ErrRemoteUnreachable = errors.New("identity server unreachable")

	// ErrNoSession means the operation needs an authenticated session
	ErrNoSession = errors.New("no active session")
)

// Generic messages shown when the server gave none
const (
	MessageLoginFailed    = "Login failed. Please try again."
	MessageRegisterFailed = "Registration failed. Please try again."
)

// RemoteError is a non-2xx answer from the identity server
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity server returned %d", e.Status)
	}
	return fmt.Sprintf("identity server returned %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the identity server
func IsUnauthorized(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Status == http.StatusUnauthorized
}

// Error is the single user-facing failure of Login and Register. Message is
// the server's message verbatim, or a generic fallback.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func userError(err error, fallback string) *Error {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return &Error{Message: remote.Message, Err: err}
	}
	return &Error{Message: fallback, Err: err}
}
