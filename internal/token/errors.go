package token

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is matched by every verification failure
var ErrUnauthenticated = errors.New("unauthenticated")

// Verification failures. Both satisfy errors.Is(err, ErrUnauthenticated).
var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	ErrExpired          = fmt.Errorf("%w: token expired", ErrUnauthenticated)
)

// ErrRefreshReused is returned when a refresh token is presented twice
var ErrRefreshReused = errors.New("refresh token already used")

// FailureKind names a verification failure for logs and metrics
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "failure"
	}
}
