package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jobportal/identity/internal/guard"
)

// Kind distinguishes access tokens from refresh tokens
type Kind string

// Token kinds
const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims represents the JWT claims structure
type Claims struct {
	Role guard.Role `json:"role,omitempty"`
	Kind Kind       `json:"kind"`
	jwt.RegisteredClaims
}

// Identity returns the guard's view of the claims
func (c *Claims) Identity() *guard.Identity {
	if c == nil {
		return nil
	}
	return &guard.Identity{Subject: c.Subject, Role: c.Role}
}

// Pair represents an access and refresh token pair
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// TokenType constants
const (
	TokenTypeBearer = "Bearer"
)
