package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
)

// Codec issues and verifies signed, time-bounded identity tokens. It holds no
// state beyond its keys, lifetimes and clock.
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides the codec's time source
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec from the JWT configuration
func NewCodec(cfg config.JWTConfig, opts ...Option) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AccessTokenTTL < time.Second {
		return nil, fmt.Errorf("access token ttl must be at least one second, got %v", cfg.AccessTokenTTL)
	}

	c := &Codec{
		accessKey:  []byte(cfg.SecretKey),
		refreshKey: []byte(cfg.RefreshSecretKey),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured lifetime for a token kind
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

func (c *Codec) key(kind Kind) ([]byte, error) {
	switch kind {
	case KindAccess:
		return c.accessKey, nil
	case KindRefresh:
		return c.refreshKey, nil
	default:
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}
}

// Issue signs a token of the given kind for subject. It returns the token and
// its expiry.
func (c *Codec) Issue(subject string, role guard.Role, kind Kind) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("cannot issue %s token: empty subject", kind)
	}
	key, err := c.key(kind)
	if err != nil {
		return "", time.Time{}, err
	}

	now := c.now().Truncate(time.Second)
	expiry := now.Add(c.TTL(kind))

	claims := Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    c.issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, expiry, nil
}

// IssuePair issues an access and a refresh token for subject
func (c *Codec) IssuePair(subject string, role guard.Role) (*Pair, error) {
	access, accessExpiry, err := c.Issue(subject, role, KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExpiry, err := c.Issue(subject, role, KindRefresh)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExpiry,
		RefreshExpiresAt: refreshExpiry,
		TokenType:        TokenTypeBearer,
	}, nil
}

// Verify checks the signature and expiry of a token of the given kind and
// returns its claims. A token at or past its expiry fails with ErrExpired even
// when the signature does not match; every other failure is
// ErrInvalidSignature.
func (c *Codec) Verify(tokenString string, kind Kind) (*Claims, error) {
	key, err := c.key(kind)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || c.expired(claims) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch {
	case claims.Kind != kind:
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidSignature, kind, claims.Kind)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidSignature)
	case claims.IssuedAt != nil && !claims.ExpiresAt.After(claims.IssuedAt.Time):
		return nil, fmt.Errorf("%w: expiry not after issued-at", ErrInvalidSignature)
	}

	return claims, nil
}

// expired reports whether the decoded (possibly unverified) claims carry an
// expiry at or before now.
func (c *Codec) expired(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}

// ExtractTokenID extracts the JTI from a token without verifying it
func ExtractTokenID(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	return claims.ID, nil
}
