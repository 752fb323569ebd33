// Package session keeps client-held identity state consistent with the
// identity server.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobportal/identity/internal/token"
	"github.com/jobportal/identity/internal/user"
	"go.uber.org/zap"
)

// Storage keys. All of them are written and cleared together.
const (
	KeyToken        = "token"
	KeyUser         = "user"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
)

// Medium is a durable key/value document. Write replaces the whole document
// or nothing.
type Medium interface {
	Read(ctx context.Context) (map[string]string, error)
	Write(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context) error
}

// Record is a persisted session
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         *user.Profile
}

// recordFromPair builds a record from a fresh token pair
func recordFromPair(pair *token.Pair, profile *user.Profile) *Record {
	return &Record{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         profile,
	}
}

// Store persists the session record in a Medium. A nil medium turns every
// operation into a no-op.
type Store struct {
	medium Medium
	logger *zap.Logger
}

// NewStore creates a store over medium, which may be nil
func NewStore(medium Medium, logger *zap.Logger) *Store {
	return &Store{medium: medium, logger: logger}
}

// Save writes the record in a single Medium.Write
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if s.medium == nil || rec == nil {
		return nil
	}

	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	values := map[string]string{
		KeyToken: rec.AccessToken,
		KeyUser:  string(userJSON),
	}
	if rec.RefreshToken != "" {
		values[KeyRefreshToken] = rec.RefreshToken
	}
	if !rec.ExpiresAt.IsZero() {
		values[KeyExpiresAt] = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if err := s.medium.Write(ctx, values); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Load reads the stored record. It returns nil when nothing usable is stored:
// a document missing either the token or the user is treated as empty.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	if s.medium == nil {
		return nil, nil
	}

	values, err := s.medium.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	accessToken, rawUser := values[KeyToken], values[KeyUser]
	if accessToken == "" || rawUser == "" {
		return nil, nil
	}

	var profile user.Profile
	if err := json.Unmarshal([]byte(rawUser), &profile); err != nil || profile.ID == "" {
		s.logger.Warn("discarding unreadable stored user", zap.Error(err))
		return nil, nil
	}

	rec := &Record{
		AccessToken:  accessToken,
		RefreshToken: values[KeyRefreshToken],
		User:         &profile,
	}
	if raw := values[KeyExpiresAt]; raw != "" {
		if exp, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.ExpiresAt = exp
		}
	}
	return rec, nil
}

// Clear removes every key
func (s *Store) Clear(ctx context.Context) error {
	if s.medium == nil {
		return nil
	}
	if err := s.medium.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
