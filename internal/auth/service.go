package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/ratelimit"
	"github.com/jobportal/identity/internal/token"
	"github.com/jobportal/identity/internal/user"
	apperrors "github.com/jobportal/identity/pkg/errors"
	"go.uber.org/zap"
)

// Users is the persistence the service needs
type Users interface {
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	FindByID(ctx context.Context, id string) (*user.User, error)
	Create(ctx context.Context, usr *user.User) error
	UpdateLastLoggedOn(ctx context.Context, userID string) error
	RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error
}

// RateLimiter throttles failed logins
type RateLimiter interface {
	Check(ctx context.Context, email, ipAddress string) (ratelimit.Status, error)
	RecordFailure(ctx context.Context, email, ipAddress string) error
	Reset(ctx context.Context, email, ipAddress string) error
}

// RefreshLedger tracks consumed refresh tokens
type RefreshLedger interface {
	Consume(ctx context.Context, tokenID string, expiry time.Time) error
}

// Service handles authentication business logic
type Service struct {
	users   Users
	codec   *token.Codec
	ledger  RefreshLedger
	limiter RateLimiter
	logger  *zap.Logger
}

// NewService creates a new authentication service. limiter may be nil.
func NewService(users Users, codec *token.Codec, ledger RefreshLedger, limiter RateLimiter, logger *zap.Logger) *Service {
	return &Service{
		users:   users,
		codec:   codec,
		ledger:  ledger,
		limiter: limiter,
		logger:  logger,
	}
}

// AuthResponse is returned by login, register and refresh
type AuthResponse struct {
	Token *token.Pair   `json:"token"`
	User  *user.Profile `json:"user"`
}

// Login authenticates with email and password
func (s *Service) Login(ctx context.Context, req LoginRequest, ipAddress string) (*AuthResponse, error) {
	email := SanitizeEmail(req.Email)

	if s.limiter != nil {
		status, err := s.limiter.Check(ctx, email, ipAddress)
		if err != nil {
			// Don't fail login when redis is unhealthy
			s.logger.Warn("rate limiter check failed", zap.Error(err))
		} else if !status.Allowed {
			s.logger.Info("login locked out",
				zap.String("email", email),
				zap.Duration("retry_after", status.RetryAfter.Round(time.Second)),
			)
			return nil, apperrors.ErrRateLimitExceeded
		}
	}

	usr, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if usr == nil {
		s.recordFailure(ctx, email, ipAddress)
		return nil, apperrors.ErrInvalidCredentials
	}

	if err := VerifyPassword(req.Password, usr.PasswordDigest); err != nil {
		if !errors.Is(err, errPasswordMismatch) {
			s.logger.Error("password verification failed", zap.String("user_id", usr.ID), zap.Error(err))
		}
		s.recordFailure(ctx, email, ipAddress)
		return nil, apperrors.ErrInvalidCredentials
	}

	if err := s.users.RecordLoginAttempt(ctx, email, ipAddress, true); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, email, ipAddress); err != nil {
			s.logger.Warn("failed to reset rate limiter", zap.Error(err))
		}
	}
	if err := s.users.UpdateLastLoggedOn(ctx, usr.ID); err != nil {
		s.logger.Warn("failed to update last_logged_on", zap.String("user_id", usr.ID), zap.Error(err))
	}

	return s.grant(usr)
}

func (s *Service) recordFailure(ctx context.Context, email, ipAddress string) {
	if err := s.users.RecordLoginAttempt(ctx, email, ipAddress, false); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
	if s.limiter != nil {
		if err := s.limiter.RecordFailure(ctx, email, ipAddress); err != nil {
			s.logger.Warn("failed to record failed attempt", zap.Error(err))
		}
	}
}

// Register creates an account and signs it in
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	req.Email = SanitizeEmail(req.Email)
	if err := Validate(&req); err != nil {
		return nil, err
	}

	role, err := guard.ParseRole(req.Role)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"role": err.Error()}}
	}

	digest, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	usr := &user.User{
		Name:           req.Name,
		Email:          req.Email,
		PasswordDigest: digest,
		Role:           role,
	}
	if err := s.users.Create(ctx, usr); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", usr.ID), zap.String("role", string(role)))

	return s.grant(usr)
}

// Refresh rotates a refresh token into a new pair. Each refresh token is
// accepted once; the role is reloaded so role changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.String("reason", token.FailureKind(err)), zap.Error(err))
		return nil, apperrors.ErrInvalidToken
	}

	if err := s.ledger.Consume(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, token.ErrRefreshReused) {
			s.logger.Warn("refresh token reuse detected", zap.String("user_id", claims.Subject), zap.String("jti", claims.ID))
			return nil, apperrors.ErrTokenReused
		}
		return nil, err
	}

	usr, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if usr == nil {
		return nil, apperrors.ErrInvalidToken
	}

	return s.grant(usr)
}

// Logout revokes a refresh token. An already invalid token logs out
// successfully.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		jti, _ := token.ExtractTokenID(refreshToken)
		s.logger.Debug("logout with unusable refresh token",
			zap.String("jti", jti),
			zap.String("reason", token.FailureKind(err)),
		)
		return nil
	}

	err = s.ledger.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil && !errors.Is(err, token.ErrRefreshReused) {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

// Authenticate verifies an access token. It is stateless.
func (s *Service) Authenticate(accessToken string) (*token.Claims, error) {
	return s.codec.Verify(accessToken, token.KindAccess)
}

// CurrentUser loads the profile for verified claims
func (s *Service) CurrentUser(ctx context.Context, claims *token.Claims) (*user.Profile, error) {
	usr, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if usr == nil {
		return nil, apperrors.ErrUserNotFound
	}

	return usr.Profile(), nil
}

func (s *Service) grant(usr *user.User) (*AuthResponse, error) {
	pair, err := s.codec.IssuePair(usr.ID, usr.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &AuthResponse{
		Token: pair,
		User:  usr.Profile(),
	}, nil
}
