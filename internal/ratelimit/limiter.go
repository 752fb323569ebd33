package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status describes whether a login attempt may proceed
type Status struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter throttles failed logins per email and client address using Redis
type Limiter struct {
	client          redis.Cmdable
	window          time.Duration // Time window for counting failures
	maxAttempts     int           // Failures allowed in window before lockout
	lockoutDuration time.Duration // How long to block after exceeding limit
}

// NewLimiter creates a new rate limiter
func NewLimiter(client redis.Cmdable, window time.Duration, maxAttempts int, lockoutDuration time.Duration) *Limiter {
	return &Limiter{
		client:          client,
		window:          window,
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
	}
}

func subject(email, ipAddress string) string {
	return ipAddress + ":" + strings.ToLower(email)
}

// attemptKey returns the Redis key counting failures
func attemptKey(email, ipAddress string) string {
	return "ratelimit:login:" + subject(email, ipAddress)
}

// lockoutKey returns the Redis key marking a lockout
func lockoutKey(email, ipAddress string) string {
	return "ratelimit:lockout:" + subject(email, ipAddress)
}

// Check reports whether a login attempt is allowed
func (l *Limiter) Check(ctx context.Context, email, ipAddress string) (Status, error) {
	var ttlCmd *redis.DurationCmd
	var countCmd *redis.StringCmd
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ttlCmd = pipe.TTL(ctx, lockoutKey(email, ipAddress))
		countCmd = pipe.Get(ctx, attemptKey(email, ipAddress))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("failed to read login attempts: %w", err)
	}

	if ttl := ttlCmd.Val(); ttl > 0 {
		return Status{RetryAfter: ttl}, nil
	}

	count, err := countCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("failed to parse attempt count: %w", err)
	}

	return Status{Allowed: true, Remaining: l.maxAttempts - count}, nil
}

// RecordFailure counts a failed attempt and starts a lockout once the limit
// is reached
func (l *Limiter) RecordFailure(ctx context.Context, email, ipAddress string) error {
	key := attemptKey(email, ipAddress)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if incr.Val() < int64(l.maxAttempts) {
		return nil
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockoutKey(email, ipAddress), "1", l.lockoutDuration)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to start lockout: %w", err)
	}

	return nil
}

// Reset clears the failure counter after a successful login
func (l *Limiter) Reset(ctx context.Context, email, ipAddress string) error {
	if err := l.client.Del(ctx, attemptKey(email, ipAddress)).Err(); err != nil {
		return fmt.Errorf("failed to clear attempt counter: %w", err)
	}

	return nil
}

// ClearLockout manually clears a lockout and its counter
func (l *Limiter) ClearLockout(ctx context.Context, email, ipAddress string) error {
	if err := l.client.Del(ctx, lockoutKey(email, ipAddress), attemptKey(email, ipAddress)).Err(); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}

	return nil
}
