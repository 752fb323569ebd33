package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records consumed refresh tokens so each one rotates exactly once.
// Access tokens never touch it.
type Ledger struct {
	client redis.Cmdable
}

// NewLedger creates a refresh rotation ledger
func NewLedger(client redis.Cmdable) *Ledger {
	return &Ledger{client: client}
}

func ledgerKey(tokenID string) string {
	return fmt.Sprintf("refresh:consumed:%s", tokenID)
}

// Consume marks a refresh token id as used. It fails with ErrRefreshReused
// when the id was already consumed.
func (l *Ledger) Consume(ctx context.Context, tokenID string, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		// Already past expiry; verification rejects it anyway
		return nil
	}

	ok, err := l.client.SetNX(ctx, ledgerKey(tokenID), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !ok {
		return ErrRefreshReused
	}

	return nil
}
