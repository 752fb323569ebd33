package session

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisMedium stores the document as one Redis hash
type RedisMedium struct {
	client redis.Cmdable
	key    string
}

// NewRedisMedium creates a medium over the hash at key
func NewRedisMedium(client redis.Cmdable, key string) *RedisMedium {
	return &RedisMedium{client: client, key: key}
}

func (r *RedisMedium) Read(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.key).Result()
}

// Write replaces the hash inside MULTI/EXEC
func (r *RedisMedium) Write(ctx context.Context, values map[string]string) error {
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(args) > 0 {
			pipe.HSet(ctx, r.key, args...)
		}
		return nil
	})
	return err
}

func (r *RedisMedium) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
