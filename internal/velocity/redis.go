package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/sentinel/internal/idgen"
)

// DefaultKeyPrefix namespaces velocity keys in a shared Redis.
const DefaultKeyPrefix = "sentinel:velocity:"

// RedisStore keeps each user's window as a sorted set scored by
// microsecond timestamps, so every replica sees the same counts.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) RecordAndCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	key := s.prefix + userID
	cutoff := now.Add(-window).UnixMicro()

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixMicro()),
			Member: idgen.Hex(8),
		})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(card.Val()), nil
}

// PingContext lets the store act as a health.Pinger.
func (s *RedisStore) PingContext(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
