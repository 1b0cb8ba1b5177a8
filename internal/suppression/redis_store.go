package suppression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares suppression state between replicas. Content keys use
// SET NX with a TTL and hold the id of the first event that carried the
// content; frequency windows are sorted sets of event ids scored by unix
// nanoseconds and updated in one MULTI transaction.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) RememberContent(ctx context.Context, key, owner string, _ time.Time, retention time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, key, owner, retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	if stored {
		return false, nil
	}

	holder, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls; nobody holds the content now
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis GET failed: %w", err)
	}
	return holder != owner, nil
}

func (r *RedisStore) CountOccurrence(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error) {
	score := float64(now.UnixNano())
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis frequency window update failed: %w", err)
	}
	return int(card.Val()), nil
}

func (r *RedisStore) Name() string {
	return "redis"
}
