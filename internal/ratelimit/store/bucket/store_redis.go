package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"certisure/internal/ratelimit/models"
)

// KeyPrefix namespaces limiter keys in Redis.
const KeyPrefix = "certisure:ratelimit:"

// RedisBucketStore keeps each sliding window in a sorted set scored by
// admission time in milliseconds, so every replica sees the same counts.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// slidingWindowScript trims, counts and conditionally records in one step.
// KEYS[1] = window key
// ARGV[1] = cutoff in unix ms; entries at or before it are dropped
// ARGV[2] = limit
// ARGV[3] = now in unix ms
// ARGV[4] = member for this request
// ARGV[5] = window in ms
// Returns {admitted, count before admission, oldest score or -1}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[1])
local count = redis.call("ZCARD", key)
local admitted = 0
if count < tonumber(ARGV[2]) then
    redis.call("ZADD", key, ARGV[3], ARGV[4])
    redis.call("PEXPIRE", key, ARGV[5])
    admitted = 1
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local score = -1
if oldest[2] then
    score = tonumber(oldest[2])
end
return {admitted, count, score}
`)

// Allow trims the window, counts it and, if below limit, records this request.
// All three steps run inside one script so concurrent callers cannot both
// take the last slot.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	redisKey := KeyPrefix + key
	now := s.now()
	cutoff := now.Add(-window).UnixMilli()

	out, err := slidingWindowScript.Run(ctx, s.client, []string{redisKey},
		cutoff, limit, now.UnixMilli(), uuid.NewString(), window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis allow: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("ratelimit: redis allow: unexpected reply length %d", len(out))
	}
	admitted, count, oldest := out[0] == 1, out[1], out[2]

	resetAt := now.Add(window)
	if oldest >= 0 {
		resetAt = time.UnixMilli(oldest).Add(window)
	}
	if admitted {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(count) - 1,
			ResetAt:   resetAt,
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

// Reset clears the rate limit counter for a key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, KeyPrefix+key).Err()
}
