package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "safety:ratelimit:"

// slidingLog keeps accepted event times in a sorted set scored by
// milliseconds. ARGV is now, cutoff, window, limit and a unique member.
// It returns {allowed, count, oldest score}.
var slidingLog = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[5])
	redis.call('PEXPIRE', key, ARGV[3])
	allowed = 1
end
count = count + 1

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Redis is a limiter shared by every instance using the same Redis. The
// check and the insert run in one script so concurrent senders cannot both
// take the last slot. Event times come from the caller's clock.
type Redis struct {
	cfg    Config
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	return &Redis{cfg: cfg, client: client, now: time.Now}
}

// Allow counts one event for key.
func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now().UnixMilli()
	window := r.cfg.Window.Milliseconds()

	vals, err := slidingLog.Run(ctx, r.client,
		[]string{redisPrefix + key},
		now, now-window, window, r.cfg.Limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit %s: unexpected reply %v", key, vals)
	}

	reset := time.UnixMilli(vals[2]).Add(r.cfg.Window)
	res := r.cfg.result(int(vals[1]), reset)
	res.Allowed = vals[0] == 1
	return res, nil
}
