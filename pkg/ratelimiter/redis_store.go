package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors MemoryStore.Take. Times are unix milliseconds.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refilled')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
  tokens = capacity
  refilled = now
end

local intervals = math.floor((now - refilled) / interval)
if intervals > 0 then
  tokens = math.min(tokens + intervals * rate, capacity)
  refilled = refilled + intervals * interval
end

local remaining = tokens - cost
if remaining >= 0 then
  tokens = remaining
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled', refilled)
redis.call('PEXPIRE', KEYS[1], ttl)
return {remaining, refilled + interval}
`)

// RedisStore keeps buckets in Redis so every instance shares them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces bucket keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "verdict", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string { return s.prefix + ":rl:" + k }

func (s *RedisStore) Take(ctx context.Context, key string, tokens int, cfg Config) (Result, error) {
	now := s.now()
	res, err := takeScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		now.UnixMilli(),
		tokens,
		cfg.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Result{}, errors.Join(ErrStoreUnavailable, errors.New("unexpected script reply"))
	}
	return Result{Remaining: int(res[0]), ResetAt: time.UnixMilli(res[1]), Now: now}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
