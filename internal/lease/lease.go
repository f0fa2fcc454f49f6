// Package lease provides a Redis lease that lets only one notifier replica
// run a given periodic tick.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultKey = "reminder-scheduler:run-lease"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Client is the subset of *redis.Client the lease needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisLease struct {
	client Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease for ttl. ok is false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back if token still owns it. An expired lease is
// not an error.
func (l *RedisLease) Release(ctx context.Context, token string) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		log.Warn().Str("key", l.key).Msg("Lease expired before release")
	}
	return nil
}

// Do runs fn while holding the lease. It reports false without calling fn
// when the lease is held elsewhere.
func (l *RedisLease) Do(ctx context.Context, fn func(context.Context) error) (bool, error) {
	token, ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx), token); err != nil {
			log.Error().Err(err).Msg("Failed to release lease")
		}
	}()
	return true, fn(ctx)
}
