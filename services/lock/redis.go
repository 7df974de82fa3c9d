// Package locksvc provides a redis-backed alert.Locker, shared by every API and worker instance.
package locksvc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

var ErrNotAcquired = errors.New("lock not acquired")

// unlockScript only deletes the key when it still holds our token: an expired lock taken over
// by another owner is left alone.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	retryCount int
	logger     core.Logger
}

var _ alert.Locker = (*RedisLocker)(nil)

type Option func(*RedisLocker)

func WithTTL(ttl time.Duration) Option { return func(l *RedisLocker) { l.ttl = ttl } }
func WithRetryDelay(d time.Duration) Option { return func(l *RedisLocker) { l.retryDelay = d } }
func WithRetryCount(n int) Option { return func(l *RedisLocker) { l.retryCount = n } }
func WithPrefix(prefix string) Option { return func(l *RedisLocker) { l.prefix = prefix } }

func NewRedisLocker(client redis.UniversalClient, logger core.Logger, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:     client,
		prefix:     "tahadhari:lock:",
		ttl:        30 * time.Second,
		retryDelay: 50 * time.Millisecond,
		retryCount: 100,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewClient connects to redis and pings it.
func NewClient(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// Lock retries SetNX until the key is free, ctx is done or the retries are exhausted.
// The ttl bounds how long a crashed holder can block the key.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()

	for i := 0; i < l.retryCount; i++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "setting lock")
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	return nil, errors.Wrap(ErrNotAcquired, key)
}

func (l *RedisLocker) unlocker(key, token string) func() {
	return func() {
		// the caller's ctx may be done by now
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int64()
		if err != nil {
			l.logger.Error("releasing alert lock", err, map[string]interface{}{"key": key})
		} else if n == 0 {
			l.logger.Warn("alert lock expired before release", map[string]interface{}{"key": key})
		}
	}
}
