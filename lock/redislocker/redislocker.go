// Package redislocker implements ledger.Locker on Redis, for deployments where
// several server processes write to the same database.
package redislocker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/ledger"
)

// ErrBusy is returned when a key stays held by another writer past the wait.
var ErrBusy = fmt.Errorf("redis lock: %w", ledger.ErrLockBusy)

// Locker obtains one Redis lock per key, in the caller's (sorted) order.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	prefix string
	log    zerolog.Logger
}

type Option func(*Locker)

// WithRetry sets how long Acquire keeps trying a held key.
func WithRetry(backoff time.Duration, attempts int) Option {
	return func(l *Locker) {
		l.retry = redislock.LimitRetry(redislock.LinearBackoff(backoff), attempts)
	}
}

func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Locker) { l.log = log }
}

// New wraps rdb. ttl bounds how long a crashed holder blocks others.
func New(rdb redis.UniversalClient, ttl time.Duration, opts ...Option) *Locker {
	l := &Locker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
		prefix: "ledger:lock:",
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ ledger.Locker = (*Locker)(nil)

// Acquire obtains every key or none.
func (l *Locker) Acquire(ctx context.Context, keys []string) (func(), error) {
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.Warn().Err(err).Str("key", held[i].Key()).Msg("failed to release lock")
			}
		}
	}

	for _, key := range keys {
		lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%s: %w", key, ErrBusy)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lock)
	}
	return release, nil
}
