package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "interview:lock:"

// DefaultLockTTL outlives the longest turn the HTTP layer allows.
const DefaultLockTTL = 2 * time.Minute

var errLockHeld = errors.New("session lock held")

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements domain.SessionLocker with SET NX PX keys, so replicas
// sharing one Redis take turns on a session. A holder that dies frees the
// session once ttl passes.
type Locker struct {
	rdb redis.Cmdable
	ttl time.Duration
	backoff func() backoff.BackOff
}

// NewLocker builds a Locker; ttl <= 0 uses DefaultLockTTL.
func NewLocker(rdb redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{
		rdb: rdb,
		ttl: ttl,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Lock implements domain.SessionLocker. It polls until the key is free or ctx ends.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	k := lockPrefix + id
	token := uuid.NewString()
	acquire := func() error {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(l.backoff(), ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("op=redisstore.Lock: %w", err)
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
			slog.WarnContext(ctx, "session lock release failed", slog.String("session_id", id), slog.Any("error", err))
		}
	}, nil
}
