package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrLockNotAcquired = errors.New("claim lock not acquired")

	errLockBackend = errors.New("claim lock backend unavailable")
)

const lockPollInterval = 25 * time.Millisecond

// Locker serializes booking attempts for one (doctor, start) key across
// processes. It sits in front of the database row lock; it does not replace it.
type Locker interface {
	WithClaimLock(ctx context.Context, doctorID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error
}

type redisClaimLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    zerolog.Logger
}

// NewRedisClaimLocker creates a locker that uses a per (doctor, start) Redis key.
// A contender polls for up to wait before giving up with ErrLockNotAcquired.
// When Redis cannot be reached, fn runs without the key and the database
// row lock alone decides the claim.
func NewRedisClaimLocker(client *redis.Client, ttl, wait time.Duration, log zerolog.Logger) Locker {
	return &redisClaimLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		log:    log.With().Str("component", "claim_lock").Logger(),
	}
}

func ClaimKey(doctorID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("lock:claim:%s:%d", doctorID.String(), start.UTC().Unix())
}

func (l *redisClaimLocker) WithClaimLock(ctx context.Context, doctorID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error {
	key := ClaimKey(doctorID, start)
	token := uuid.NewString()

	held := true
	if err := l.acquire(ctx, key, token); err != nil {
		if !errors.Is(err, errLockBackend) {
			return err
		}
		l.log.Warn().Err(err).Str("key", key).Msg("claiming without redis lock")
		held = false
	}

	if held {
		defer func() {
			_ = l.release(context.WithoutCancel(ctx), key, token)
		}()
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisClaimLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", errLockBackend, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisClaimLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release claim lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when Redis is disabled; the database row
// lock still guarantees a single claim.
type NoopLocker struct{}

func (NoopLocker) WithClaimLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
