package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/domain"
)

const (
	DefaultRedisLockTTL        = 30 * time.Second
	DefaultRedisLockRetryDelay = 100 * time.Millisecond

	// maxLockTries bounds acquisition attempts; ctx usually ends the wait first.
	maxLockTries = 1000

	releaseTimeout = 5 * time.Second
)

// RedisConfig configures the distributed lock.
type RedisConfig struct {
	// TTL is the lease of one lock. A held lock is extended every TTL/3 until
	// released, so a crashed holder frees it after at most TTL.
	TTL        time.Duration
	RetryDelay time.Duration
	Prefix     string
	Logger     zerolog.Logger
}

// Redis is a distributed keyed lock using the RedLock algorithm.
type Redis struct {
	rs     *redsync.Redsync
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedis creates a distributed lock on client.
func NewRedis(client goredislib.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRedisLockRetryDelay
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ledgerbridge:"
	}

	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Lock blocks until key is acquired or ctx is done. The lease is renewed in
// the background until the returned func is called.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(
		r.cfg.Prefix+key,
		redsync.WithExpiry(r.cfg.TTL),
		redsync.WithTries(maxLockTries),
		redsync.WithRetryDelay(r.cfg.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLockNotAcquired, ctx.Err())
		}
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, key)
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	r.logger.Debug().Str("lock_key", key).Msg("lock acquired")

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go r.extend(mutex, key, stop, stopped)

	var once sync.Once
	return func() { once.Do(func() { r.release(mutex, key, stop, stopped) }) }, nil
}

func (r *Redis) release(mutex *redsync.Mutex, key string, stop chan struct{}, stopped <-chan struct{}) {
	close(stop)
	<-stopped

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
		r.logger.Warn().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("failed to release lock")
		return
	}
	r.logger.Debug().Str("lock_key", key).Msg("lock released")
}

func (r *Redis) extend(mutex *redsync.Mutex, key string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL/3)
			ok, err := mutex.ExtendContext(ctx)
			cancel()
			if !ok || err != nil {
				r.logger.Error().Err(err).Str("lock_key", key).Msg("failed to extend lock lease")
			}
		}
	}
}
