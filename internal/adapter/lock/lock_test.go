package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase"
)

var (
	_ usecase.AccountLocker = (*Local)(nil)
	_ usecase.AccountLocker = (*Redis)(nil)
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client, RedisConfig{
		TTL:        time.Second,
		RetryDelay: 5 * time.Millisecond,
		Logger:     zerolog.Nop(),
	}), mr
}

// exercise runs n goroutines that each take key and bump a counter, and
// reports the largest number of holders seen at once.
func exercise(t *testing.T, locker usecase.AccountLocker, key string, n int) int32 {
	t.Helper()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			unlock, err := locker.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			now := inside.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	return peak.Load()
}

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	assert.Equal(t, int32(1), exercise(t, l, "xfer-lock:BANK:ada@example.com", 8))
	assert.Equal(t, 0, l.Held())
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Held())

	unlockA()
	unlockA()
	unlockB()
	assert.Equal(t, 0, l.Held())
}

func TestLocal_GivesUpWhenContextEnds(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
}

func TestRedis_SerializesSameKey(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.Equal(t, int32(1), exercise(t, r, "xfer-lock:BROKERAGE:ada@example.com", 4))
}

func TestRedis_ReleaseFreesKey(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledgerbridge:k"))

	unlock()
	assert.False(t, mr.Exists("ledgerbridge:k"))

	unlock, err = r.Lock(ctx, "k")
	require.NoError(t, err)
	unlock()
}

func TestRedis_GivesUpWhenContextEnds(t *testing.T) {
	r, _ := newTestRedis(t)
	unlock, err := r.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = r.Lock(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
}
