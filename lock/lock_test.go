package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseMutualExclusion runs many goroutines through the same key and
// checks that no two are ever inside the critical section together.
func exerciseMutualExclusion(t *testing.T, l Locker) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		total   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "table:1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			total++
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 20, total)
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.held())
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLockerContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.held())
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLocker(client)
	l.Retry = time.Millisecond
	exerciseMutualExclusion(t, l)
}

func TestRedisLockerReleasesKey(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client)

	unlock, err := l.Lock(context.Background(), "table:9")
	require.NoError(t, err)
	assert.True(t, mr.Exists("table_lock:table:9"))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "table:9")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists("table_lock:table:9"))
}

func TestRedisLockerKeepsForeignToken(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client)

	unlock, err := l.Lock(context.Background(), "table:3")
	require.NoError(t, err)

	// simulate expiry followed by another holder taking the key
	mr.Del("table_lock:table:3")
	require.NoError(t, mr.Set("table_lock:table:3", "someone-else"))

	unlock()
	got, err := mr.Get("table_lock:table:3")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
