package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/yeremiapane/table-service/utils"
)

// unlockScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by someone else is left alone.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a SETNX lock shared by every process using the same Redis.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		Client: client,
		TTL:    10 * time.Second,
		Retry:  25 * time.Millisecond,
		Prefix: "table_lock:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", redisKey, err)
		}
		if ok {
			return func() {
				if err := unlockScript.Run(context.Background(), l.Client, []string{redisKey}, token).Err(); err != nil {
					utils.ErrorLogger.WithField("key", redisKey).Errorf("failed to release lock: %v", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}
}
