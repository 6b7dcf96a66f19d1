package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("lock not acquired")

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 Redis SET NX 的分布式锁，多副本下保证同一任务只跑一份
type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire 获取锁，已被占用时返回 ErrNotAcquired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release 释放锁，锁已过期或被他人持有时不做任何事
func (lk *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err()
}

func (lk *Lock) Key() string {
	return lk.key
}
