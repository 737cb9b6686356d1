package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 多副本部署时，同一实体（账户、卡、交易流程）的命令可能落到不同进程，
// 用 Redis 锁保证同一实体同一时刻只有一个写者。
//
// 加锁：SET key value NX PX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 设置过期时间（持有者崩溃时锁自动释放）
//   - value: 持有者标识，释放时校验，防止误删别人的锁
//
// 释放锁：Lua 脚本保证"检查 + 删除"原子执行
//
// ============================================================================

var ErrLockFailed = errors.New("acquire distributed lock failed")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// RedisLocker 以实体 key 为粒度的 Redis 锁
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, prefix string, expiration time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		expiration:    expiration,
		retryInterval: 20 * time.Millisecond,
		maxRetries:    int(expiration / (20 * time.Millisecond)),
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(r.client, r.prefix+":lock:"+key, uuid.NewString(), r.expiration)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}, nil
}
