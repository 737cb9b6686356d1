package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 消费端收件箱：记录已经成功处理的事件 ID，重复投递时直接跳过
// ============================================================================

type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type RedisInbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisInbox(client *redis.Client, prefix string, ttl time.Duration) *RedisInbox {
	return &RedisInbox{client: client, prefix: prefix, ttl: ttl}
}

func (i *RedisInbox) key(eventID string) string {
	return i.prefix + ":inbox:" + eventID
}

func (i *RedisInbox) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := i.client.Exists(ctx, i.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (i *RedisInbox) Mark(ctx context.Context, eventID string) error {
	return i.client.SetNX(ctx, i.key(eventID), 1, i.ttl).Err()
}

// MemoryInbox 进程内收件箱，不过期
type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: make(map[string]struct{})}
}

func (i *MemoryInbox) Seen(_ context.Context, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[eventID]
	return ok, nil
}

func (i *MemoryInbox) Mark(_ context.Context, eventID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[eventID] = struct{}{}
	return nil
}

var (
	_ Inbox = (*RedisInbox)(nil)
	_ Inbox = (*MemoryInbox)(nil)
)
