package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

type Outbox struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*model.OutboxMessage
}

func NewOutbox() *Outbox {
	return &Outbox{messages: make(map[int64]*model.OutboxMessage)}
}

func (o *Outbox) add(msg model.OutboxMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	msg.ID = o.nextID
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	o.messages[msg.ID] = &msg
}

func (o *Outbox) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*model.OutboxMessage
	for _, m := range o.messages {
		if m.Status == model.OutboxStatusPending {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *Outbox) UpdateStatus(_ context.Context, id int64, status string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if m, ok := o.messages[id]; ok {
		m.Status = status
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (o *Outbox) IncrementRetryCount(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if m, ok := o.messages[id]; ok {
		m.RetryCount++
	}
	return nil
}

func (o *Outbox) MarkAsFailed(_ context.Context, id int64) error {
	return o.UpdateStatus(context.Background(), id, model.OutboxStatusFailed)
}

// Messages 返回全部消息快照，按写入顺序
func (o *Outbox) Messages() []model.OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]model.OutboxMessage, 0, len(o.messages))
	for _, m := range o.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

var _ repository.OutboxStore = (*Outbox)(nil)
