// Package memory 提供进程内的存储实现，用于单机运行和测试。
package memory

import (
	"context"
	"sync"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

type streamKey struct {
	entityType string
	entityID   string
}

// Journal 内存事件日志。传入 Outbox 时，发件箱消息与事件在同一把锁内写入。
type Journal struct {
	mu      sync.RWMutex
	records []model.EventRecord
	streams map[streamKey][]int
	outbox  *Outbox
	now     func() time.Time
}

func NewJournal(outbox *Outbox) *Journal {
	return &Journal{
		streams: make(map[streamKey][]int),
		outbox:  outbox,
		now:     time.Now,
	}
}

func (j *Journal) Load(_ context.Context, entityType, entityID string) ([]model.EventRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	idx := j.streams[streamKey{entityType, entityID}]
	out := make([]model.EventRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, j.records[i])
	}
	return out, nil
}

func (j *Journal) Append(_ context.Context, req repository.AppendRequest) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := streamKey{req.EntityType, req.EntityID}
	if int64(len(j.streams[key])) != req.ExpectedSeq {
		return repository.ErrConcurrentAppend
	}

	now := j.now()
	for i, rec := range req.Events {
		rec.ID = int64(len(j.records)) + 1
		rec.EntityType = req.EntityType
		rec.EntityID = req.EntityID
		rec.Seq = req.ExpectedSeq + int64(i) + 1
		rec.CreatedAt = now
		j.records = append(j.records, rec)
		j.streams[key] = append(j.streams[key], len(j.records)-1)
	}

	if j.outbox != nil {
		for _, msg := range req.Outbox {
			j.outbox.add(msg)
		}
	}
	return nil
}

func (j *Journal) ReadAfter(_ context.Context, entityType string, position int64, visibleBefore time.Time, limit int) ([]model.EventRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []model.EventRecord
	for i := int(position); i < len(j.records) && len(out) < limit; i++ {
		rec := j.records[i]
		if rec.EntityType != entityType {
			continue
		}
		if rec.CreatedAt.After(visibleBefore) {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ repository.Journal = (*Journal)(nil)
