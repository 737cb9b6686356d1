package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/model"
	"cardpay/internal/repository"
	"cardpay/pkg/idgen"
)

const maxAppendAttempts = 3

type decodeFunc func(eventType, payload string) (model.Event, error)

// outboxFunc 为新追加的事件生成需要跨服务发布的消息
type outboxFunc func(entityID string, records []model.EventRecord, events []model.Event) ([]model.OutboxMessage, error)

// eventSourced 事件溯源实体的通用运行时
//
// 同一实体的命令在实体锁内串行执行：回放事件 -> 决策 -> 追加。
// 状态只由事件折叠得到，不单独存储。
type eventSourced[S any] struct {
	journal    repository.Journal
	locker     lock.Locker
	entityType string
	decode     decodeFunc
	apply      func(S, model.Event) S
	outbox     outboxFunc
}

func (e *eventSourced[S]) load(ctx context.Context, id string) (S, int64, error) {
	var state S
	records, err := e.journal.Load(ctx, e.entityType, id)
	if err != nil {
		return state, 0, fmt.Errorf("load %s %s: %w", e.entityType, id, err)
	}
	for _, rec := range records {
		event, err := e.decode(rec.EventType, rec.Payload)
		if err != nil {
			return state, 0, err
		}
		state = e.apply(state, event)
	}
	return state, int64(len(records)), nil
}

func (e *eventSourced[S]) persist(ctx context.Context, id string, seq int64, events []model.Event) error {
	records := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.EventType(), err)
		}
		records = append(records, model.EventRecord{
			EventID:   idgen.GenerateEventID(),
			EventType: ev.EventType(),
			Payload:   string(payload),
		})
	}

	req := repository.AppendRequest{
		EntityType:  e.entityType,
		EntityID:    id,
		ExpectedSeq: seq,
		Events:      records,
	}
	if e.outbox != nil {
		msgs, err := e.outbox(id, records, events)
		if err != nil {
			return err
		}
		req.Outbox = msgs
	}
	return e.journal.Append(ctx, req)
}

func (e *eventSourced[S]) lockKey(id string) string {
	return e.entityType + ":" + id
}

// appendAt 在实体锁内以给定序号追加；序号已过期时返回 false
func (e *eventSourced[S]) appendAt(ctx context.Context, id string, seq int64, events ...model.Event) (bool, error) {
	unlock, err := e.locker.Lock(ctx, e.lockKey(id))
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", e.lockKey(id), err)
	}
	defer unlock()

	err = e.persist(ctx, id, seq, events)
	if errors.Is(err, repository.ErrConcurrentAppend) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// execute 执行一条实体命令。decide 不产生事件时不写日志，直接返回应答。
func execute[S any, R any](ctx context.Context, e *eventSourced[S], id string, decide func(S) (R, []model.Event)) (R, S, error) {
	var (
		zeroReply R
		zeroState S
	)

	unlock, err := e.locker.Lock(ctx, e.lockKey(id))
	if err != nil {
		return zeroReply, zeroState, fmt.Errorf("lock %s: %w", e.lockKey(id), err)
	}
	defer unlock()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		state, seq, err := e.load(ctx, id)
		if err != nil {
			return zeroReply, zeroState, err
		}

		reply, events := decide(state)
		if len(events) == 0 {
			return reply, state, nil
		}

		err = e.persist(ctx, id, seq, events)
		if errors.Is(err, repository.ErrConcurrentAppend) {
			// 另一个进程抢先写入（本地锁之外的写者），重新回放后再决策
			continue
		}
		if err != nil {
			return zeroReply, zeroState, err
		}

		for _, ev := range events {
			state = e.apply(state, ev)
		}
		return reply, state, nil
	}
	return zeroReply, zeroState, ErrEntityBusy
}
