package repository

import (
	"context"
	"errors"
	"time"

	"cardpay/internal/model"
)

var (
	// ErrConcurrentAppend 同一实体流被并发写入，期望序号已过期
	ErrConcurrentAppend = errors.New("concurrent append to entity stream")
	ErrNotFound         = errors.New("record not found")
)

// AppendRequest 一次原子追加：实体事件 + 发件箱消息
type AppendRequest struct {
	EntityType  string
	EntityID    string
	ExpectedSeq int64
	Events      []model.EventRecord
	Outbox      []model.OutboxMessage
}

// Journal 按实体分流的事件日志
//
// ReadAfter 按全局位置返回 position 之后的事件，遇到写入时间晚于 visibleBefore 的事件即停止：
// 位置在写入时分配、在提交时才可见，较小的位置可能晚于较大的位置提交，
// 只读取足够旧的前缀，才不会越过仍未提交的事件推进消费位置。
type Journal interface {
	Load(ctx context.Context, entityType, entityID string) ([]model.EventRecord, error)
	Append(ctx context.Context, req AppendRequest) error
	ReadAfter(ctx context.Context, entityType string, position int64, visibleBefore time.Time, limit int) ([]model.EventRecord, error)
}

type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type TimerStore interface {
	Schedule(ctx context.Context, timer model.Timer) error
	Delete(ctx context.Context, name string) error
	Due(ctx context.Context, now time.Time, limit int) ([]model.Timer, error)
}

type OffsetStore interface {
	GetOffset(ctx context.Context, name string) (int64, error)
	SaveOffset(ctx context.Context, name string, position int64) error
}

type AccountCardStore interface {
	Upsert(ctx context.Context, row model.AccountCard) error
	SetActive(ctx context.Context, accountID string) error
	Get(ctx context.Context, accountID string) (*model.AccountCard, error)
}

type TransactionIndexStore interface {
	Upsert(ctx context.Context, row model.TransactionIndexRow) error
	ListByAccount(ctx context.Context, accountID string) ([]model.TransactionIndexRow, error)
	ListStale(ctx context.Context, steps []model.SagaStep, before time.Time, limit int) ([]model.TransactionIndexRow, error)
}

type AccountViewStore interface {
	Get(ctx context.Context, accountID string) (*model.AccountSummary, error)
	Upsert(ctx context.Context, row model.AccountSummary) error
	List(ctx context.Context) ([]model.AccountSummary, error)
}

type CardViewStore interface {
	Upsert(ctx context.Context, row model.CardSummary) error
	Get(ctx context.Context, pan string) (*model.CardSummary, error)
	List(ctx context.Context) ([]model.CardSummary, error)
	ListByAccount(ctx context.Context, accountID string) ([]model.CardSummary, error)
}

type ExpenditureStore interface {
	Get(ctx context.Context, accountID string) (*model.AccountExpenditure, error)
	Upsert(ctx context.Context, row model.AccountExpenditure) error
}

var (
	_ Journal               = (*JournalRepository)(nil)
	_ OutboxStore           = (*OutboxRepository)(nil)
	_ TimerStore            = (*TimerRepository)(nil)
	_ OffsetStore           = (*OffsetRepository)(nil)
	_ AccountCardStore      = (*AccountCardRepository)(nil)
	_ TransactionIndexStore = (*TransactionIndexRepository)(nil)
	_ AccountViewStore      = (*AccountViewRepository)(nil)
	_ CardViewStore         = (*CardViewRepository)(nil)
	_ ExpenditureStore      = (*ExpenditureRepository)(nil)
)
