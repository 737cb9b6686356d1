package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardpay/internal/model"

	"gorm.io/gorm"
)

type JournalRepository struct {
	db *gorm.DB
	// 追加事务的最长时间，需小于投影的可见延迟，否则投影可能越过未提交的事件
	appendTimeout time.Duration
}

func NewJournalRepository(db *gorm.DB, appendTimeout time.Duration) *JournalRepository {
	return &JournalRepository{db: db, appendTimeout: appendTimeout}
}

func (r *JournalRepository) Load(ctx context.Context, entityType, entityID string) ([]model.EventRecord, error) {
	var records []model.EventRecord
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("seq ASC").
		Find(&records).Error
	return records, err
}

// Append 在一个事务内追加事件和发件箱消息
//
// 先比较当前最大序号与期望序号；两个写者同时通过检查时，
// (entity_type, entity_id, seq) 唯一索引会让后提交的一方失败。
func (r *JournalRepository) Append(ctx context.Context, req AppendRequest) error {
	if r.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.appendTimeout)
		defer cancel()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&model.EventRecord{}).
			Where("entity_type = ? AND entity_id = ?", req.EntityType, req.EntityID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&current).Error; err != nil {
			return fmt.Errorf("read stream head: %w", err)
		}
		if current != req.ExpectedSeq {
			return ErrConcurrentAppend
		}

		for i := range req.Events {
			rec := req.Events[i]
			rec.EntityType = req.EntityType
			rec.EntityID = req.EntityID
			rec.Seq = req.ExpectedSeq + int64(i) + 1
			if err := tx.Create(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConcurrentAppend
				}
				return fmt.Errorf("append event: %w", err)
			}
		}

		for i := range req.Outbox {
			if err := tx.Create(&req.Outbox[i]).Error; err != nil {
				return fmt.Errorf("write outbox: %w", err)
			}
		}
		return nil
	})
	return err
}

func (r *JournalRepository) ReadAfter(ctx context.Context, entityType string, position int64, visibleBefore time.Time, limit int) ([]model.EventRecord, error) {
	var records []model.EventRecord
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND id > ?", entityType, position).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return visiblePrefix(records, visibleBefore), nil
}

// visiblePrefix 截断到第一条写入时间晚于 visibleBefore 的事件之前
func visiblePrefix(records []model.EventRecord, visibleBefore time.Time) []model.EventRecord {
	for i, rec := range records {
		if rec.CreatedAt.After(visibleBefore) {
			return records[:i]
		}
	}
	return records
}
