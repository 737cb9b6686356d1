package repository

import (
	"context"
	"time"

	"cardpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TimerRepository struct {
	db *gorm.DB
}

func NewTimerRepository(db *gorm.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

// Schedule 按名称覆盖写入，重复调度同名定时器只会保留最后一次
func (r *TimerRepository) Schedule(ctx context.Context, timer model.Timer) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "entity_key", "fire_at"}),
		}).
		Create(&timer).Error
}

func (r *TimerRepository) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).
		Where("name = ?", name).
		Delete(&model.Timer{}).Error
}

func (r *TimerRepository) Due(ctx context.Context, now time.Time, limit int) ([]model.Timer, error) {
	var timers []model.Timer
	err := r.db.WithContext(ctx).
		Where("fire_at <= ?", now).
		Order("fire_at ASC").
		Limit(limit).
		Find(&timers).Error
	return timers, err
}
