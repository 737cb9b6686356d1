package model

import (
	"time"
)

const TimerKindAutoCancel = "auto-cancel"

// Timer 一次性定时器，按名称唯一，可按名称取消
type Timer struct {
	Name      string    `gorm:"type:varchar(160);primaryKey" json:"name"`
	Kind      string    `gorm:"type:varchar(32);not null" json:"kind"`
	EntityKey string    `gorm:"type:varchar(128);not null" json:"entity_key"`
	FireAt    time.Time `gorm:"index;not null" json:"fire_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Timer) TableName() string {
	return "timer"
}

func AutoCancelTimerName(idempotencyKey string) string {
	return TimerKindAutoCancel + "-" + idempotencyKey
}
