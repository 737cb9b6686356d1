package model

import (
	"time"
)

// 实体类型，对应事件日志中的一条独立事件流
const (
	EntityTypeAccount     = "account"
	EntityTypeCard        = "card"
	EntityTypeTransaction = "transaction"
)

// Event 领域事件
type Event interface {
	EventType() string
}

// EventRecord 事件日志表
//
// 只追加，不修改，不删除。
// (entity_type, entity_id, seq) 唯一，保证同一实体的事件全序；
// 自增 ID 即全局位置，投影按 ID 顺序消费。
type EventRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`
	EntityType string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_entity_seq,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_entity_seq,priority:2" json:"entity_id"`
	Seq        int64     `gorm:"not null;uniqueIndex:uk_entity_seq,priority:3" json:"seq"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (EventRecord) TableName() string {
	return "event_journal"
}

// ProjectionOffset 投影消费位置
type ProjectionOffset struct {
	Name      string    `gorm:"type:varchar(64);primaryKey" json:"name"`
	Position  int64     `gorm:"not null;default:0" json:"position"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProjectionOffset) TableName() string {
	return "projection_offset"
}
