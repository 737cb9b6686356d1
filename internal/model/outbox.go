package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 发件箱表，与实体事件在同一个数据库事务中写入
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// 跨服务发布的账户事件类型
const (
	PublicEventAccountCreated     = "created"
	PublicEventAuthorisationAdded = "authorisation-added"
	PublicEventCaptureAdded       = "capture-added"
	PublicEventCancelAdded        = "cancel-added"
)

// PublicAccountEvent 账户服务对外发布的事件，Kafka 消息体
type PublicAccountEvent struct {
	EventID        string `json:"event_id"`
	Type           string `json:"type"`
	AccountID      string `json:"account_id"`
	InitialBalance int64  `json:"initial_balance,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	AuthCode       string `json:"auth_code,omitempty"`
}

// NewPublicAccountEvent 把内部账户事件转换为对外事件
func NewPublicAccountEvent(eventID, accountID string, event Event) (PublicAccountEvent, bool) {
	pub := PublicAccountEvent{EventID: eventID, AccountID: accountID}
	switch e := event.(type) {
	case AccountCreated:
		pub.Type = PublicEventAccountCreated
		pub.InitialBalance = e.InitialBalance
	case TransAuthorisationAdded:
		pub.Type = PublicEventAuthorisationAdded
		pub.TransactionID = e.TransactionID
		pub.Amount = e.Amount
		pub.AuthCode = e.AuthCode
	case TransCaptureAdded:
		pub.Type = PublicEventCaptureAdded
		pub.TransactionID = e.TransactionID
		pub.Amount = e.Amount
	case TransCancelAdded:
		pub.Type = PublicEventCancelAdded
		pub.TransactionID = e.TransactionID
		pub.Amount = e.Amount
	default:
		return PublicAccountEvent{}, false
	}
	return pub, true
}
