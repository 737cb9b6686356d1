package model

import (
	"encoding/json"
	"fmt"
)

// CardState 卡状态：created -> active。Pan 为空表示卡不存在。
type CardState struct {
	Pan        string `json:"pan"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
	AccountID  string `json:"account_id"`
	Active     bool   `json:"active"`
}

func (s CardState) IsEmpty() bool {
	return s.Pan == ""
}

// Matches 卡有效期和 CVV 是否与请求一致
func (s CardState) Matches(expiryDate, cvv string) bool {
	return !s.IsEmpty() && s.ExpiryDate == expiryDate && s.CVV == cvv
}

func (s CardState) Apply(event Event) CardState {
	switch e := event.(type) {
	case CardCreated:
		return CardState{Pan: e.Pan, ExpiryDate: e.ExpiryDate, CVV: e.CVV, AccountID: e.AccountID}
	case CardActivated:
		s.Active = true
		return s
	default:
		return s
	}
}

const (
	EventCardCreated   = "CardCreated"
	EventCardActivated = "CardActivated"
)

type CardCreated struct {
	Pan        string `json:"pan"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
	AccountID  string `json:"account_id"`
}

type CardActivated struct {
	Pan       string `json:"pan"`
	AccountID string `json:"account_id"`
}

func (CardCreated) EventType() string   { return EventCardCreated }
func (CardActivated) EventType() string { return EventCardActivated }

func DecodeCardEvent(eventType, payload string) (Event, error) {
	switch eventType {
	case EventCardCreated:
		var e CardCreated
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return e, nil
	case EventCardActivated:
		var e CardActivated
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown card event type %q", eventType)
	}
}

// AccountCard 账户 -> 卡 查找表，由卡事件流维护
type AccountCard struct {
	AccountID string `gorm:"type:varchar(128);primaryKey" json:"account_id"`
	Pan       string `gorm:"type:varchar(32);not null" json:"pan"`
	Active    bool   `gorm:"not null;default:false" json:"active"`
}

func (AccountCard) TableName() string {
	return "account_card_index"
}

// CardSummary 卡列表视图，不保存 CVV
type CardSummary struct {
	Pan        string `gorm:"type:varchar(32);primaryKey" json:"pan"`
	ExpiryDate string `gorm:"type:varchar(8)" json:"expiry_date"`
	AccountID  string `gorm:"type:varchar(128);index;not null" json:"account_id"`
	Active     bool   `gorm:"not null;default:false" json:"active"`
}

func (CardSummary) TableName() string {
	return "card_view"
}
