package model

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// 账户余额状态机
// ============================================================================
//
// 状态只由事件折叠得到：
//   Created                  -> 初始化，可用余额 = 入账余额 = 初始余额
//   TransAuthorisationAdded  -> 新增授权，可用余额 - amount
//   TransCaptureAdded        -> 移除授权，入账余额 - amount
//   TransCancelAdded         -> 移除授权，可用余额 + amount
//
// ============================================================================

// AccountState 账户状态，AccountID 为空表示账户不存在
type AccountState struct {
	AccountID        string          `json:"account_id"`
	AvailableBalance int64           `json:"available_balance"`
	PostedBalance    int64           `json:"posted_balance"`
	Authorizations   []Authorization `json:"authorizations"`
}

// Authorization 一笔未结算的授权（冻结）
type Authorization struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	AuthCode      string `json:"auth_code"`
}

func (s AccountState) IsEmpty() bool {
	return s.AccountID == ""
}

func (s AccountState) HasAvailable(amount int64) bool {
	return s.AvailableBalance >= amount
}

func (s AccountState) FindAuthorization(transactionID string) (Authorization, bool) {
	for _, a := range s.Authorizations {
		if a.TransactionID == transactionID {
			return a, true
		}
	}
	return Authorization{}, false
}

func (s AccountState) withoutAuthorization(transactionID string) []Authorization {
	out := make([]Authorization, 0, len(s.Authorizations))
	for _, a := range s.Authorizations {
		if a.TransactionID != transactionID {
			out = append(out, a)
		}
	}
	return out
}

// Apply 折叠一个账户事件。
// 请款/撤销事件对应的授权必然存在，命令处理时已经校验过。
func (s AccountState) Apply(event Event) AccountState {
	switch e := event.(type) {
	case AccountCreated:
		return AccountState{
			AccountID:        e.AccountID,
			AvailableBalance: e.InitialBalance,
			PostedBalance:    e.InitialBalance,
			Authorizations:   []Authorization{},
		}
	case TransAuthorisationAdded:
		auths := make([]Authorization, 0, len(s.Authorizations)+1)
		auths = append(auths, s.Authorizations...)
		auths = append(auths, Authorization{TransactionID: e.TransactionID, Amount: e.Amount, AuthCode: e.AuthCode})
		s.Authorizations = auths
		s.AvailableBalance -= e.Amount
		return s
	case TransCaptureAdded:
		auth, _ := s.FindAuthorization(e.TransactionID)
		s.Authorizations = s.withoutAuthorization(e.TransactionID)
		s.PostedBalance -= auth.Amount
		return s
	case TransCancelAdded:
		auth, _ := s.FindAuthorization(e.TransactionID)
		s.Authorizations = s.withoutAuthorization(e.TransactionID)
		s.AvailableBalance += auth.Amount
		return s
	default:
		return s
	}
}

// ============================================================================
// 账户事件
// ============================================================================

const (
	EventAccountCreated          = "AccountCreated"
	EventTransAuthorisationAdded = "TransAuthorisationAdded"
	EventTransCaptureAdded       = "TransCaptureAdded"
	EventTransCancelAdded        = "TransCancelAdded"
)

type AccountCreated struct {
	AccountID      string `json:"account_id"`
	InitialBalance int64  `json:"initial_balance"`
}

type TransAuthorisationAdded struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	AuthCode      string `json:"auth_code"`
}

type TransCaptureAdded struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

type TransCancelAdded struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

func (AccountCreated) EventType() string          { return EventAccountCreated }
func (TransAuthorisationAdded) EventType() string { return EventTransAuthorisationAdded }
func (TransCaptureAdded) EventType() string       { return EventTransCaptureAdded }
func (TransCancelAdded) EventType() string        { return EventTransCancelAdded }

// DecodeAccountEvent 从事件日志记录还原账户事件
func DecodeAccountEvent(eventType, payload string) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case EventAccountCreated:
		var e AccountCreated
		err = json.Unmarshal([]byte(payload), &e)
		event = e
	case EventTransAuthorisationAdded:
		var e TransAuthorisationAdded
		err = json.Unmarshal([]byte(payload), &e)
		event = e
	case EventTransCaptureAdded:
		var e TransCaptureAdded
		err = json.Unmarshal([]byte(payload), &e)
		event = e
	case EventTransCancelAdded:
		var e TransCancelAdded
		err = json.Unmarshal([]byte(payload), &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown account event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return event, nil
}

// AccountSummary 账户列表视图。LastSeq 记录已应用的最后一个事件序号，重复投递时跳过。
type AccountSummary struct {
	AccountID        string `gorm:"type:varchar(128);primaryKey" json:"account_id"`
	AvailableBalance int64  `gorm:"not null" json:"available_balance"`
	PostedBalance    int64  `gorm:"not null" json:"posted_balance"`
	LastSeq          int64  `gorm:"not null;default:0" json:"-"`
}

func (AccountSummary) TableName() string {
	return "account_view"
}

// AccountExpenditure 账户收支视图。
// MoneyIn 为开户余额；MoneyOut 为授权占用的金额，撤销时退回，请款不改变。
type AccountExpenditure struct {
	AccountID string `gorm:"type:varchar(128);primaryKey" json:"account_id"`
	MoneyIn   int64  `gorm:"not null" json:"money_in"`
	MoneyOut  int64  `gorm:"not null" json:"money_out"`
	LastSeq   int64  `gorm:"not null;default:0" json:"-"`
}

func (AccountExpenditure) TableName() string {
	return "account_expenditure_view"
}
