package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SagaStep 交易流程所处步骤。
// 只表示流程走到了哪一步，不表示该步的结果：请款被拒绝后同样进入 captured，
// 结果看 CaptureResult / CancelResult。
type SagaStep string

const (
	StepValidatingCard     SagaStep = "validating_card"
	StepAuthorizing        SagaStep = "authorizing"
	StepAwaitingSettlement SagaStep = "awaiting_settlement"
	StepCapturing          SagaStep = "capturing"
	StepCanceling          SagaStep = "canceling"
	StepDeclined           SagaStep = "declined"
	StepCaptured           SagaStep = "captured"
	StepCanceled           SagaStep = "canceled"
)

// InFlight 是否处于需要执行外部调用的内部步骤
func (s SagaStep) InFlight() bool {
	switch s {
	case StepValidatingCard, StepAuthorizing, StepCapturing, StepCanceling:
		return true
	}
	return false
}

func (s SagaStep) Terminal() bool {
	return s == StepDeclined || s == StepCaptured || s == StepCanceled
}

// InFlightSteps 恢复任务需要扫描的步骤
var InFlightSteps = []SagaStep{StepValidatingCard, StepAuthorizing, StepCapturing, StepCanceling}

type CardData struct {
	CardPan        string `json:"card_pan"`
	CardExpiryDate string `json:"card_expiry_date"`
	CardCvv        string `json:"card_cvv"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// TransactionState 交易流程状态，每一步之后整体持久化。
// 结果字段为空表示流程尚未走到对应步骤。
type TransactionState struct {
	IdempotencyKey string        `json:"idempotency_key"`
	TransactionID  string        `json:"transaction_id"`
	CardData       CardData      `json:"card_data"`
	AccountID      string        `json:"account_id"`
	Step           SagaStep      `json:"step"`
	AuthCode       string        `json:"auth_code,omitempty"`
	AuthResult     AuthResult    `json:"auth_result,omitempty"`
	AuthStatus     AuthStatus    `json:"auth_status,omitempty"`
	CaptureResult  CaptureResult `json:"capture_result,omitempty"`
	CaptureStatus  CaptureStatus `json:"capture_status,omitempty"`
	CancelResult   CancelResult  `json:"cancel_result,omitempty"`
	CancelStatus   CancelStatus  `json:"cancel_status,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (s TransactionState) IsEmpty() bool {
	return s.IdempotencyKey == ""
}

func (s TransactionState) IsAuthorised() bool {
	return s.AuthResult == AuthResultAuthorised
}

func (s TransactionState) IsCaptured() bool {
	return s.CaptureResult == CaptureResultCaptured
}

func (s TransactionState) IsCanceled() bool {
	return s.CancelResult == CancelResultCanceled
}

// ============================================================================
// 状态迁移（纯函数，给定当前状态和外部调用结果得到下一状态）
// ============================================================================

func NewTransactionState(idempotencyKey, transactionID string, card CardData) TransactionState {
	return TransactionState{
		IdempotencyKey: idempotencyKey,
		TransactionID:  transactionID,
		CardData:       card,
		Step:           StepValidatingCard,
	}
}

func (s TransactionState) WithCardValidated(accountID string) TransactionState {
	s.AccountID = accountID
	s.Step = StepAuthorizing
	return s
}

func (s TransactionState) WithCardRejected() TransactionState {
	s.AuthResult = AuthResultDeclined
	s.AuthStatus = AuthStatusCardNotFound
	s.Step = StepDeclined
	return s
}

func (s TransactionState) WithAuthorization(resp AuthorizeResponse) TransactionState {
	s.AuthCode = resp.AuthCode
	s.AuthResult = resp.AuthResult
	s.AuthStatus = resp.AuthStatus
	if resp.AuthResult == AuthResultAuthorised {
		s.Step = StepAwaitingSettlement
	} else {
		s.Step = StepDeclined
	}
	return s
}

func (s TransactionState) WithStep(step SagaStep) TransactionState {
	s.Step = step
	return s
}

// WithCapture 记录请款调用的应答；无论成功与否，请款步骤都已执行完
func (s TransactionState) WithCapture(resp CaptureResponse) TransactionState {
	s.CaptureResult = resp.CaptureResult
	s.CaptureStatus = resp.CaptureStatus
	s.Step = StepCaptured
	return s
}

// WithCancel 同 WithCapture
func (s TransactionState) WithCancel(resp CancelResponse) TransactionState {
	s.CancelResult = resp.CancelResult
	s.CancelStatus = resp.CancelStatus
	s.Step = StepCanceled
	return s
}

// ============================================================================
// 交易流程事件：每次状态变更记录一次完整快照，当前状态 = 最后一个快照
// ============================================================================

const EventTransactionStateChanged = "TransactionStateChanged"

type TransactionStateChanged struct {
	State TransactionState `json:"state"`
}

func (TransactionStateChanged) EventType() string { return EventTransactionStateChanged }

func (s TransactionState) Apply(event Event) TransactionState {
	if e, ok := event.(TransactionStateChanged); ok {
		return e.State
	}
	return s
}

func DecodeTransactionEvent(eventType, payload string) (Event, error) {
	if eventType != EventTransactionStateChanged {
		return nil, fmt.Errorf("unknown transaction event type %q", eventType)
	}
	var e TransactionStateChanged
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return e, nil
}

// ============================================================================
// 按账户查询的交易视图
// ============================================================================

// NotApplicable 流程没有走到的结果对外展示为 N/A
const NotApplicable = "N/A"

// TransactionIndexRow 交易视图表，每个幂等键一行。Step 只是流程步骤，结果看各 Result 列
type TransactionIndexRow struct {
	IdempotencyKey string    `gorm:"type:varchar(128);primaryKey" json:"idempotency_key"`
	TransactionID  string    `gorm:"type:varchar(128);not null" json:"transaction_id"`
	AccountID      string    `gorm:"type:varchar(128);index;not null" json:"account_id"`
	Step           string    `gorm:"type:varchar(32);index;not null" json:"step"`
	AuthResult     string    `gorm:"type:varchar(20)" json:"auth_result"`
	AuthStatus     string    `gorm:"type:varchar(32)" json:"auth_status"`
	CaptureResult  string    `gorm:"type:varchar(20)" json:"capture_result"`
	CaptureStatus  string    `gorm:"type:varchar(32)" json:"capture_status"`
	CancelResult   string    `gorm:"type:varchar(20)" json:"cancel_result"`
	CancelStatus   string    `gorm:"type:varchar(32)" json:"cancel_status"`
	UpdatedAt      time.Time `gorm:"index" json:"updated_at"`
}

func (TransactionIndexRow) TableName() string {
	return "transaction_index"
}

// TransactionSummary 对外返回的交易摘要
type TransactionSummary struct {
	IdempotencyKey string `json:"idempotency_key"`
	TransactionID  string `json:"transaction_id"`
	AccountID      string `json:"account_id"`
	AuthResult     string `json:"auth_result"`
	AuthStatus     string `json:"auth_status"`
	CaptureResult  string `json:"capture_result"`
	CaptureStatus  string `json:"capture_status"`
	CancelResult   string `json:"cancel_result"`
	CancelStatus   string `json:"cancel_status"`
}

func orNA(v string) string {
	if v == "" {
		return NotApplicable
	}
	return v
}

func (r TransactionIndexRow) Summary() TransactionSummary {
	return TransactionSummary{
		IdempotencyKey: r.IdempotencyKey,
		TransactionID:  r.TransactionID,
		AccountID:      r.AccountID,
		AuthResult:     orNA(r.AuthResult),
		AuthStatus:     orNA(r.AuthStatus),
		CaptureResult:  orNA(r.CaptureResult),
		CaptureStatus:  orNA(r.CaptureStatus),
		CancelResult:   orNA(r.CancelResult),
		CancelStatus:   orNA(r.CancelStatus),
	}
}

func NewTransactionIndexRow(s TransactionState) TransactionIndexRow {
	return TransactionIndexRow{
		IdempotencyKey: s.IdempotencyKey,
		TransactionID:  s.TransactionID,
		AccountID:      s.AccountID,
		Step:           string(s.Step),
		AuthResult:     string(s.AuthResult),
		AuthStatus:     string(s.AuthStatus),
		CaptureResult:  string(s.CaptureResult),
		CaptureStatus:  string(s.CaptureStatus),
		CancelResult:   string(s.CancelResult),
		CancelStatus:   string(s.CancelStatus),
		UpdatedAt:      s.UpdatedAt,
	}
}
