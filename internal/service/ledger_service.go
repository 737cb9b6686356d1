package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/metrics"
	"cardpay/internal/model"
	"cardpay/internal/repository"

	"github.com/google/uuid"
)

// LedgerService 账户余额账本
//
// 每个账户是一个事件溯源实体。授权、请款、撤销都先检查当前状态再决定是否产生事件，
// 重复请求直接返回之前的结果，不会重复扣减。
type LedgerService struct {
	entity *eventSourced[model.AccountState]
	logger *slog.Logger
}

// NewLedgerService 创建账本服务，账户事件会写入发件箱发布到 topic
func NewLedgerService(journal repository.Journal, locker lock.Locker, topic string, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		entity: &eventSourced[model.AccountState]{
			journal:    journal,
			locker:     locker,
			entityType: model.EntityTypeAccount,
			decode:     model.DecodeAccountEvent,
			apply:      model.AccountState.Apply,
			outbox:     publicAccountEvents(topic),
		},
		logger: logger.With("component", "ledger"),
	}
}

func publicAccountEvents(topic string) outboxFunc {
	return func(accountID string, records []model.EventRecord, events []model.Event) ([]model.OutboxMessage, error) {
		msgs := make([]model.OutboxMessage, 0, len(events))
		for i, ev := range events {
			pub, ok := model.NewPublicAccountEvent(records[i].EventID, accountID, ev)
			if !ok {
				continue
			}
			payload, err := json.Marshal(pub)
			if err != nil {
				return nil, fmt.Errorf("encode public event: %w", err)
			}
			msgs = append(msgs, model.OutboxMessage{
				MessageKey: accountID,
				Topic:      topic,
				Payload:    string(payload),
				Status:     model.OutboxStatusPending,
			})
		}
		return msgs, nil
	}
}

// CreateAccount 首次创建时产生 Created 事件，之后的调用原样返回已有账户
func (s *LedgerService) CreateAccount(ctx context.Context, accountID string, initialBalance int64) (*model.AccountState, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}

	created := false
	_, state, err := execute(ctx, s.entity, accountID, func(st model.AccountState) (struct{}, []model.Event) {
		if !st.IsEmpty() {
			return struct{}{}, nil
		}
		created = true
		return struct{}{}, []model.Event{model.AccountCreated{AccountID: accountID, InitialBalance: initialBalance}}
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("account created", "account_id", accountID, "initial_balance", initialBalance)
	}
	return &state, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*model.AccountState, error) {
	state, _, err := s.entity.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if state.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return &state, nil
}

// Authorize 冻结可用余额
func (s *LedgerService) Authorize(ctx context.Context, accountID, transactionID string, amount int64) (model.AuthorizeResponse, error) {
	if amount <= 0 {
		return model.AuthorizeResponse{}, ErrInvalidAmount
	}

	resp, _, err := execute(ctx, s.entity, accountID, func(st model.AccountState) (model.AuthorizeResponse, []model.Event) {
		if st.IsEmpty() {
			return model.AuthorizeDeclined(model.AuthStatusAccountNotFound), nil
		}
		// 重复授权：返回已有授权码
		if auth, ok := st.FindAuthorization(transactionID); ok {
			return model.AuthorizeOK(auth.AuthCode), nil
		}
		if !st.HasAvailable(amount) {
			return model.AuthorizeDeclined(model.AuthStatusInsufficientFunds), nil
		}
		authCode := uuid.NewString()
		return model.AuthorizeOK(authCode), []model.Event{
			model.TransAuthorisationAdded{TransactionID: transactionID, Amount: amount, AuthCode: authCode},
		}
	})
	if err != nil {
		return model.AuthorizeResponse{}, err
	}

	metrics.LedgerCommands.WithLabelValues("authorize", string(resp.AuthResult), string(resp.AuthStatus)).Inc()
	s.logger.Info("authorize handled",
		"account_id", accountID,
		"transaction_id", transactionID,
		"amount", amount,
		"result", resp.AuthResult,
		"status", resp.AuthStatus,
	)
	return resp, nil
}

// Capture 把授权转为实际扣款
func (s *LedgerService) Capture(ctx context.Context, accountID, transactionID string) (model.CaptureResponse, error) {
	resp, _, err := execute(ctx, s.entity, accountID, func(st model.AccountState) (model.CaptureResponse, []model.Event) {
		if st.IsEmpty() {
			return model.CaptureDeclined(model.CaptureStatusAccountNotFound), nil
		}
		auth, ok := st.FindAuthorization(transactionID)
		if !ok {
			return model.CaptureDeclined(model.CaptureStatusTransactionNotFound), nil
		}
		return model.CaptureOK(), []model.Event{
			model.TransCaptureAdded{TransactionID: transactionID, Amount: auth.Amount},
		}
	})
	if err != nil {
		return model.CaptureResponse{}, err
	}

	metrics.LedgerCommands.WithLabelValues("capture", string(resp.CaptureResult), string(resp.CaptureStatus)).Inc()
	s.logger.Info("capture handled",
		"account_id", accountID,
		"transaction_id", transactionID,
		"result", resp.CaptureResult,
		"status", resp.CaptureStatus,
	)
	return resp, nil
}

// Cancel 释放授权，不影响入账余额
func (s *LedgerService) Cancel(ctx context.Context, accountID, transactionID string) (model.CancelResponse, error) {
	resp, _, err := execute(ctx, s.entity, accountID, func(st model.AccountState) (model.CancelResponse, []model.Event) {
		if st.IsEmpty() {
			return model.CancelDeclined(model.CancelStatusAccountNotFound), nil
		}
		auth, ok := st.FindAuthorization(transactionID)
		if !ok {
			return model.CancelDeclined(model.CancelStatusTransactionNotFound), nil
		}
		return model.CancelOK(), []model.Event{
			model.TransCancelAdded{TransactionID: transactionID, Amount: auth.Amount},
		}
	})
	if err != nil {
		return model.CancelResponse{}, err
	}

	metrics.LedgerCommands.WithLabelValues("cancel", string(resp.CancelResult), string(resp.CancelStatus)).Inc()
	s.logger.Info("cancel handled",
		"account_id", accountID,
		"transaction_id", transactionID,
		"result", resp.CancelResult,
		"status", resp.CancelStatus,
	)
	return resp, nil
}
